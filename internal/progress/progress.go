// Package progress tracks a driver's advancement along an active route.
package progress

import (
	"sync"

	"drivenav/internal/geo"
	"drivenav/internal/geofence"
	"drivenav/internal/model"
)

// Tracker derives completion and remaining-work estimates for one route from
// live fixes. The completed count is monotonic: a driver who backtracks does
// not lose progress.
type Tracker struct {
	mu        sync.Mutex
	route     model.OptimizedRoute
	completed int
	arrived   map[string]bool // delivery id -> arrival recorded
}

// New binds a progress tracker to a route.
func New(route model.OptimizedRoute) *Tracker {
	return &Tracker{route: route, arrived: map[string]bool{}}
}

// Route returns the tracked route.
func (t *Tracker) Route() model.OptimizedRoute {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.route
}

// Update recomputes progress against the current fix. The waypoint nearest
// to the fix marks the frontier: everything before it counts as completed
// for display purposes, capped below by previous progress. Remaining
// distance and time sum the route segments from the nearest waypoint onward
// plus the partial leg from the fix to it.
func (t *Tracker) Update(fix model.LocationFix) model.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.route.Waypoints)
	if n == 0 {
		return model.ProgressSnapshot{}
	}

	nearest := 0
	nearestDist := geo.Distance(fix.Coord, t.route.Waypoints[0].Coord)
	for i := 1; i < n; i++ {
		if d := geo.Distance(fix.Coord, t.route.Waypoints[i].Coord); d < nearestDist {
			nearest = i
			nearestDist = d
		}
	}
	if nearest > t.completed {
		t.completed = nearest
	}

	speed := t.route.VehicleType.SpeedKph() / 3.6
	remainingDist := nearestDist
	remainingTime := nearestDist / speed
	for i := nearest; i < n; i++ {
		if i > nearest {
			seg := t.route.Segments[i]
			remainingDist += seg.DistanceM
			remainingTime += seg.DurationSec
		}
		remainingTime += float64(t.route.Waypoints[i].DwellSec)
	}
	return model.ProgressSnapshot{
		CompletedWaypoints:   t.completed,
		TotalWaypoints:       n,
		RemainingDistanceM:   remainingDist,
		RemainingTimeSeconds: remainingTime,
	}
}

// HandleGeofence records an arrival when an entered event carries a
// deliveryId matching a route waypoint, bumping the completed count up to
// that waypoint. The progress tracker does not own the geofences; the
// caller registers one boundary per waypoint and feeds entered events here.
func (t *Tracker) HandleGeofence(evt geofence.Event) bool {
	if evt.Transition != geofence.Entered {
		return false
	}
	deliveryID := evt.Boundary.Metadata["deliveryId"]
	if deliveryID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.arrived[deliveryID] {
		return false
	}
	for i, w := range t.route.Waypoints {
		if w.DeliveryID == deliveryID {
			t.arrived[deliveryID] = true
			if i+1 > t.completed {
				t.completed = i + 1
			}
			return true
		}
	}
	return false
}

// Completed returns the monotonic completed-waypoint count.
func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}
