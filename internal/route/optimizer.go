// Package route turns an unordered set of delivery waypoints into candidate
// visitation orders with distance and time estimates.
package route

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"drivenav/internal/geo"
	"drivenav/internal/model"
)

// Strategy names for the candidate orderings.
const (
	StrategyOriginal        = "original"
	StrategyNearestTime     = "nearest_time"
	StrategyNearestDistance = "nearest_distance"
	StrategyPriority        = "priority"
)

// Optimizer produces OptimizedRoutes from waypoint sets. The zero value is
// usable; Policy falls back to DefaultPriorityPolicy.
type Optimizer struct {
	Policy *PriorityPolicy
}

// Optimize returns the default route: nearest-neighbor by distance for three
// or more waypoints, the given order for one or two. Deterministic for
// identical inputs; nearest-neighbor ties break on input order.
func (o *Optimizer) Optimize(waypoints []model.Waypoint, start model.GeoPoint, vehicle model.VehicleType) (model.OptimizedRoute, error) {
	if err := validate(waypoints, start); err != nil {
		return model.OptimizedRoute{}, err
	}
	if len(waypoints) <= 2 {
		return buildRoute(StrategyOriginal, identityOrder(len(waypoints)), waypoints, start, vehicle), nil
	}
	order := nearestNeighborOrder(waypoints, start, distanceCost(vehicle))
	return buildRoute(StrategyNearestDistance, order, waypoints, start, vehicle), nil
}

// Alternatives produces one route per strategy over the same waypoint set:
// input order, nearest-neighbor by travel time, nearest-neighbor by
// distance, and priority-weighted. The caller selects by lowest score or by
// explicit choice; Alternatives itself forces nothing.
func (o *Optimizer) Alternatives(waypoints []model.Waypoint, start model.GeoPoint, vehicle model.VehicleType) ([]model.OptimizedRoute, error) {
	if err := validate(waypoints, start); err != nil {
		return nil, err
	}
	policy := o.Policy
	if policy == nil {
		policy = &DefaultPriorityPolicy
	}
	orders := []struct {
		strategy string
		order    []int
	}{
		{StrategyOriginal, identityOrder(len(waypoints))},
		{StrategyNearestTime, nearestNeighborOrder(waypoints, start, timeCost(vehicle))},
		{StrategyNearestDistance, nearestNeighborOrder(waypoints, start, distanceCost(vehicle))},
		{StrategyPriority, priorityOrder(waypoints, policy, time.Now())},
	}
	routes := make([]model.OptimizedRoute, 0, len(orders))
	for _, c := range orders {
		routes = append(routes, buildRoute(c.strategy, c.order, waypoints, start, vehicle))
	}
	return routes, nil
}

// Best returns the index of the lowest-scoring route. Ties break on index
// order so the result is deterministic.
func Best(routes []model.OptimizedRoute) int {
	best := 0
	for i := 1; i < len(routes); i++ {
		if routes[i].Score < routes[best].Score {
			best = i
		}
	}
	return best
}

func validate(waypoints []model.Waypoint, start model.GeoPoint) error {
	if len(waypoints) == 0 {
		return model.ErrEmptyWaypoints
	}
	if !start.Valid() {
		return fmt.Errorf("%w: start lat=%v lng=%v", model.ErrInvalidCoordinate, start.Lat, start.Lng)
	}
	for _, w := range waypoints {
		if !w.Coord.Valid() {
			return fmt.Errorf("%w: delivery %s lat=%v lng=%v", model.ErrInvalidCoordinate, w.DeliveryID, w.Coord.Lat, w.Coord.Lng)
		}
	}
	return nil
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// costFunc scores the hop from cur to the candidate waypoint; lower is
// picked first.
type costFunc func(cur model.GeoPoint, w model.Waypoint) float64

func distanceCost(model.VehicleType) costFunc {
	return func(cur model.GeoPoint, w model.Waypoint) float64 {
		return geo.Distance(cur, w.Coord)
	}
}

// timeCost includes the candidate's dwell so long service stops are deferred
// when a quicker drop is equally close.
func timeCost(vehicle model.VehicleType) costFunc {
	speed := vehicle.SpeedKph() / 3.6
	return func(cur model.GeoPoint, w model.Waypoint) float64 {
		return geo.Distance(cur, w.Coord)/speed + float64(w.DwellSec)
	}
}

// nearestNeighborOrder greedily picks the cheapest unvisited waypoint from
// the current position. O(n²); fleets hand each driver a small batch, not
// the whole plan. Strict less-than keeps ties on the first candidate in
// input order.
func nearestNeighborOrder(waypoints []model.Waypoint, start model.GeoPoint, cost costFunc) []int {
	n := len(waypoints)
	visited := make([]bool, n)
	order := make([]int, 0, n)
	cur := start
	for len(order) < n {
		best := -1
		var bestCost float64
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			c := cost(cur, waypoints[i])
			if best == -1 || c < bestCost {
				best = i
				bestCost = c
			}
		}
		visited[best] = true
		order = append(order, best)
		cur = waypoints[best].Coord
	}
	return order
}

// buildRoute materializes segments and totals for an order.
func buildRoute(strategy string, order []int, waypoints []model.Waypoint, start model.GeoPoint, vehicle model.VehicleType) model.OptimizedRoute {
	speed := vehicle.SpeedKph() / 3.6
	ordered := make([]model.Waypoint, 0, len(order))
	segments := make([]model.RouteSegment, 0, len(order))
	var totalDist, totalDur float64
	cur := start
	for _, idx := range order {
		w := waypoints[idx]
		d := geo.Distance(cur, w.Coord)
		seg := model.RouteSegment{
			From:        cur,
			To:          w.Coord,
			DistanceM:   d,
			DurationSec: d / speed,
			Instructions: []string{
				fmt.Sprintf("Head %s for %s", geo.CompassDirection(geo.Bearing(cur, w.Coord)), geo.FormatDistance(d)),
				arriveInstruction(w),
			},
		}
		segments = append(segments, seg)
		ordered = append(ordered, w)
		totalDist += d
		totalDur += seg.DurationSec + float64(w.DwellSec)
		cur = w.Coord
	}
	return model.OptimizedRoute{
		ID:          uuid.New().String(),
		Strategy:    strategy,
		Waypoints:   ordered,
		Segments:    segments,
		DistanceM:   totalDist,
		DurationSec: totalDur,
		Score:       Score(totalDist, totalDur, len(order)),
		VehicleType: vehicle,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

func arriveInstruction(w model.Waypoint) string {
	if w.Address != "" {
		return "Arrive at " + w.Address
	}
	return "Arrive at delivery " + w.DeliveryID
}

// Score blends per-waypoint distance and time into a dimensionless,
// lower-is-better value. It ranks alternatives against each other; it makes
// no claim of global optimality.
func Score(distanceM, durationSec float64, waypointCount int) float64 {
	if waypointCount == 0 {
		return 0
	}
	n := float64(waypointCount)
	return distanceM/1000/n + durationSec/60/n
}

// priorityOrder sorts waypoints by descending priority score. The sort is
// stable so equal scores keep input order.
func priorityOrder(waypoints []model.Waypoint, policy *PriorityPolicy, now time.Time) []int {
	order := identityOrder(len(waypoints))
	sort.SliceStable(order, func(a, b int) bool {
		return policy.ScoreWaypoint(waypoints[order[a]], now) > policy.ScoreWaypoint(waypoints[order[b]], now)
	})
	return order
}
