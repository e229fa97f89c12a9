// Package geofence evaluates circular boundaries against tracked positions
// and reports containment transitions.
package geofence

import (
	"sync"

	"drivenav/internal/geo"
	"drivenav/internal/model"
)

// Transition describes the containment outcome for one boundary.
type Transition string

const (
	// Entered fires once when a fix moves a boundary from outside (or
	// unknown) to inside.
	Entered Transition = "entered"
	// Inside fires on every evaluation where the fix is inside, including
	// the one that also fires Entered.
	Inside Transition = "inside"
	// Outside fires on every evaluation where the fix is outside.
	Outside Transition = "outside"
)

// Event is the result of evaluating one boundary against one fix.
type Event struct {
	Boundary   model.GeofenceBoundary `json:"boundary"`
	Fix        model.LocationFix      `json:"fix"`
	Transition Transition             `json:"transition"`
	DistanceM  float64                `json:"distanceM"`
	IsInside   bool                   `json:"isInside"`
}

// Evaluator maintains the active boundary set. All mutation goes through one
// mutex; evaluation order across boundaries is unspecified.
type Evaluator struct {
	mu         sync.Mutex
	boundaries map[string]model.GeofenceBoundary
	wasInside  map[string]bool
}

// New constructs an Evaluator with no active boundaries.
func New() *Evaluator {
	return &Evaluator{
		boundaries: map[string]model.GeofenceBoundary{},
		wasInside:  map[string]bool{},
	}
}

// Add puts a boundary into the active set, replacing any boundary with the
// same id. Replacement resets prior containment.
func (e *Evaluator) Add(b model.GeofenceBoundary) {
	e.mu.Lock()
	e.boundaries[b.ID] = b
	delete(e.wasInside, b.ID)
	e.mu.Unlock()
}

// Remove drops a boundary from the active set. Unknown ids are a no-op.
func (e *Evaluator) Remove(id string) {
	e.mu.Lock()
	delete(e.boundaries, id)
	delete(e.wasInside, id)
	e.mu.Unlock()
}

// Boundaries returns a copy of the active set.
func (e *Evaluator) Boundaries() []model.GeofenceBoundary {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.GeofenceBoundary, 0, len(e.boundaries))
	for _, b := range e.boundaries {
		out = append(out, b)
	}
	return out
}

// Evaluate computes containment of the fix for every active boundary and
// returns the resulting events. An empty active set yields no events and no
// error. Inside-boundary evaluations emit Entered on the edge plus Inside on
// every evaluation; callers needing edge-triggered behavior key off Entered.
func (e *Evaluator) Evaluate(fix model.LocationFix) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var events []Event
	for id, b := range e.boundaries {
		d := geo.Distance(fix.Coord, b.Center)
		inside := d <= b.RadiusM
		if inside {
			if !e.wasInside[id] {
				events = append(events, Event{Boundary: b, Fix: fix, Transition: Entered, DistanceM: d, IsInside: true})
			}
			events = append(events, Event{Boundary: b, Fix: fix, Transition: Inside, DistanceM: d, IsInside: true})
		} else {
			events = append(events, Event{Boundary: b, Fix: fix, Transition: Outside, DistanceM: d, IsInside: false})
		}
		e.wasInside[id] = inside
	}
	return events
}
