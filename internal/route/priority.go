package route

import (
	"time"

	"drivenav/internal/model"
)

// PriorityPolicy holds the weights used by the priority-weighted strategy.
// The numbers are a tuned policy table, not a law; callers may substitute
// their own.
type PriorityPolicy struct {
	Service map[model.PriorityClass]float64
	Status  map[string]float64
	// Deadline urgency bonuses.
	WithinHour  float64
	WithinTwo   float64
	ServiceBase float64 // weight for waypoints with no recognized class
}

// DefaultPriorityPolicy matches the driver-app defaults.
var DefaultPriorityPolicy = PriorityPolicy{
	Service: map[model.PriorityClass]float64{
		model.PriorityExpress:  10,
		model.PrioritySameDay:  8,
		model.PriorityNextDay:  5,
		model.PriorityStandard: 3,
	},
	Status: map[string]float64{
		"in_transit": 4,
		"picked_up":  3,
		"pending":    2,
	},
	WithinHour:  15,
	WithinTwo:   8,
	ServiceBase: 3,
}

// ScoreWaypoint combines service-type weight, status weight, and
// time-to-deadline urgency. Higher scores are visited earlier.
func (p *PriorityPolicy) ScoreWaypoint(w model.Waypoint, now time.Time) float64 {
	score, ok := p.Service[w.Priority]
	if !ok {
		score = p.ServiceBase
	}
	score += p.Status[w.Status]
	if w.Deadline != nil {
		switch until := w.Deadline.Sub(now); {
		case until <= time.Hour:
			score += p.WithinHour
		case until <= 2*time.Hour:
			score += p.WithinTwo
		}
	}
	return score
}
