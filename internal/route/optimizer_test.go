package route

import (
	"errors"
	"math"
	"testing"
	"time"

	"drivenav/internal/geo"
	"drivenav/internal/model"
)

func wp(id string, lat, lng float64) model.Waypoint {
	return model.Waypoint{DeliveryID: id, Coord: model.GeoPoint{Lat: lat, Lng: lng}}
}

func ids(r model.OptimizedRoute) []string {
	out := make([]string, len(r.Waypoints))
	for i, w := range r.Waypoints {
		out[i] = w.DeliveryID
	}
	return out
}

func TestOptimizeEmptyWaypoints(t *testing.T) {
	var o Optimizer
	if _, err := o.Optimize(nil, model.GeoPoint{}, model.VehicleCar); !errors.Is(err, model.ErrEmptyWaypoints) {
		t.Fatalf("want ErrEmptyWaypoints, got %v", err)
	}
}

func TestOptimizeInvalidCoordinate(t *testing.T) {
	var o Optimizer
	_, err := o.Optimize([]model.Waypoint{wp("d1", 95, 0)}, model.GeoPoint{}, model.VehicleCar)
	if !errors.Is(err, model.ErrInvalidCoordinate) {
		t.Fatalf("want ErrInvalidCoordinate, got %v", err)
	}
	_, err = o.Optimize([]model.Waypoint{wp("d1", 1, 1)}, model.GeoPoint{Lat: 0, Lng: 181}, model.VehicleCar)
	if !errors.Is(err, model.ErrInvalidCoordinate) {
		t.Fatalf("invalid start accepted: %v", err)
	}
}

func TestOptimizeOneOrTwoKeepsOrder(t *testing.T) {
	var o Optimizer
	start := model.GeoPoint{Lat: 25.2048, Lng: 55.2708}
	// d2 is nearer the start, but for two stops the given order is kept.
	r, err := o.Optimize([]model.Waypoint{wp("d1", 25.30, 55.40), wp("d2", 25.205, 55.271)}, start, model.VehicleCar)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	got := ids(r)
	if got[0] != "d1" || got[1] != "d2" {
		t.Fatalf("two-stop order changed: %v", got)
	}
}

func TestOptimizeNearestNeighborScenario(t *testing.T) {
	// Scenario used by the driver app integration tests.
	var o Optimizer
	start := model.GeoPoint{Lat: 25.2048, Lng: 55.2708}
	wps := []model.Waypoint{
		wp("a", 25.20, 55.27),
		wp("b", 25.21, 55.28),
		wp("c", 25.19, 55.26),
	}
	r, err := o.Optimize(wps, start, model.VehicleCar)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(r.Waypoints) != 3 {
		t.Fatalf("route has %d waypoints", len(r.Waypoints))
	}
	seen := map[string]int{}
	for _, w := range r.Waypoints {
		seen[w.DeliveryID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 1 {
			t.Fatalf("waypoint %s visited %d times", id, seen[id])
		}
	}
	// Total distance equals the sum of the consecutive great-circle legs.
	var want float64
	cur := start
	for _, w := range r.Waypoints {
		want += geo.Distance(cur, w.Coord)
		cur = w.Coord
	}
	if math.Abs(r.DistanceM-want) > 1e-9 {
		t.Fatalf("total distance %v, want %v", r.DistanceM, want)
	}
	if len(r.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(r.Segments))
	}
	if r.Score < 0 || math.IsInf(r.Score, 0) || math.IsNaN(r.Score) {
		t.Fatalf("score not finite and non-negative: %v", r.Score)
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	var o Optimizer
	start := model.GeoPoint{Lat: 25.2048, Lng: 55.2708}
	wps := []model.Waypoint{
		wp("a", 25.2001, 55.2703),
		wp("b", 25.2106, 55.2811),
		wp("c", 25.1899, 55.2602),
		wp("d", 25.2203, 55.2909),
	}
	r1, err := o.Optimize(wps, start, model.VehicleCar)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	r2, err := o.Optimize(wps, start, model.VehicleCar)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	for i := range r1.Waypoints {
		if r1.Waypoints[i].DeliveryID != r2.Waypoints[i].DeliveryID {
			t.Fatalf("order differs: %v vs %v", ids(r1), ids(r2))
		}
	}
	if r1.DistanceM != r2.DistanceM || r1.DurationSec != r2.DurationSec {
		t.Fatalf("totals differ: %v/%v vs %v/%v", r1.DistanceM, r1.DurationSec, r2.DistanceM, r2.DurationSec)
	}
	if r1.ID == r2.ID {
		t.Fatal("re-optimization must mint a new route id")
	}
}

func TestNearestNeighborTieBreaksOnInputOrder(t *testing.T) {
	start := model.GeoPoint{Lat: 0, Lng: 0}
	// b and a are equidistant from start; a comes first in the input.
	wps := []model.Waypoint{
		wp("a", 0, 1),
		wp("b", 1, 0),
		wp("c", 0, 2),
	}
	order := nearestNeighborOrder(wps, start, distanceCost(model.VehicleCar))
	if order[0] != 0 {
		t.Fatalf("tie not broken by input order: %v", order)
	}
}

func TestAlternativesAndBest(t *testing.T) {
	var o Optimizer
	start := model.GeoPoint{Lat: 25.2048, Lng: 55.2708}
	deadline := time.Now().Add(30 * time.Minute)
	wps := []model.Waypoint{
		{DeliveryID: "far-express", Coord: model.GeoPoint{Lat: 25.26, Lng: 55.33}, Priority: model.PriorityExpress, Deadline: &deadline},
		wp("near-1", 25.206, 55.272),
		wp("near-2", 25.208, 55.274),
	}
	routes, err := o.Alternatives(wps, start, model.VehicleCar)
	if err != nil {
		t.Fatalf("alternatives: %v", err)
	}
	if len(routes) != 4 {
		t.Fatalf("alternatives = %d, want 4", len(routes))
	}
	strategies := map[string]bool{}
	for _, r := range routes {
		strategies[r.Strategy] = true
		if len(r.Waypoints) != 3 {
			t.Fatalf("strategy %s dropped waypoints", r.Strategy)
		}
	}
	for _, s := range []string{StrategyOriginal, StrategyNearestTime, StrategyNearestDistance, StrategyPriority} {
		if !strategies[s] {
			t.Fatalf("missing strategy %s", s)
		}
	}
	// The urgent express stop leads the priority ordering.
	for _, r := range routes {
		if r.Strategy == StrategyPriority && r.Waypoints[0].DeliveryID != "far-express" {
			t.Fatalf("priority order: %v", ids(r))
		}
	}
	best := Best(routes)
	for i, r := range routes {
		if r.Score < routes[best].Score {
			t.Fatalf("route %d beats reported best", i)
		}
	}
}

func TestPriorityPolicyScoring(t *testing.T) {
	p := DefaultPriorityPolicy
	now := time.Now()
	in1h := now.Add(45 * time.Minute)
	in2h := now.Add(90 * time.Minute)
	later := now.Add(6 * time.Hour)

	urgent := model.Waypoint{Priority: model.PriorityStandard, Deadline: &in1h}
	soon := model.Waypoint{Priority: model.PriorityStandard, Deadline: &in2h}
	relaxed := model.Waypoint{Priority: model.PriorityStandard, Deadline: &later}
	if !(p.ScoreWaypoint(urgent, now) > p.ScoreWaypoint(soon, now) && p.ScoreWaypoint(soon, now) > p.ScoreWaypoint(relaxed, now)) {
		t.Fatal("deadline urgency ordering broken")
	}
	express := model.Waypoint{Priority: model.PriorityExpress}
	standard := model.Waypoint{Priority: model.PriorityStandard}
	if p.ScoreWaypoint(express, now) <= p.ScoreWaypoint(standard, now) {
		t.Fatal("express should outrank standard")
	}
}

func TestRefine2OptImprovesCrossedPath(t *testing.T) {
	start := model.GeoPoint{Lat: 0, Lng: 0}
	// Input order zig-zags; 2-opt should untangle it.
	wps := []model.Waypoint{
		wp("a", 0, 0.01),
		wp("b", 0, 0.03),
		wp("c", 0, 0.02),
		wp("d", 0, 0.04),
	}
	base := buildRoute(StrategyOriginal, identityOrder(len(wps)), wps, start, model.VehicleCar)
	refined := Refine2Opt(base, start, 10)
	if refined.DistanceM >= base.DistanceM {
		t.Fatalf("2-opt did not improve: %v >= %v", refined.DistanceM, base.DistanceM)
	}
	got := ids(refined)
	want := []string{"a", "c", "b", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("refined order %v, want %v", got, want)
		}
	}
}

func TestScore(t *testing.T) {
	// 10km and 30min across 5 stops: 2 + 6.
	if s := Score(10000, 1800, 5); math.Abs(s-8) > 1e-12 {
		t.Fatalf("score = %v, want 8", s)
	}
	if s := Score(0, 0, 0); s != 0 {
		t.Fatalf("score with zero waypoints = %v", s)
	}
}
