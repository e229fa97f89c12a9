package route

import (
	"drivenav/internal/geo"
	"drivenav/internal/model"
)

// Refine2Opt applies a bounded 2-opt pass to a route's waypoint order and
// rebuilds the route when that shortens the path. The start anchor stays
// fixed. Deterministic: the scan order and the strict improvement threshold
// never depend on the clock.
func Refine2Opt(r model.OptimizedRoute, start model.GeoPoint, iterations int) model.OptimizedRoute {
	if iterations <= 0 {
		iterations = 1
	}
	n := len(r.Waypoints)
	if n < 3 {
		return r
	}
	best := identityOrder(n)
	bestDist := pathDistance(r.Waypoints, best, start)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := twoOptSwap(best, i, k)
				d := pathDistance(r.Waypoints, cand, start)
				if d+1e-3 < bestDist {
					best = cand
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	if bestDist+1e-3 >= r.DistanceM {
		return r
	}
	reordered := make([]model.Waypoint, n)
	for i, idx := range best {
		reordered[i] = r.Waypoints[idx]
	}
	out := buildRoute(r.Strategy+"+2opt", identityOrder(n), reordered, start, r.VehicleType)
	return out
}

func twoOptSwap(order []int, i, k int) []int {
	out := make([]int, len(order))
	copy(out, order[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = order[j]
		pos++
	}
	copy(out[pos:], order[k+1:])
	return out
}

func pathDistance(waypoints []model.Waypoint, order []int, start model.GeoPoint) float64 {
	total := 0.0
	cur := start
	for _, idx := range order {
		total += geo.Distance(cur, waypoints[idx].Coord)
		cur = waypoints[idx].Coord
	}
	return total
}
