package track

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"drivenav/internal/model"
)

// SimSource replays a fixed path of coordinates as a position source, paced
// by a rate limiter. Useful for local development and tests that need a
// continuously emitting source without real hardware.
type SimSource struct {
	path     []model.GeoPoint
	limiter  *rate.Limiter
	interval time.Duration
	loop     bool
}

// NewSimSource builds a source that emits one fix per interval along path.
// With loop set, playback wraps around indefinitely.
func NewSimSource(path []model.GeoPoint, interval time.Duration, loop bool) *SimSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &SimSource{
		path:     append([]model.GeoPoint(nil), path...),
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		loop:     loop,
	}
}

// Current returns the first path point stamped with the current time.
func (s *SimSource) Current(ctx context.Context, _ bool) (model.LocationFix, error) {
	if len(s.path) == 0 {
		return model.LocationFix{}, model.ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return model.LocationFix{}, err
	}
	return model.LocationFix{Coord: s.path[0], TimestampMs: time.Now().UnixMilli()}, nil
}

// Watch emits the path at the configured pace until the context is
// cancelled or playback ends.
func (s *SimSource) Watch(ctx context.Context, _ bool) (<-chan Sample, error) {
	if len(s.path) == 0 {
		return nil, model.ErrUnsupported
	}
	ch := make(chan Sample)
	go func() {
		defer close(ch)
		i := 0
		for {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			fix := model.LocationFix{Coord: s.path[i], TimestampMs: time.Now().UnixMilli()}
			select {
			case ch <- Sample{Fix: fix}:
			case <-ctx.Done():
				return
			}
			i++
			if i >= len(s.path) {
				if !s.loop {
					return
				}
				i = 0
			}
		}
	}()
	return ch, nil
}
