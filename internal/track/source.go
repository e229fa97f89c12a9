package track

import (
	"context"
	"sync"

	"drivenav/internal/model"
)

// Sample is one emission from a continuous position watch. Exactly one of
// Fix or Err is meaningful. Fatal marks an unrecoverable source failure
// (e.g. permission revoked mid-session).
type Sample struct {
	Fix   model.LocationFix
	Err   error
	Fatal bool
}

// PositionSource abstracts the platform position provider: a one-shot
// acquisition and a continuous watch. Watch registration returns a channel
// that closes when the context is cancelled or the source shuts down.
type PositionSource interface {
	Current(ctx context.Context, highAccuracy bool) (model.LocationFix, error)
	Watch(ctx context.Context, highAccuracy bool) (<-chan Sample, error)
}

// PushSource is a PositionSource fed by an external caller (HTTP or
// websocket ingest). Pushes are serialized through one channel so the
// tracker sees fixes in push order.
type PushSource struct {
	mu      sync.Mutex
	last    *model.LocationFix
	watch   chan Sample
	arrived chan struct{} // closed on first push
	once    sync.Once
}

// NewPushSource constructs a PushSource with a small delivery buffer.
func NewPushSource() *PushSource {
	return &PushSource{
		watch:   make(chan Sample, 64),
		arrived: make(chan struct{}),
	}
}

// Push delivers a fix to the watch channel. Fixes that would overflow the
// buffer are dropped rather than blocking the pusher.
func (s *PushSource) Push(fix model.LocationFix) {
	s.mu.Lock()
	f := fix
	s.last = &f
	s.mu.Unlock()
	s.once.Do(func() { close(s.arrived) })
	select {
	case s.watch <- Sample{Fix: fix}:
	default:
	}
}

// Fail delivers a source error to the watch channel.
func (s *PushSource) Fail(err error, fatal bool) {
	select {
	case s.watch <- Sample{Err: err, Fatal: fatal}:
	default:
	}
}

// Current returns the most recent pushed fix, waiting for the first push if
// none has arrived yet.
func (s *PushSource) Current(ctx context.Context, _ bool) (model.LocationFix, error) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last != nil {
		return *last, nil
	}
	select {
	case <-ctx.Done():
		return model.LocationFix{}, ctx.Err()
	case <-s.arrived:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.last, nil
}

// Watch returns the shared delivery channel. A PushSource supports a single
// concurrent watcher.
func (s *PushSource) Watch(ctx context.Context, _ bool) (<-chan Sample, error) {
	out := make(chan Sample, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case smp, ok := <-s.watch:
				if !ok {
					return
				}
				select {
				case out <- smp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
