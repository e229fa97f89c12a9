// Package track produces a filtered, ordered stream of location fixes from a
// continuous position source, with bounded history.
package track

import (
	"context"
	"errors"
	"sync"
	"time"

	"drivenav/internal/geo"
	"drivenav/internal/model"
)

// State is the tracker lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
	StateError    State = "error"
)

// Observer receives tracker events. Observers are invoked synchronously in
// registration order on the ingest path; a slow observer delays subsequent
// observers and the next fix.
type Observer interface {
	OnFix(fix model.LocationFix)
	OnError(err error)
	OnTrackingStarted()
	OnTrackingStopped()
}

// ObserverFuncs adapts plain functions to the Observer interface. Nil
// functions are skipped.
type ObserverFuncs struct {
	Fix     func(model.LocationFix)
	Err     func(error)
	Started func()
	Stopped func()
}

func (o ObserverFuncs) OnFix(fix model.LocationFix) {
	if o.Fix != nil {
		o.Fix(fix)
	}
}
func (o ObserverFuncs) OnError(err error) {
	if o.Err != nil {
		o.Err(err)
	}
}
func (o ObserverFuncs) OnTrackingStarted() {
	if o.Started != nil {
		o.Started()
	}
}
func (o ObserverFuncs) OnTrackingStopped() {
	if o.Stopped != nil {
		o.Stopped()
	}
}

// Tracker filters a continuous position stream and maintains bounded history.
// All mutable state is guarded by one mutex; observers are invoked outside
// the lock so Stop is safe to call from inside a handler.
type Tracker struct {
	source PositionSource

	mu        sync.Mutex
	state     State
	cfg       model.TrackingConfig
	gen       uint64 // bumped on every start/stop; stale callbacks are discarded
	cancel    context.CancelFunc
	history   *fixRing
	last      *model.LocationFix
	dropped   uint64
	observers []Observer
}

// New constructs an idle Tracker over the given source. A nil source yields
// ErrUnsupported from Start and Current.
func New(source PositionSource) *Tracker {
	return &Tracker{
		source:  source,
		state:   StateIdle,
		cfg:     model.DefaultTrackingConfig(),
		history: newFixRing(0),
	}
}

// Subscribe registers an observer. Observers registered while tracking see
// only events emitted after registration.
func (t *Tracker) Subscribe(o Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// History returns the accepted fixes retained so far, oldest first.
func (t *Tracker) History() []model.LocationFix {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.snapshot()
}

// Latest returns the most recently accepted fix, if any.
func (t *Tracker) Latest() (model.LocationFix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.latest()
}

// Dropped returns the number of fixes rejected by the filters so far.
func (t *Tracker) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Start begins continuous acquisition with the given config. Calling Start
// while already tracking is a no-op. Returns ErrUnsupported when no source
// exists and ErrPermissionDenied when the source refuses the watch.
func (t *Tracker) Start(cfg model.TrackingConfig) error {
	t.mu.Lock()
	if t.state == StateTracking {
		t.mu.Unlock()
		return nil
	}
	if t.source == nil {
		t.mu.Unlock()
		return model.ErrUnsupported
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := t.source.Watch(ctx, cfg.EnableHighAccuracy)
	if err != nil {
		cancel()
		t.mu.Unlock()
		return err
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = model.DefaultTrackingConfig().HistoryCapacity
	}
	t.cfg = cfg
	t.cancel = cancel
	t.gen++
	gen := t.gen
	t.state = StateTracking
	t.history = newFixRing(cfg.HistoryCapacity)
	t.last = nil
	t.dropped = 0
	obs := t.snapshotObservers()
	t.mu.Unlock()

	for _, o := range obs {
		o.OnTrackingStarted()
	}
	go t.run(gen, ch)
	return nil
}

// Stop cancels acquisition. Idempotent, and safe to call from inside an
// observer triggered by this tracker: no further OnFix fires afterwards,
// in-flight source callbacks are discarded.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.state != StateTracking {
		t.mu.Unlock()
		return
	}
	t.state = StateIdle
	t.gen++
	cancel := t.cancel
	t.cancel = nil
	obs := t.snapshotObservers()
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, o := range obs {
		o.OnTrackingStopped()
	}
}

// Current acquires a one-shot fix. A retained fix no older than
// cfg.MaximumAge is reused instead of hitting the source; otherwise the
// source call is bounded by cfg.Timeout and times out with ErrTimeout.
func (t *Tracker) Current(ctx context.Context) (model.LocationFix, error) {
	t.mu.Lock()
	cfg := t.cfg
	last := t.last
	t.mu.Unlock()
	if t.source == nil {
		return model.LocationFix{}, model.ErrUnsupported
	}
	if last != nil && cfg.MaximumAge > 0 && time.Since(last.Time()) <= cfg.MaximumAge {
		return *last, nil
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	fix, err := t.source.Current(ctx, cfg.EnableHighAccuracy)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.LocationFix{}, model.ErrTimeout
		}
		return model.LocationFix{}, err
	}
	if err := fix.Validate(); err != nil {
		return model.LocationFix{}, err
	}
	return fix, nil
}

func (t *Tracker) run(gen uint64, ch <-chan Sample) {
	for smp := range ch {
		if smp.Err != nil {
			t.handleSourceError(gen, smp.Err, smp.Fatal)
			if smp.Fatal {
				return
			}
			continue
		}
		t.ingest(gen, smp.Fix)
	}
	// Source stopped emitting on its own; settle back to Idle.
	t.mu.Lock()
	if t.gen != gen || t.state != StateTracking {
		t.mu.Unlock()
		return
	}
	t.state = StateIdle
	cancel := t.cancel
	t.cancel = nil
	obs := t.snapshotObservers()
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, o := range obs {
		o.OnTrackingStopped()
	}
}

// ingest applies the accept filters and fans an accepted fix out to
// observers. A fix is accepted when there is no previous accepted fix, or
// enough time elapsed, or it moved far enough; otherwise it is dropped, not
// queued.
func (t *Tracker) ingest(gen uint64, fix model.LocationFix) {
	if err := fix.Validate(); err != nil {
		t.mu.Lock()
		if t.gen != gen || t.state != StateTracking {
			t.mu.Unlock()
			return
		}
		t.dropped++
		obs := t.snapshotObservers()
		t.mu.Unlock()
		for _, o := range obs {
			o.OnError(err)
		}
		return
	}
	t.mu.Lock()
	if t.gen != gen || t.state != StateTracking {
		t.mu.Unlock()
		return
	}
	if t.last != nil {
		// Timestamps must be strictly increasing within a session.
		if fix.TimestampMs <= t.last.TimestampMs {
			t.dropped++
			t.mu.Unlock()
			return
		}
		elapsed := time.Duration(fix.TimestampMs-t.last.TimestampMs) * time.Millisecond
		dist := geo.Distance(t.last.Coord, fix.Coord)
		if elapsed < t.cfg.TimeFilter && dist < t.cfg.DistanceFilterM {
			t.dropped++
			t.mu.Unlock()
			return
		}
	}
	f := fix
	t.last = &f
	t.history.push(fix)
	obs := t.snapshotObservers()
	t.mu.Unlock()

	for _, o := range obs {
		o.OnFix(fix)
	}
}

func (t *Tracker) handleSourceError(gen uint64, err error, fatal bool) {
	t.mu.Lock()
	if t.gen != gen || t.state != StateTracking {
		t.mu.Unlock()
		return
	}
	var cancel context.CancelFunc
	if fatal {
		t.state = StateError
		t.gen++
		cancel = t.cancel
		t.cancel = nil
	}
	obs := t.snapshotObservers()
	t.mu.Unlock()

	for _, o := range obs {
		o.OnError(&model.SourceError{Err: err})
	}
	if fatal {
		if cancel != nil {
			cancel()
		}
		// Error is transient state: report, then settle to Idle.
		t.mu.Lock()
		t.state = StateIdle
		t.mu.Unlock()
		for _, o := range obs {
			o.OnTrackingStopped()
		}
	}
}

func (t *Tracker) snapshotObservers() []Observer {
	return append([]Observer(nil), t.observers...)
}
