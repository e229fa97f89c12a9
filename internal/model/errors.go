package model

import "errors"

// Error taxonomy for the engine. Acquisition-time errors are returned to the
// caller synchronously; continuous-tracking failures are only ever delivered
// through the tracker's error event.
var (
	// ErrUnsupported: the platform has no position source. Fatal, no retry.
	ErrUnsupported = errors.New("position source unsupported")
	// ErrPermissionDenied: access to the position source was denied.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrTimeout: fix acquisition exceeded TrackingConfig.Timeout.
	ErrTimeout = errors.New("location acquisition timed out")
	// ErrEmptyWaypoints: the optimizer was called with no stops.
	ErrEmptyWaypoints = errors.New("no waypoints to optimize")
	// ErrInvalidCoordinate: a coordinate outside WGS84 ranges. Rejected at
	// the boundary, never clamped.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// SourceError wraps a generic failure from the underlying position source
// during continuous tracking. Tracking continues unless the source itself
// stops emitting.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string { return "position source: " + e.Err.Error() }

func (e *SourceError) Unwrap() error { return e.Err }
