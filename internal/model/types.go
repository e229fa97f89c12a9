package model

import (
	"encoding/json"
	"fmt"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is inside the WGS84 coordinate ranges.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// LocationFix is a single GPS sample. Optional quality fields are pointers:
// nil means the source did not report them. A fix is immutable once produced.
type LocationFix struct {
	Coord            GeoPoint `json:"coord"`
	AccuracyM        *float64 `json:"accuracyM,omitempty"`
	AltitudeM        *float64 `json:"altitudeM,omitempty"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracyM,omitempty"`
	HeadingDeg       *float64 `json:"headingDeg,omitempty"` // 0=north, [0,360)
	SpeedMps         *float64 `json:"speedMps,omitempty"`
	TimestampMs      int64    `json:"timestampMs"` // milliseconds since epoch
}

// Time returns the fix timestamp as a time.Time.
func (f LocationFix) Time() time.Time { return time.UnixMilli(f.TimestampMs) }

// Validate rejects fixes outside the coordinate invariant.
func (f LocationFix) Validate() error {
	if !f.Coord.Valid() {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidCoordinate, f.Coord.Lat, f.Coord.Lng)
	}
	return nil
}

// PriorityClass is the delivery service level of a waypoint.
type PriorityClass string

const (
	PriorityExpress  PriorityClass = "express"
	PrioritySameDay  PriorityClass = "same_day"
	PriorityNextDay  PriorityClass = "next_day"
	PriorityStandard PriorityClass = "standard"
)

// Waypoint is one stop to visit, derived from a caller-supplied delivery
// record. Waypoints are never mutated in place; a change produces a new one.
type Waypoint struct {
	DeliveryID string        `json:"deliveryId"`
	Address    string        `json:"address,omitempty"`
	Coord      GeoPoint      `json:"coord"`
	DwellSec   int           `json:"dwellSec,omitempty"`
	Priority   PriorityClass `json:"priority,omitempty"`
	Status     string        `json:"status,omitempty"`
	Deadline   *time.Time    `json:"deadline,omitempty"`
}

// RouteSegment is the directed hop between two coordinates. Segments are
// derived from their route and never persisted independently.
type RouteSegment struct {
	From         GeoPoint `json:"from"`
	To           GeoPoint `json:"to"`
	DistanceM    float64  `json:"distanceM"`
	DurationSec  float64  `json:"durationSec"`
	Instructions []string `json:"instructions,omitempty"`
}

// VehicleType selects the fixed average-speed model used for durations.
type VehicleType string

const (
	VehicleCar        VehicleType = "car"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleBicycle    VehicleType = "bicycle"
	VehicleWalking    VehicleType = "walking"
)

// SpeedKph returns the model speed for the vehicle type. Unknown types fall
// back to car.
func (v VehicleType) SpeedKph() float64 {
	switch v {
	case VehicleMotorcycle:
		return 35
	case VehicleBicycle:
		return 15
	case VehicleWalking:
		return 5
	default:
		return 40
	}
}

// OptimizedRoute is an ordered visitation of waypoints plus the segments
// connecting them. Immutable once produced; re-optimization creates a new
// route with a new ID.
type OptimizedRoute struct {
	ID          string         `json:"id"`
	Strategy    string         `json:"strategy"`
	Waypoints   []Waypoint     `json:"waypoints"`
	Segments    []RouteSegment `json:"segments"`
	DistanceM   float64        `json:"distanceM"`
	DurationSec float64        `json:"durationSec"`
	Score       float64        `json:"score"` // lower is better
	VehicleType VehicleType    `json:"vehicleType"`
	CreatedAtMs int64          `json:"createdAtMs"`
}

// GeofenceCategory classifies a boundary.
type GeofenceCategory string

const (
	GeofencePickup     GeofenceCategory = "pickup"
	GeofenceDelivery   GeofenceCategory = "delivery"
	GeofenceHub        GeofenceCategory = "hub"
	GeofenceRestricted GeofenceCategory = "restricted"
)

// GeofenceBoundary is a named circular region. Boundaries are caller-managed;
// the evaluator only holds them in its active set.
type GeofenceBoundary struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Category GeofenceCategory  `json:"category,omitempty"`
	Center   GeoPoint          `json:"center"`
	RadiusM  float64           `json:"radiusM"`
	Metadata map[string]string `json:"metadata,omitempty"` // e.g. deliveryId, customer
}

// TrackingConfig tunes fix acquisition and filtering. It is applied at
// tracker start; changing it mid-session requires stop/restart.
// On the wire (JSON and YAML) timeout, maximumAge, and timeFilter are
// millisecond integers, like timestampMs on a fix.
type TrackingConfig struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
	DistanceFilterM    float64
	TimeFilter         time.Duration
	BackgroundTracking bool
	HistoryCapacity    int
}

// trackingConfigWire is the encoded form with durations in milliseconds.
type trackingConfigWire struct {
	EnableHighAccuracy bool    `json:"enableHighAccuracy" yaml:"enableHighAccuracy"`
	TimeoutMs          int64   `json:"timeout" yaml:"timeout"`
	MaximumAgeMs       int64   `json:"maximumAge" yaml:"maximumAge"`
	DistanceFilterM    float64 `json:"distanceFilterM" yaml:"distanceFilterM"`
	TimeFilterMs       int64   `json:"timeFilter" yaml:"timeFilter"`
	BackgroundTracking bool    `json:"backgroundTracking" yaml:"backgroundTracking"`
	HistoryCapacity    int     `json:"historyCapacity" yaml:"historyCapacity"`
}

func (c TrackingConfig) wire() trackingConfigWire {
	return trackingConfigWire{
		EnableHighAccuracy: c.EnableHighAccuracy,
		TimeoutMs:          c.Timeout.Milliseconds(),
		MaximumAgeMs:       c.MaximumAge.Milliseconds(),
		DistanceFilterM:    c.DistanceFilterM,
		TimeFilterMs:       c.TimeFilter.Milliseconds(),
		BackgroundTracking: c.BackgroundTracking,
		HistoryCapacity:    c.HistoryCapacity,
	}
}

func (c *TrackingConfig) fromWire(w trackingConfigWire) {
	c.EnableHighAccuracy = w.EnableHighAccuracy
	c.Timeout = time.Duration(w.TimeoutMs) * time.Millisecond
	c.MaximumAge = time.Duration(w.MaximumAgeMs) * time.Millisecond
	c.DistanceFilterM = w.DistanceFilterM
	c.TimeFilter = time.Duration(w.TimeFilterMs) * time.Millisecond
	c.BackgroundTracking = w.BackgroundTracking
	c.HistoryCapacity = w.HistoryCapacity
}

func (c TrackingConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.wire())
}

// UnmarshalJSON decodes over the current values so partial documents keep
// unmentioned fields (Load seeds defaults before decoding).
func (c *TrackingConfig) UnmarshalJSON(data []byte) error {
	w := c.wire()
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.fromWire(w)
	return nil
}

func (c TrackingConfig) MarshalYAML() (any, error) {
	return c.wire(), nil
}

func (c *TrackingConfig) UnmarshalYAML(value *yaml.Node) error {
	w := c.wire()
	if err := value.Decode(&w); err != nil {
		return err
	}
	c.fromWire(w)
	return nil
}

// DefaultTrackingConfig mirrors the driver-app defaults.
func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		EnableHighAccuracy: true,
		Timeout:            15 * time.Second,
		MaximumAge:         10 * time.Second,
		DistanceFilterM:    10,
		TimeFilter:         5 * time.Second,
		HistoryCapacity:    50,
	}
}

// ProgressSnapshot summarizes route progress against a live fix.
type ProgressSnapshot struct {
	CompletedWaypoints   int     `json:"completedWaypoints"`
	TotalWaypoints       int     `json:"totalWaypoints"`
	RemainingDistanceM   float64 `json:"remainingDistanceM"`
	RemainingTimeSeconds float64 `json:"remainingTimeSeconds"`
}

// DeliveryIn is a caller-supplied delivery record, mapped 1:1 into a Waypoint.
type DeliveryIn struct {
	ID       string        `json:"id"`
	Address  string        `json:"address,omitempty"`
	Lat      float64       `json:"lat"`
	Lng      float64       `json:"lng"`
	DwellSec int           `json:"dwellSec,omitempty"`
	Priority PriorityClass `json:"priority,omitempty"`
	Status   string        `json:"status,omitempty"`
	Deadline *time.Time    `json:"deadline,omitempty"`
}

// Waypoint converts the delivery record into an immutable Waypoint.
func (d DeliveryIn) Waypoint() Waypoint {
	return Waypoint{
		DeliveryID: d.ID,
		Address:    d.Address,
		Coord:      GeoPoint{Lat: d.Lat, Lng: d.Lng},
		DwellSec:   d.DwellSec,
		Priority:   d.Priority,
		Status:     d.Status,
		Deadline:   d.Deadline,
	}
}

// TrackingSession binds a tracker lifecycle to an optional route.
type TrackingSession struct {
	ID        string         `json:"id"`
	RouteID   string         `json:"routeId,omitempty"`
	DriverID  string         `json:"driverId,omitempty"`
	Config    TrackingConfig `json:"config"`
	StartedAt time.Time      `json:"startedAt"`
	ClosedAt  *time.Time     `json:"closedAt,omitempty"`
}

// SubscriptionRequest registers an external event sink.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// Subscription is a registered event sink.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
