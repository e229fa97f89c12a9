package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"drivenav/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set. One mutex
// guards all maps.
type Memory struct {
	mu         sync.Mutex
	routes     map[string]model.OptimizedRoute
	routeIDs   []string // insertion order, for cursor pagination
	sessions   map[string]model.TrackingSession
	fixes      map[string][]model.LocationFix // sessionID -> appended fixes
	geofences  map[string]model.GeofenceBoundary
	subs       map[string]model.Subscription
	deliveries map[string]*memDelivery
	deliveryQ  []string
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		routes:     map[string]model.OptimizedRoute{},
		sessions:   map[string]model.TrackingSession{},
		fixes:      map[string][]model.LocationFix{},
		geofences:  map[string]model.GeofenceBoundary{},
		subs:       map[string]model.Subscription{},
		deliveries: map[string]*memDelivery{},
	}
}

func (m *Memory) SaveRoute(_ context.Context, r model.OptimizedRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[r.ID]; !ok {
		m.routeIDs = append(m.routeIDs, r.ID)
	}
	m.routes[r.ID] = r
	return nil
}

func (m *Memory) GetRoute(_ context.Context, id string) (model.OptimizedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return model.OptimizedRoute{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRoutes(_ context.Context, cursor string, limit int) ([]model.OptimizedRoute, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	start := 0
	if cursor != "" {
		for i, id := range m.routeIDs {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.OptimizedRoute{}
	next := ""
	for i := start; i < len(m.routeIDs) && len(out) < limit; i++ {
		out = append(out, m.routes[m.routeIDs[i]])
		next = m.routeIDs[i]
	}
	if start+len(out) >= len(m.routeIDs) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) CreateSession(_ context.Context, s model.TrackingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (model.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.TrackingSession{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) CloseSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.ClosedAt = &at
	m.sessions[id] = s
	return nil
}

func (m *Memory) AppendFix(_ context.Context, sessionID string, fix model.LocationFix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	m.fixes[sessionID] = append(m.fixes[sessionID], fix)
	return nil
}

func (m *Memory) ListFixes(_ context.Context, sessionID string, limit int) ([]model.LocationFix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fixes := m.fixes[sessionID]
	if limit > 0 && len(fixes) > limit {
		fixes = fixes[len(fixes)-limit:]
	}
	return append([]model.LocationFix(nil), fixes...), nil
}

func (m *Memory) CreateGeofence(_ context.Context, b model.GeofenceBoundary) (model.GeofenceBoundary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	m.geofences[b.ID] = b
	return b, nil
}

func (m *Memory) GetGeofence(_ context.Context, id string) (model.GeofenceBoundary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.geofences[id]
	if !ok {
		return model.GeofenceBoundary{}, ErrNotFound
	}
	return b, nil
}

func (m *Memory) ListGeofences(_ context.Context) ([]model.GeofenceBoundary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.GeofenceBoundary, 0, len(m.geofences))
	for _, b := range m.geofences {
		out = append(out, b)
	}
	return out, nil
}

func (m *Memory) UpdateGeofence(_ context.Context, b model.GeofenceBoundary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.geofences[b.ID]; !ok {
		return ErrNotFound
	}
	m.geofences[b.ID] = b
	return nil
}

func (m *Memory) DeleteGeofence(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.geofences[id]; !ok {
		return ErrNotFound
	}
	delete(m.geofences, id)
	return nil
}

func (m *Memory) CreateSubscription(_ context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[s.ID] = s
	return s, nil
}

func (m *Memory) ListSubscriptions(_ context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *Memory) GetSubscriptionsForEvent(_ context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(_ context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        payload,
			Status:         "pending",
		},
		NextAttemptAt: time.Now(),
	}
	m.deliveryQ = append(m.deliveryQ, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(_ context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryQ {
		d := m.deliveries[id]
		if d == nil || d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(_ context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
	} else if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(_ context.Context, id string, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}
