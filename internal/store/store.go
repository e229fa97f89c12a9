package store

import (
	"context"
	"errors"
	"time"

	"drivenav/internal/model"
)

// Store is the persistence boundary: optimized routes, tracking sessions
// with their historical fixes, geofence boundaries, and the event-sink
// delivery queue.
type Store interface {
	// Routes
	SaveRoute(ctx context.Context, r model.OptimizedRoute) error
	GetRoute(ctx context.Context, id string) (model.OptimizedRoute, error)
	ListRoutes(ctx context.Context, cursor string, limit int) ([]model.OptimizedRoute, string, error)

	// Tracking sessions and historical fixes
	CreateSession(ctx context.Context, s model.TrackingSession) error
	GetSession(ctx context.Context, id string) (model.TrackingSession, error)
	CloseSession(ctx context.Context, id string, at time.Time) error
	AppendFix(ctx context.Context, sessionID string, fix model.LocationFix) error
	ListFixes(ctx context.Context, sessionID string, limit int) ([]model.LocationFix, error)

	// Geofences
	CreateGeofence(ctx context.Context, b model.GeofenceBoundary) (model.GeofenceBoundary, error)
	GetGeofence(ctx context.Context, id string) (model.GeofenceBoundary, error)
	ListGeofences(ctx context.Context) ([]model.GeofenceBoundary, error)
	UpdateGeofence(ctx context.Context, b model.GeofenceBoundary) error
	DeleteGeofence(ctx context.Context, id string) error

	// Event-sink subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)

	// Webhook delivery queue
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error
}

// WebhookDelivery is one queued event delivery attempt.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

var ErrNotFound = errors.New("not found")
