package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"drivenav/internal/model"
)

func TestMemoryRoutes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.GetRoute(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := m.SaveRoute(ctx, model.OptimizedRoute{ID: id, VehicleType: model.VehicleCar}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	got, err := m.GetRoute(ctx, "r2")
	if err != nil || got.ID != "r2" {
		t.Fatalf("get: %v %+v", err, got)
	}
	page, next, err := m.ListRoutes(ctx, "", 2)
	if err != nil || len(page) != 2 || next != "r2" {
		t.Fatalf("first page: %v %d next=%q", err, len(page), next)
	}
	page, next, err = m.ListRoutes(ctx, next, 2)
	if err != nil || len(page) != 1 || next != "" {
		t.Fatalf("second page: %v %d next=%q", err, len(page), next)
	}
}

func TestMemorySessionsAndFixes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.AppendFix(ctx, "nope", model.LocationFix{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append to missing session: %v", err)
	}
	s := model.TrackingSession{ID: "s1", Config: model.DefaultTrackingConfig(), StartedAt: time.Now()}
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 1; i <= 5; i++ {
		fix := model.LocationFix{Coord: model.GeoPoint{Lat: float64(i)}, TimestampMs: int64(i)}
		if err := m.AppendFix(ctx, "s1", fix); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	fixes, err := m.ListFixes(ctx, "s1", 3)
	if err != nil || len(fixes) != 3 {
		t.Fatalf("list: %v %d", err, len(fixes))
	}
	if fixes[0].TimestampMs != 3 || fixes[2].TimestampMs != 5 {
		t.Fatalf("limit should keep the most recent fixes: %+v", fixes)
	}
	if err := m.CloseSession(ctx, "s1", time.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := m.GetSession(ctx, "s1")
	if err != nil || got.ClosedAt == nil {
		t.Fatalf("session not closed: %v %+v", err, got)
	}
}

func TestMemoryGeofences(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	b, err := m.CreateGeofence(ctx, model.GeofenceBoundary{Name: "dock 4", RadiusM: 80})
	if err != nil || b.ID == "" {
		t.Fatalf("create: %v %+v", err, b)
	}
	b.RadiusM = 120
	if err := m.UpdateGeofence(ctx, b); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := m.GetGeofence(ctx, b.ID)
	if err != nil || got.RadiusM != 120 {
		t.Fatalf("get after update: %v %+v", err, got)
	}
	if err := m.DeleteGeofence(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteGeofence(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestMemorySubscriptionsAndQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sub, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://sink", Events: []string{"geofence.entered"}})
	if err != nil {
		t.Fatalf("create sub: %v", err)
	}
	matched, err := m.GetSubscriptionsForEvent(ctx, "geofence.entered")
	if err != nil || len(matched) != 1 {
		t.Fatalf("match: %v %d", err, len(matched))
	}
	if ms, _ := m.GetSubscriptionsForEvent(ctx, "route.optimized"); len(ms) != 0 {
		t.Fatalf("unexpected match: %+v", ms)
	}

	id, err := m.EnqueueWebhook(ctx, sub.ID, "geofence.entered", sub.URL, "", []byte(`{}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 1 || due[0].ID != id {
		t.Fatalf("due: %v %+v", err, due)
	}
	if err := m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 5); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if due, _ = m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("delivered item still due: %+v", due)
	}
}
