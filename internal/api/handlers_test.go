package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"drivenav/internal/metrics"
	"drivenav/internal/model"
	"drivenav/internal/route"
	"drivenav/internal/store"
	"drivenav/internal/webhooks"
)

func newTestServer() *Server {
	mem := store.NewMemory()
	return &Server{
		Store:     mem,
		Pub:       webhooks.NewPublisher(mem),
		Broker:    NewBroker(),
		Optimizer: &route.Optimizer{},
		Tracking:  model.DefaultTrackingConfig(),
		Locations: NewLocationCache(),
		sessions:  newSessionRegistry(),
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

const optimizeBody = `{
	"start": {"lat": 25.2048, "lng": 55.2708},
	"vehicleType": "car",
	"deliveries": [
		{"id": "d1", "lat": 25.2100, "lng": 55.2750},
		{"id": "d2", "lat": 25.2000, "lng": 55.2650},
		{"id": "d3", "lat": 25.2200, "lng": 55.2800}
	]
}`

func TestOptimizeAndGetRoute(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s.OptimizeHandler, "/v1/optimize", optimizeBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("optimize status %d: %s", rec.Code, rec.Body.String())
	}
	var rt model.OptimizedRoute
	if err := json.Unmarshal(rec.Body.Bytes(), &rt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rt.ID == "" || len(rt.Waypoints) != 3 || len(rt.Segments) != 3 {
		t.Fatalf("unexpected route: %+v", rt)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/routes/"+rt.ID, nil)
	rec2 := httptest.NewRecorder()
	s.RouteByIDHandler(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("get route status %d", rec2.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/routes", nil)
	rec3 := httptest.NewRecorder()
	s.RoutesIndexHandler(rec3, req)
	if rec3.Code != http.StatusOK {
		t.Fatalf("list routes status %d", rec3.Code)
	}
	var list struct {
		Items []model.OptimizedRoute `json:"items"`
	}
	if err := json.Unmarshal(rec3.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 route, got %d", len(list.Items))
	}
}

func TestOptimizeValidation(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s.OptimizeHandler, "/v1/optimize", `{"start":{"lat":0,"lng":0},"deliveries":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty deliveries status %d", rec.Code)
	}
	rec = postJSON(t, s.OptimizeHandler, "/v1/optimize", `{"start":{"lat":0,"lng":0},"deliveries":[{"id":"d1","lat":91,"lng":0}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid coord status %d", rec.Code)
	}
}

func TestOptimizeAlternatives(t *testing.T) {
	s := newTestServer()
	body := `{
		"start": {"lat": 25.2048, "lng": 55.2708},
		"alternatives": true,
		"deliveries": [
			{"id": "d1", "lat": 25.2100, "lng": 55.2750, "priority": "express"},
			{"id": "d2", "lat": 25.2000, "lng": 55.2650},
			{"id": "d3", "lat": 25.2200, "lng": 55.2800}
		]
	}`
	rec := postJSON(t, s.OptimizeHandler, "/v1/optimize", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Routes []model.OptimizedRoute `json:"routes"`
		Best   string                 `json:"best"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Routes) != 4 {
		t.Fatalf("expected 4 alternatives, got %d", len(resp.Routes))
	}
	if resp.Best == "" {
		t.Fatal("missing best route id")
	}
}

func TestOptimizeAlternativesObservesOnce(t *testing.T) {
	s := newTestServer()
	metrics.OptimizeDuration.Reset()
	body := `{
		"start": {"lat": 25.2048, "lng": 55.2708},
		"alternatives": true,
		"deliveries": [
			{"id": "d1", "lat": 25.2100, "lng": 55.2750},
			{"id": "d2", "lat": 25.2000, "lng": 55.2650},
			{"id": "d3", "lat": 25.2200, "lng": 55.2800}
		]
	}`
	rec := postJSON(t, s.OptimizeHandler, "/v1/optimize", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	// a single "alternatives" series, not one per candidate strategy
	if n := testutil.CollectAndCount(metrics.OptimizeDuration, "route_optimize_duration_seconds"); n != 1 {
		t.Fatalf("expected 1 optimize duration series, got %d", n)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s.SessionsHandler, "/v1/sessions", `{"driverId":"drv1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status %d: %s", rec.Code, rec.Body.String())
	}
	var sess model.TrackingSession
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}

	base := time.Now().UnixMilli()
	fix := fmt.Sprintf(`{"coord":{"lat":25.2050,"lng":55.2710},"timestampMs":%d}`, base)
	rec2 := postJSON(t, s.SessionByIDHandler, "/v1/sessions/"+sess.ID+"/fixes", fix)
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("fix status %d: %s", rec2.Code, rec2.Body.String())
	}

	// ingest is async; poll history until the fix lands
	deadline := time.Now().Add(2 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/history", nil)
		rec3 := httptest.NewRecorder()
		s.SessionByIDHandler(rec3, req)
		var hist struct {
			Items []model.LocationFix `json:"items"`
		}
		_ = json.Unmarshal(rec3.Body.Bytes(), &hist)
		if len(hist.Items) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("fix never reached history: %s", rec3.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+sess.ID, nil)
	rec4 := httptest.NewRecorder()
	s.SessionByIDHandler(rec4, req)
	if rec4.Code != http.StatusOK {
		t.Fatalf("get session status %d", rec4.Code)
	}
	var info map[string]any
	_ = json.Unmarshal(rec4.Body.Bytes(), &info)
	if info["state"] != "tracking" {
		t.Fatalf("state = %v", info["state"])
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
	rec5 := httptest.NewRecorder()
	s.SessionByIDHandler(rec5, req)
	if rec5.Code != http.StatusNoContent {
		t.Fatalf("close session status %d", rec5.Code)
	}
	stored, err := s.Store.GetSession(req.Context(), sess.ID)
	if err != nil {
		t.Fatalf("get stored session: %v", err)
	}
	if stored.ClosedAt == nil {
		t.Fatal("session should be closed")
	}
}

func TestSimulatedSession(t *testing.T) {
	s := newTestServer()
	body := `{
		"simulate": {
			"path": [
				{"lat": 25.2050, "lng": 55.2710},
				{"lat": 25.2100, "lng": 55.2750},
				{"lat": 25.2150, "lng": 55.2790}
			],
			"intervalMs": 10
		}
	}`
	rec := postJSON(t, s.SessionsHandler, "/v1/sessions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var sess model.TrackingSession
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)

	// playback feeds the tracker without any ingest calls
	deadline := time.Now().Add(2 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/history", nil)
		rec2 := httptest.NewRecorder()
		s.SessionByIDHandler(rec2, req)
		var hist struct {
			Items []model.LocationFix `json:"items"`
		}
		_ = json.Unmarshal(rec2.Body.Bytes(), &hist)
		if len(hist.Items) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("simulated fixes never landed: %s", rec2.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// manual ingest is rejected for simulated sessions
	fix := fmt.Sprintf(`{"coord":{"lat":25.2,"lng":55.2},"timestampMs":%d}`, time.Now().UnixMilli())
	rec3 := postJSON(t, s.SessionByIDHandler, "/v1/sessions/"+sess.ID+"/fixes", fix)
	if rec3.Code != http.StatusConflict {
		t.Fatalf("fix ingest status %d, want 409", rec3.Code)
	}

	rec = postJSON(t, s.SessionsHandler, "/v1/sessions", `{"simulate":{"path":[]}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty path status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
	rec4 := httptest.NewRecorder()
	s.SessionByIDHandler(rec4, req)
	if rec4.Code != http.StatusNoContent {
		t.Fatalf("close status %d", rec4.Code)
	}
}

func TestSessionFixRateLimit(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s.SessionsHandler, "/v1/sessions", `{}`)
	var sess model.TrackingSession
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)

	limited := 0
	base := time.Now().UnixMilli()
	for i := 0; i < 60; i++ {
		fix := fmt.Sprintf(`{"coord":{"lat":25.2,"lng":55.2},"timestampMs":%d}`, base+int64(i))
		r := postJSON(t, s.SessionByIDHandler, "/v1/sessions/"+sess.ID+"/fixes", fix)
		if r.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Fatal("expected rate limiting to reject some fixes")
	}
}

func TestSessionGeofenceEventStreams(t *testing.T) {
	s := newTestServer()
	// geofence around the fix we will push
	rec := postJSON(t, s.GeofencesHandler, "/v1/geofences", `{"name":"Customer A","category":"delivery","center":{"lat":25.2050,"lng":55.2710},"radiusM":100}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create geofence status %d: %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, s.SessionsHandler, "/v1/sessions", `{}`)
	var sess model.TrackingSession
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)

	ch := s.Broker.Subscribe(sess.ID)
	defer s.Broker.Unsubscribe(sess.ID, ch)

	fix := fmt.Sprintf(`{"coord":{"lat":25.2050,"lng":55.2710},"timestampMs":%d}`, time.Now().UnixMilli())
	rec2 := postJSON(t, s.SessionByIDHandler, "/v1/sessions/"+sess.ID+"/fixes", fix)
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("fix status %d", rec2.Code)
	}

	deadline := time.After(2 * time.Second)
	seenFix, seenEnter := false, false
	for !(seenFix && seenEnter) {
		select {
		case evt := <-ch:
			switch evt.Type {
			case "location.fix":
				seenFix = true
			case "geofence.entered":
				seenEnter = true
				if evt.Data["name"] != "Customer A" {
					t.Fatalf("unexpected geofence event: %+v", evt.Data)
				}
			}
		case <-deadline:
			t.Fatalf("missing events: fix=%v entered=%v", seenFix, seenEnter)
		}
	}
}

func TestGeofenceCRUDEndpoints(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s.GeofencesHandler, "/v1/geofences", `{"name":"Hub","category":"hub","center":{"lat":25.0,"lng":55.0},"radiusM":250}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}
	var gf model.GeofenceBoundary
	_ = json.Unmarshal(rec.Body.Bytes(), &gf)
	if gf.ID == "" {
		t.Fatal("missing geofence id")
	}

	rec = postJSON(t, s.GeofencesHandler, "/v1/geofences", `{"name":"Bad","center":{"lat":95,"lng":0},"radiusM":10}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid center status %d", rec.Code)
	}
	rec = postJSON(t, s.GeofencesHandler, "/v1/geofences", `{"name":"Bad","center":{"lat":0,"lng":0},"radiusM":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero radius status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/v1/geofences/"+gf.ID, bytes.NewReader([]byte(`{"name":"Hub 2","category":"hub","center":{"lat":25.0,"lng":55.0},"radiusM":300}`)))
	rec2 := httptest.NewRecorder()
	s.GeofenceByIDHandler(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rec2.Code, rec2.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/geofences/"+gf.ID, nil)
	rec3 := httptest.NewRecorder()
	s.GeofenceByIDHandler(rec3, req)
	if rec3.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec3.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/geofences/"+gf.ID, nil)
	rec4 := httptest.NewRecorder()
	s.GeofenceByIDHandler(rec4, req)
	if rec4.Code != http.StatusNotFound {
		t.Fatalf("get after delete status %d", rec4.Code)
	}
}

func TestSubscriptionsEndpoints(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions", `{"url":"https://sink.example/hook","events":["route.optimized"],"secret":"shh"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}
	var sub model.Subscription
	_ = json.Unmarshal(rec.Body.Bytes(), &sub)

	rec = postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions", `{"url":"","events":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid subscription status %d", rec.Code)
	}

	// an optimize call should enqueue a delivery for the subscriber
	rec2 := postJSON(t, s.OptimizeHandler, "/v1/optimize", optimizeBody)
	if rec2.Code != http.StatusOK {
		t.Fatalf("optimize status %d", rec2.Code)
	}
	due, err := s.Store.FetchDueWebhookDeliveries(httptest.NewRequest(http.MethodGet, "/", nil).Context(), 10)
	if err != nil {
		t.Fatalf("fetch due: %v", err)
	}
	if len(due) != 1 || due[0].EventType != "route.optimized" {
		t.Fatalf("expected 1 route.optimized delivery, got %+v", due)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	rec3 := httptest.NewRecorder()
	s.SubscriptionByIDHandler(rec3, req)
	if rec3.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec3.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	s.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status %d", rec.Code)
	}
}
