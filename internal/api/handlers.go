package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"drivenav/internal/buildinfo"
	"drivenav/internal/metrics"
	"drivenav/internal/model"
	"drivenav/internal/route"
	"drivenav/internal/store"
	"drivenav/internal/track"
)

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Deliveries   []model.DeliveryIn `json:"deliveries"`
		Start        model.GeoPoint     `json:"start"`
		VehicleType  model.VehicleType  `json:"vehicleType"`
		Alternatives bool               `json:"alternatives"`
		Refine       bool               `json:"refine"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	waypoints := make([]model.Waypoint, 0, len(req.Deliveries))
	for _, d := range req.Deliveries {
		waypoints = append(waypoints, d.Waypoint())
	}
	if req.VehicleType == "" {
		req.VehicleType = model.VehicleCar
	}

	started := time.Now()
	if req.Alternatives {
		routes, err := s.Optimizer.Alternatives(waypoints, req.Start, req.VehicleType)
		if err != nil {
			writeOptimizeError(w, r, err)
			return
		}
		// one observation for the whole alternatives computation
		metrics.OptimizeDuration.WithLabelValues("alternatives").Observe(time.Since(started).Seconds())
		for i := range routes {
			if err := s.Store.SaveRoute(r.Context(), routes[i]); err != nil {
				writeProblem(w, http.StatusInternalServerError, "Save route failed", err.Error(), r.URL.Path)
				return
			}
		}
		best := route.Best(routes)
		s.announceRoute(r.Context(), routes[best])
		writeJSON(w, http.StatusOK, map[string]any{"routes": routes, "best": routes[best].ID})
		return
	}

	rt, err := s.Optimizer.Optimize(waypoints, req.Start, req.VehicleType)
	if err != nil {
		writeOptimizeError(w, r, err)
		return
	}
	if req.Refine {
		rt = route.Refine2Opt(rt, req.Start, 0)
	}
	metrics.OptimizeDuration.WithLabelValues(rt.Strategy).Observe(time.Since(started).Seconds())
	if err := s.Store.SaveRoute(r.Context(), rt); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save route failed", err.Error(), r.URL.Path)
		return
	}
	s.announceRoute(r.Context(), rt)
	writeJSON(w, http.StatusOK, rt)
}

func writeOptimizeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrEmptyWaypoints):
		writeProblem(w, http.StatusBadRequest, "Empty waypoints", err.Error(), r.URL.Path)
	case errors.Is(err, model.ErrInvalidCoordinate):
		writeProblem(w, http.StatusBadRequest, "Invalid coordinate", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Optimize failed", err.Error(), r.URL.Path)
	}
}

func (s *Server) announceRoute(ctx context.Context, rt model.OptimizedRoute) {
	data := map[string]any{
		"routeId":     rt.ID,
		"strategy":    rt.Strategy,
		"distanceM":   rt.DistanceM,
		"durationSec": rt.DurationSec,
		"score":       rt.Score,
		"waypoints":   len(rt.Waypoints),
	}
	s.Broker.Publish(rt.ID, SSEEvent{Type: "route.optimized", Data: data})
	s.Pub.Emit(ctx, "route.optimized", data)
}

// RoutesIndexHandler handles GET /v1/routes
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
	items, next, err := s.Store.ListRoutes(r.Context(), cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List routes failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RouteByIDHandler handles GET /v1/routes/{id} and GET /v1/routes/{id}/events/stream
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/routes/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
		if _, err := s.Store.GetRoute(r.Context(), id); err != nil {
			writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
			return
		}
		s.streamSSE(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rt, err := s.Store.GetRoute(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// streamSSE streams broker events for a topic until the client disconnects.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok { writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path); return }
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)
	// initial heartbeat
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"topic\":\"%s\",\"ts\":\"%s\"}\n\n", topic, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"topic\":\"%s\",\"ts\":\"%s\"}\n\n", topic, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// SessionsHandler handles POST /v1/sessions
func (s *Server) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RouteID  string                `json:"routeId"`
		DriverID string                `json:"driverId"`
		Config   *model.TrackingConfig `json:"config"`
		Simulate *struct {
			Path       []model.GeoPoint `json:"path"`
			IntervalMs int64            `json:"intervalMs"`
			Loop       bool             `json:"loop"`
		} `json:"simulate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	cfg := s.Tracking
	if req.Config != nil {
		cfg = *req.Config
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = model.DefaultTrackingConfig().HistoryCapacity
	}
	var source track.PositionSource
	if req.Simulate != nil {
		if len(req.Simulate.Path) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid simulation", "path required", r.URL.Path)
			return
		}
		for _, p := range req.Simulate.Path {
			if !p.Valid() {
				writeProblem(w, http.StatusBadRequest, "Invalid coordinate", "simulation path outside WGS84 range", r.URL.Path)
				return
			}
		}
		source = track.NewSimSource(req.Simulate.Path, time.Duration(req.Simulate.IntervalMs)*time.Millisecond, req.Simulate.Loop)
	} else {
		source = track.NewPushSource()
	}
	sess := model.TrackingSession{
		ID:        uuid.New().String(),
		RouteID:   req.RouteID,
		DriverID:  req.DriverID,
		Config:    cfg,
		StartedAt: time.Now().UTC(),
	}
	ls, err := s.startSession(r.Context(), sess, source)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Start session failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.CreateSession(r.Context(), sess); err != nil {
		ls.Tracker.Stop()
		writeProblem(w, http.StatusInternalServerError, "Create session failed", err.Error(), r.URL.Path)
		return
	}
	s.sessions.put(ls)
	writeJSON(w, http.StatusCreated, sess)
}

// SessionByIDHandler handles /v1/sessions/{id} and its subresources:
// fixes, position, history, live.
func (s *Server) SessionByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/sessions/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 1 {
		switch parts[1] {
		case "fixes":
			s.sessionFixes(w, r, id)
		case "position":
			s.sessionPosition(w, r, id)
		case "history":
			s.sessionHistory(w, r, id)
		case "live":
			s.SessionLiveHandler(w, r, id)
		default:
			writeProblem(w, http.StatusNotFound, "Not Found", "", path)
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		sess, err := s.Store.GetSession(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "Session not found", err.Error(), r.URL.Path)
			return
		}
		resp := map[string]any{"session": sess, "state": string(track.StateIdle)}
		if ls, ok := s.sessions.get(id); ok {
			resp["state"] = string(ls.Tracker.State())
			if fix, ok := ls.Tracker.Latest(); ok {
				resp["latest"] = fix
			}
			resp["droppedFixes"] = ls.Tracker.Dropped()
			if ls.Prog != nil {
				resp["completedWaypoints"] = ls.Prog.Completed()
			}
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		if ls, ok := s.sessions.remove(id); ok {
			ls.Tracker.Stop()
		}
		s.Locations.Drop(id)
		if err := s.Store.CloseSession(r.Context(), id, time.Now().UTC()); err != nil {
			writeProblem(w, http.StatusNotFound, "Session not found", err.Error(), r.URL.Path)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// sessionFixes handles POST /v1/sessions/{id}/fixes, the device-side ingest.
func (s *Server) sessionFixes(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ls, ok := s.sessions.get(id)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Session not active", "", r.URL.Path)
		return
	}
	if ls.Source == nil {
		writeProblem(w, http.StatusConflict, "Simulated session", "fixes come from the simulated source", r.URL.Path)
		return
	}
	if !ls.Limiter.Allow() {
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "fix ingest rate exceeded", r.URL.Path)
		return
	}
	var fix model.LocationFix
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if fix.TimestampMs == 0 {
		fix.TimestampMs = time.Now().UnixMilli()
	}
	if err := fix.Validate(); err != nil {
		metrics.FixesDropped.WithLabelValues("invalid").Inc()
		writeProblem(w, http.StatusBadRequest, "Invalid coordinate", err.Error(), r.URL.Path)
		return
	}
	ls.Source.Push(fix)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// sessionPosition handles GET /v1/sessions/{id}/position, the one-shot
// current-position lookup honoring the session's timeout and maximum age.
func (s *Server) sessionPosition(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ls, ok := s.sessions.get(id)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Session not active", "", r.URL.Path)
		return
	}
	fix, err := ls.Tracker.Current(r.Context())
	if err != nil {
		if errors.Is(err, model.ErrTimeout) {
			writeProblem(w, http.StatusGatewayTimeout, "Position timeout", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Position failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

// sessionHistory handles GET /v1/sessions/{id}/history. Live sessions
// answer from the in-memory ring; closed sessions from the store.
func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
	if ls, ok := s.sessions.get(id); ok {
		items := ls.Tracker.History()
		if limit > 0 && len(items) > limit {
			items = items[len(items)-limit:]
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	if _, err := s.Store.GetSession(r.Context(), id); err != nil {
		writeProblem(w, http.StatusNotFound, "Session not found", err.Error(), r.URL.Path)
		return
	}
	items, err := s.Store.ListFixes(r.Context(), id, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List fixes failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GeofencesHandler handles GET/POST /v1/geofences
func (s *Server) GeofencesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListGeofences(r.Context())
		if err != nil { writeProblem(w, 500, "List geofences failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, map[string]any{"items": items})
	case http.MethodPost:
		var in model.GeofenceBoundary
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		if !in.Center.Valid() { writeProblem(w, 400, "Invalid coordinate", "center outside WGS84 range", r.URL.Path); return }
		if in.RadiusM <= 0 { writeProblem(w, 400, "Invalid radius", "radiusM must be positive", r.URL.Path); return }
		gf, err := s.Store.CreateGeofence(r.Context(), in)
		if err != nil { writeProblem(w, 500, "Create geofence failed", err.Error(), r.URL.Path); return }
		s.sessions.addFence(gf)
		writeJSON(w, 201, gf)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// GeofenceByIDHandler handles GET/PUT/DELETE /v1/geofences/{id}
func (s *Server) GeofenceByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/geofences/")
	if id == "" { writeProblem(w, 404, "Not Found", "missing id", r.URL.Path); return }
	switch r.Method {
	case http.MethodGet:
		gf, err := s.Store.GetGeofence(r.Context(), id)
		if err != nil { writeProblem(w, 404, "Not Found", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, gf)
	case http.MethodPut, http.MethodPatch:
		var in model.GeofenceBoundary
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		in.ID = id
		if !in.Center.Valid() { writeProblem(w, 400, "Invalid coordinate", "center outside WGS84 range", r.URL.Path); return }
		if in.RadiusM <= 0 { writeProblem(w, 400, "Invalid radius", "radiusM must be positive", r.URL.Path); return }
		if err := s.Store.UpdateGeofence(r.Context(), in); err != nil {
			if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", err.Error(), r.URL.Path); return }
			writeProblem(w, 500, "Update geofence failed", err.Error(), r.URL.Path)
			return
		}
		s.sessions.addFence(in)
		writeJSON(w, 200, in)
	case http.MethodDelete:
		if err := s.Store.DeleteGeofence(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", err.Error(), r.URL.Path); return }
			writeProblem(w, 500, "Delete geofence failed", err.Error(), r.URL.Path)
			return
		}
		s.sessions.removeFence(id)
		w.WriteHeader(204)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		if req.URL == "" || len(req.Events) == 0 { writeProblem(w, 400, "Invalid subscription", "url and events required", r.URL.Path); return }
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil { writeProblem(w, 500, "Create subscription failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 201, sub)
	case http.MethodGet:
		items, err := s.Store.ListSubscriptions(r.Context())
		if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		writeProblem(w, 404, "Not Found", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.Info()
	info["status"] = "ok"
	writeJSON(w, 200, info)
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
