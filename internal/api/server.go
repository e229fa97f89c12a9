package api

import (
	"context"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"drivenav/internal/config"
	"drivenav/internal/geofence"
	"drivenav/internal/metrics"
	"drivenav/internal/model"
	"drivenav/internal/progress"
	"drivenav/internal/route"
	"drivenav/internal/store"
	"drivenav/internal/track"
	"drivenav/internal/webhooks"
)

type Server struct {
	Store     store.Store
	Pub       *webhooks.Publisher
	Broker    EventBroker
	Optimizer *route.Optimizer
	Tracking  model.TrackingConfig
	Locations *LocationCache

	sessions *sessionRegistry
}

// NewServer builds a Server from config. An empty DatabaseURL selects the
// in-memory store; an empty RedisURL selects the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sp.Migrate(ctx); err != nil {
			return nil, err
		}
		s = sp
	}
	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("redis broker unavailable, using in-process broker: %v", err)
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	return &Server{
		Store:     s,
		Pub:       webhooks.NewPublisher(s),
		Broker:    broker,
		Optimizer: &route.Optimizer{},
		Tracking:  cfg.Tracking,
		Locations: NewLocationCache(),
		sessions:  newSessionRegistry(),
	}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}

// liveSession holds the in-process tracking pipeline for one session: the
// push source fed by the fix-ingest endpoint, the tracker filtering it, the
// geofence evaluator, and (when a route is attached) the progress tracker.
type liveSession struct {
	Session model.TrackingSession
	Source  *track.PushSource
	Tracker *track.Tracker
	Fences  *geofence.Evaluator
	Prog    *progress.Tracker
	Limiter *rate.Limiter
}

// startSession wires up and starts the tracking pipeline for a new session
// over the given source. Source is nil for simulated sessions, whose fixes
// come from the source itself rather than the ingest endpoint.
func (s *Server) startSession(ctx context.Context, sess model.TrackingSession, source track.PositionSource) (*liveSession, error) {
	tr := track.New(source)

	ls := &liveSession{
		Session: sess,
		Tracker: tr,
		Fences:  geofence.New(),
		Limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
	if push, ok := source.(*track.PushSource); ok {
		ls.Source = push
	}
	if fences, err := s.Store.ListGeofences(ctx); err == nil {
		for _, b := range fences {
			ls.Fences.Add(b)
		}
	}
	if sess.RouteID != "" {
		rt, err := s.Store.GetRoute(ctx, sess.RouteID)
		if err != nil {
			return nil, err
		}
		ls.Prog = progress.New(rt)
	}
	tr.Subscribe(&sessionObserver{srv: s, ls: ls})
	if err := tr.Start(sess.Config); err != nil {
		return nil, err
	}
	return ls, nil
}

// sessionObserver bridges tracker callbacks into persistence, geofence
// evaluation, progress, live streams, and the event sink.
type sessionObserver struct {
	srv *Server
	ls  *liveSession
}

func (o *sessionObserver) OnFix(fix model.LocationFix) {
	s, ls := o.srv, o.ls
	sid := ls.Session.ID
	metrics.FixesAccepted.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Store.AppendFix(ctx, sid, fix); err != nil {
		log.Printf("append fix session=%s: %v", sid, err)
	}
	s.Locations.Upsert(sid, ls.Session.RouteID, fix)
	s.Broker.Publish(sid, SSEEvent{Type: "location.fix", Data: map[string]any{
		"sessionId": sid, "lat": fix.Coord.Lat, "lng": fix.Coord.Lng, "timestampMs": fix.TimestampMs,
	}})

	for _, evt := range ls.Fences.Evaluate(fix) {
		metrics.GeofenceTransitions.WithLabelValues(string(evt.Boundary.Category), string(evt.Transition)).Inc()
		data := map[string]any{
			"sessionId":  sid,
			"geofenceId": evt.Boundary.ID,
			"name":       evt.Boundary.Name,
			"transition": string(evt.Transition),
			"distanceM":  evt.DistanceM,
		}
		s.Broker.Publish(sid, SSEEvent{Type: "geofence." + string(evt.Transition), Data: data})
		if evt.Transition == geofence.Entered {
			s.Pub.Emit(ctx, "geofence.entered", data)
			if ls.Prog != nil && ls.Prog.HandleGeofence(evt) {
				s.publishProgress(ctx, ls, ls.Prog.Update(fix))
			}
		}
	}

	if ls.Prog != nil {
		before := ls.Prog.Completed()
		snap := ls.Prog.Update(fix)
		if snap.CompletedWaypoints != before {
			s.publishProgress(ctx, ls, snap)
		}
	}
}

func (s *Server) publishProgress(ctx context.Context, ls *liveSession, snap model.ProgressSnapshot) {
	data := map[string]any{
		"sessionId":            ls.Session.ID,
		"routeId":              ls.Session.RouteID,
		"completedWaypoints":   snap.CompletedWaypoints,
		"totalWaypoints":       snap.TotalWaypoints,
		"remainingDistanceM":   snap.RemainingDistanceM,
		"remainingTimeSeconds": snap.RemainingTimeSeconds,
	}
	s.Broker.Publish(ls.Session.RouteID, SSEEvent{Type: "route.progress", Data: data})
	s.Broker.Publish(ls.Session.ID, SSEEvent{Type: "route.progress", Data: data})
	s.Pub.Emit(ctx, "route.progress", data)
}

func (o *sessionObserver) OnError(err error) {
	metrics.FixesDropped.WithLabelValues("error").Inc()
	o.srv.Broker.Publish(o.ls.Session.ID, SSEEvent{Type: "tracker.error", Data: map[string]any{
		"sessionId": o.ls.Session.ID, "error": err.Error(),
	}})
}

func (o *sessionObserver) OnTrackingStarted() {
	o.srv.Broker.Publish(o.ls.Session.ID, SSEEvent{Type: "tracker.started", Data: map[string]any{
		"sessionId": o.ls.Session.ID,
	}})
}

func (o *sessionObserver) OnTrackingStopped() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data := map[string]any{"sessionId": o.ls.Session.ID}
	o.srv.Broker.Publish(o.ls.Session.ID, SSEEvent{Type: "tracker.stopped", Data: data})
	o.srv.Pub.Emit(ctx, "tracker.stopped", data)
}
