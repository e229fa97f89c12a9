package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"drivenav/internal/model"
)

func newID() string { return uuid.New().String() }

// Postgres persists the engine's state in PostgreSQL. Routes and boundaries
// are stored as JSONB documents; fixes get one row each so historical
// queries stay cheap.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and pings a connection pool for the DSN.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping reports database connectivity for readiness checks.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Migrate creates the schema if missing. Dev helper; production deployments
// run migrations out of band.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			route_id TEXT,
			driver_id TEXT,
			config JSONB NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS fixes (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			accuracy_m DOUBLE PRECISION,
			altitude_m DOUBLE PRECISION,
			heading_deg DOUBLE PRECISION,
			speed_mps DOUBLE PRECISION,
			ts_ms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS fixes_session_ts ON fixes (session_id, ts_ms)`,
		`CREATE TABLE IF NOT EXISTS geofences (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			events TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT,
			event_type TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			payload BYTEA,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT,
			response_code INT,
			latency_ms INT
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SaveRoute(ctx context.Context, r model.OptimizedRoute) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO routes (id, doc) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, r.ID, doc)
	return err
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (model.OptimizedRoute, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM routes WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OptimizedRoute{}, ErrNotFound
	}
	if err != nil {
		return model.OptimizedRoute{}, err
	}
	var r model.OptimizedRoute
	if err := json.Unmarshal(doc, &r); err != nil {
		return model.OptimizedRoute{}, err
	}
	return r, nil
}

func (p *Postgres) ListRoutes(ctx context.Context, cursor string, limit int) ([]model.OptimizedRoute, string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, doc FROM routes WHERE ($1 = '' OR id > $1) ORDER BY id LIMIT $2`, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.OptimizedRoute{}
	next := ""
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, "", err
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		var r model.OptimizedRoute
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	return out, next, rows.Err()
}

func (p *Postgres) CreateSession(ctx context.Context, s model.TrackingSession) error {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO sessions (id, route_id, driver_id, config, started_at) VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.RouteID, s.DriverID, cfg, s.StartedAt)
	return err
}

func (p *Postgres) GetSession(ctx context.Context, id string) (model.TrackingSession, error) {
	var s model.TrackingSession
	var cfg []byte
	var closedAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT id, route_id, driver_id, config, started_at, closed_at FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.RouteID, &s.DriverID, &cfg, &s.StartedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrackingSession{}, ErrNotFound
	}
	if err != nil {
		return model.TrackingSession{}, err
	}
	if err := json.Unmarshal(cfg, &s.Config); err != nil {
		return model.TrackingSession{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	return s, nil
}

func (p *Postgres) CloseSession(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET closed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendFix(ctx context.Context, sessionID string, fix model.LocationFix) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO fixes (session_id, lat, lng, accuracy_m, altitude_m, heading_deg, speed_mps, ts_ms)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sessionID, fix.Coord.Lat, fix.Coord.Lng, fix.AccuracyM, fix.AltitudeM, fix.HeadingDeg, fix.SpeedMps, fix.TimestampMs)
	return err
}

func (p *Postgres) ListFixes(ctx context.Context, sessionID string, limit int) ([]model.LocationFix, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT lat, lng, accuracy_m, altitude_m, heading_deg, speed_mps, ts_ms
		 FROM (SELECT * FROM fixes WHERE session_id = $1 ORDER BY ts_ms DESC LIMIT $2) t
		 ORDER BY ts_ms ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.LocationFix{}
	for rows.Next() {
		var f model.LocationFix
		if err := rows.Scan(&f.Coord.Lat, &f.Coord.Lng, &f.AccuracyM, &f.AltitudeM, &f.HeadingDeg, &f.SpeedMps, &f.TimestampMs); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateGeofence(ctx context.Context, b model.GeofenceBoundary) (model.GeofenceBoundary, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return model.GeofenceBoundary{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO geofences (id, doc) VALUES ($1, $2)`, b.ID, doc)
	return b, err
}

func (p *Postgres) GetGeofence(ctx context.Context, id string) (model.GeofenceBoundary, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM geofences WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GeofenceBoundary{}, ErrNotFound
	}
	if err != nil {
		return model.GeofenceBoundary{}, err
	}
	var b model.GeofenceBoundary
	if err := json.Unmarshal(doc, &b); err != nil {
		return model.GeofenceBoundary{}, err
	}
	return b, nil
}

func (p *Postgres) ListGeofences(ctx context.Context) ([]model.GeofenceBoundary, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM geofences ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.GeofenceBoundary{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var b model.GeofenceBoundary
		if err := json.Unmarshal(doc, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateGeofence(ctx context.Context, b model.GeofenceBoundary) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE geofences SET doc = $2 WHERE id = $1`, b.ID, doc)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteGeofence(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM geofences WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: newID(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
		s.ID, s.URL, strings.Join(s.Events, ","), s.Secret)
	return s, err
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSubscription(rows *sql.Rows) (model.Subscription, error) {
	var s model.Subscription
	var events string
	if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
		return model.Subscription{}, err
	}
	if events != "" {
		s.Events = strings.Split(events, ",")
	}
	return s, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	all, err := p.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.Subscription{}
	for _, s := range all {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := newID()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload)
		 VALUES ($1,$2,$3,$4,$5,$6)`, id, subscriptionID, eventType, url, secret, payload)
	return id, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, subscription_id, event_type, url, secret, payload, status, attempts
		 FROM webhook_deliveries
		 WHERE status = 'pending' AND next_attempt_at <= now()
		 ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	status := "pending"
	if success {
		status = "delivered"
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = $2, attempts = attempts + 1, next_attempt_at = COALESCE($3, next_attempt_at),
		     last_error = $4, response_code = $5, latency_ms = $6
		 WHERE id = $1`, id, status, nextAttemptAt, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'failed', attempts = attempts + 1, last_error = $2, response_code = $3, latency_ms = $4
		 WHERE id = $1`, id, lastError, responseCode, latencyMs)
	return err
}
