package api

import (
	"sync"

	"drivenav/internal/model"
)

// LatestLocation is the most recent accepted fix for a tracking session.
type LatestLocation struct {
	SessionID string         `json:"sessionId"`
	RouteID   string         `json:"routeId,omitempty"`
	Fix       model.LocationFix `json:"fix"`
}

// LocationCache stores the latest fix per session so new live consumers get
// a position immediately instead of waiting for the next fix.
type LocationCache struct {
	mu sync.Mutex
	m  map[string]LatestLocation // sessionId -> latest
}

// NewLocationCache constructs a LocationCache.
func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]LatestLocation{}} }

// Upsert stores or updates the latest fix for a session.
func (c *LocationCache) Upsert(sessionID, routeID string, fix model.LocationFix) {
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[sessionID] = LatestLocation{SessionID: sessionID, RouteID: routeID, Fix: fix}
}

// Get returns the latest fix for a session, if any.
func (c *LocationCache) Get(sessionID string) (LatestLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[sessionID]
	return v, ok
}

// Drop removes a session's cached fix.
func (c *LocationCache) Drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, sessionID)
}
