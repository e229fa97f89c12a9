package api

import (
	"sync"

	"drivenav/internal/model"
)

// sessionRegistry tracks the live (in-process) tracking sessions.
type sessionRegistry struct {
	mu sync.Mutex
	m  map[string]*liveSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{m: map[string]*liveSession{}}
}

func (r *sessionRegistry) put(ls *liveSession) {
	r.mu.Lock()
	r.m[ls.Session.ID] = ls
	r.mu.Unlock()
}

func (r *sessionRegistry) get(id string) (*liveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.m[id]
	return ls, ok
}

func (r *sessionRegistry) remove(id string) (*liveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.m[id]
	if ok {
		delete(r.m, id)
	}
	return ls, ok
}

// addFence propagates a geofence change to every live evaluator.
func (r *sessionRegistry) addFence(b model.GeofenceBoundary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ls := range r.m {
		ls.Fences.Add(b)
	}
}

// removeFence removes a geofence from every live evaluator.
func (r *sessionRegistry) removeFence(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ls := range r.m {
		ls.Fences.Remove(id)
	}
}
