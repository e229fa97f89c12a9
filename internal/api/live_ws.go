package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"drivenav/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// fixFromData decodes a fix pushed by the client inside a ws message.
func fixFromData(data map[string]any) (model.LocationFix, error) {
	var fix model.LocationFix
	raw, err := json.Marshal(data)
	if err != nil {
		return fix, err
	}
	if err := json.Unmarshal(raw, &fix); err != nil {
		return fix, err
	}
	if fix.TimestampMs == 0 {
		fix.TimestampMs = time.Now().UnixMilli()
	}
	return fix, fix.Validate()
}

// SessionLiveHandler streams a session's events (fixes, geofence transitions,
// progress, lifecycle) over WebSocket at /v1/sessions/{id}/live.
func (s *Server) SessionLiveHandler(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.Store.GetSession(r.Context(), id); err != nil {
		writeProblem(w, http.StatusNotFound, "Session not found", err.Error(), r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	// writes come from two goroutines (fanout and ping), serialize them
	writes := make(chan wsMessage, 16)
	done := make(chan struct{})

	// most recent fix first so a new consumer has a position immediately
	if latest, ok := s.Locations.Get(id); ok {
		writes <- wsMessage{Type: "location.fix", Data: map[string]any{
			"sessionId":   latest.SessionID,
			"lat":         latest.Fix.Coord.Lat,
			"lng":         latest.Fix.Coord.Lng,
			"timestampMs": latest.Fix.TimestampMs,
		}}
	}

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-writes:
				if !ok {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		for evt := range ch {
			select {
			case writes <- wsMessage{Type: evt.Type, Data: evt.Data}:
			case <-done:
				return
			}
		}
	}()

	// read loop: drivers may push fixes over the same connection
	ls, live := s.sessions.get(id)
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if msg.Type != "location.fix" || !live || ls.Source == nil {
			continue
		}
		fix, err := fixFromData(msg.Data)
		if err != nil || !ls.Limiter.Allow() {
			continue
		}
		ls.Source.Push(fix)
	}
	close(done)
}
