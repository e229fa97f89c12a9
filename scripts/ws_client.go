// Package main runs a demo WebSocket client for session live events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Optimize a small route
	optBody := []byte(`{
		"start": {"lat": 25.2048, "lng": 55.2708},
		"vehicleType": "car",
		"deliveries": [
			{"id": "d1", "lat": 25.2100, "lng": 55.2750},
			{"id": "d2", "lat": 25.2000, "lng": 55.2650},
			{"id": "d3", "lat": 25.2200, "lng": 55.2800}
		]
	}`)
	resp, err := http.Post(base+"/v1/optimize", "application/json", bytes.NewReader(optBody))
	if err != nil {
		log.Fatal(err)
	}
	var rt struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rt); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("Route ID: %s", rt.ID)

	// Start a tracking session against the route
	sessBody := []byte(fmt.Sprintf(`{"routeId":%q,"driverId":"drv_demo"}`, rt.ID))
	resp, err = http.Post(base+"/v1/sessions", "application/json", bytes.NewReader(sessBody))
	if err != nil {
		log.Fatal(err)
	}
	var sess struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("Session ID: %s", sess.ID)

	// Connect to the live stream
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/sessions/" + sess.ID + "/live"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s", string(msg))
		}
	}()

	// Feed a few fixes
	fixes := []string{
		`{"coord":{"lat":25.2050,"lng":55.2710}}`,
		`{"coord":{"lat":25.2090,"lng":55.2745}}`,
		`{"coord":{"lat":25.2100,"lng":55.2750}}`,
	}
	for _, f := range fixes {
		time.Sleep(500 * time.Millisecond)
		r2, err := http.Post(base+"/v1/sessions/"+sess.ID+"/fixes", "application/json", bytes.NewReader([]byte(f)))
		if err != nil {
			log.Fatal(err)
		}
		_ = r2.Body.Close()
	}

	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
}
