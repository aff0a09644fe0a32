// Package main runs a demo driver client: it plans a route, opens the
// progress WebSocket and reports each stop as completed.
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

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Plan a small route from inline stops
	body, _ := json.Marshal(map[string]any{
		"start": point{40.7128, -74.0060},
		"stops": []map[string]any{
			{"id": "s1", "location": point{40.7306, -73.9866}},
			{"id": "s2", "location": point{40.7484, -73.9857}},
			{"id": "s3", "location": point{40.7061, -74.0087}},
			{"id": "s4", "location": point{40.7580, -73.9855}},
		},
		"constraints": map[string]any{"optimizeFor": "balanced"},
	})
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var planned struct {
		ID    string `json:"id"`
		Route struct {
			Waypoints []struct {
				Stop struct {
					ID  string `json:"id"`
					Loc point  `json:"location"`
				} `json:"stop"`
			} `json:"waypoints"`
		} `json:"route"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&planned); err != nil {
		log.Fatal(err)
	}
	if planned.ID == "" {
		log.Fatalf("optimize failed: status %d", resp.StatusCode)
	}
	log.Printf("Route ID: %s", planned.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/routes/" + planned.ID + "/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s %s: %.200s", m.Type, m.ID, string(m.Payload))
		}
	}()

	// Report arrival at each stop in turn
	var completed []string
	for i, wp := range planned.Route.Waypoints {
		time.Sleep(500 * time.Millisecond)
		completed = append(completed, wp.Stop.ID)
		pl, _ := json.Marshal(map[string]any{"location": wp.Stop.Loc, "completedStops": completed})
		if err := c.WriteJSON(wsMessage{Type: "progress", ID: fmt.Sprint(i + 1), Payload: pl}); err != nil {
			log.Fatal(err)
		}
	}

	// Wait briefly to receive the last replies
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
