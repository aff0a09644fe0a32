package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fieldroute/internal/model"
)

// Driver progress channel over WebSocket. The client sends "progress"
// messages; the server answers each with "result" (or "error") and forwards
// route events published by any replica as "event".

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsReadTimeout = 60 * time.Second
	wsPingEvery   = 20 * time.Second
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) progressSocket(w http.ResponseWriter, r *http.Request, tenant, routeID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	payload := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := s.Broker.Subscribe(routeID)
	defer s.Broker.Unsubscribe(routeID, ch)
	go func() {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := write(wsMessage{Type: "event", Payload: payload(evt)}); err != nil {
					return
				}
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	_ = write(wsMessage{Type: "connection_ack", Payload: payload(map[string]string{"routeId": routeID})})
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] route=%s read err=%v", routeID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong", ID: msg.ID})
		case "progress":
			var req model.ProgressRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: payload(map[string]string{"message": "invalid payload: " + err.Error()})})
				continue
			}
			res, err := s.applyProgress(ctx, tenant, routeID, req)
			if err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: payload(map[string]string{"message": err.Error()})})
				continue
			}
			_ = write(wsMessage{Type: "result", ID: msg.ID, Payload: payload(res)})
		default:
			_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: payload(map[string]string{"message": "unknown message type " + msg.Type})})
		}
	}
}
