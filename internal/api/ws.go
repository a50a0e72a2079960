package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Route events over WebSocket using the connection_init / subscribe / next /
// complete message flow.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

var wsPingInterval = 20 * time.Second

// RouteEventsWSHandler handles /v1/routes/ws. A subscribe message names its
// route with variables.routeId; ?routeId= on the URL is the default.
func (s *Server) RouteEventsWSHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, anyRole, ""); !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		routeID string
		ch      chan Event
	}
	subs := map[string]sub{}
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// gorilla connections allow one concurrent writer.
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	fail := func(id, message string) {
		payload, _ := json.Marshal(map[string]string{"message": message})
		_ = write(wsMessage{Type: "error", ID: id, Payload: payload})
		_ = write(wsMessage{Type: "complete", ID: id})
	}

	defaultRoute := r.URL.Query().Get("routeId")
	initialized := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			if initialized {
				continue
			}
			initialized = true
			go func() {
				ticker := time.NewTicker(wsPingInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if msg.ID == "" {
				fail("", "subscription id required")
				continue
			}
			if _, dup := subs[msg.ID]; dup {
				fail(msg.ID, "subscription id already in use")
				continue
			}
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			rid := defaultRoute
			if v, ok := pl.Variables["routeId"].(string); ok && v != "" {
				rid = v
			}
			if rid == "" {
				fail(msg.ID, "routeId required")
				continue
			}
			ch := s.Broker.Subscribe(rid)
			subs[msg.ID] = sub{routeID: rid, ch: ch}
			go func(id string, c chan Event) {
				for evt := range c {
					payload, _ := json.Marshal(map[string]any{"data": map[string]any{"routeEvents": evt}})
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.routeID, s0.ch)
				delete(subs, msg.ID)
			}
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.routeID, s0.ch)
		delete(subs, id)
	}
}
