// Demo client: subscribes to a route's events over the WebSocket endpoint,
// triggers one optimization run and prints the route.published event.
//
//	PORT=8080 ROUTE_ID=route_1 TOKEN=... go run scripts/ws_client.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func trigger(base, token string) error {
	req, err := http.NewRequest(http.MethodPost, base+"/run-optimization", nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	log.Printf("trigger: HTTP %d %s", resp.StatusCode, body)
	return nil
}

func main() {
	host := "localhost:" + env("PORT", "8080")
	routeID := env("ROUTE_ID", "route_1")
	token := os.Getenv("TOKEN")

	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	u := url.URL{Scheme: "ws", Host: host, Path: "/v1/routes/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatalf("dial %s: %v", u.String(), err)
	}
	defer func() { _ = c.Close() }()
	_ = c.SetReadDeadline(time.Now().Add(30 * time.Second))

	if err := c.WriteJSON(frame{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	var ack frame
	if err := c.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		log.Fatalf("handshake: type=%q err=%v", ack.Type, err)
	}

	sub, _ := json.Marshal(map[string]any{
		"query":     "subscription($routeId: ID!) { routeEvents(routeId: $routeId) }",
		"variables": map[string]any{"routeId": routeID},
	})
	if err := c.WriteJSON(frame{Type: "subscribe", ID: "1", Payload: sub}); err != nil {
		log.Fatal(err)
	}
	// the server answers pings in order, so a pong means the subscription is live
	if err := c.WriteJSON(frame{Type: "ping"}); err != nil {
		log.Fatal(err)
	}

	for {
		var m frame
		if err := c.ReadJSON(&m); err != nil {
			log.Fatalf("read: %v", err)
		}
		switch m.Type {
		case "pong":
			if err := trigger("http://"+host, token); err != nil {
				log.Fatal(err)
			}
		case "next":
			var body struct {
				Data struct {
					RouteEvents struct {
						Type string         `json:"type"`
						Data map[string]any `json:"data"`
					} `json:"routeEvents"`
				} `json:"data"`
			}
			if err := json.Unmarshal(m.Payload, &body); err != nil {
				log.Fatal(err)
			}
			evt := body.Data.RouteEvents
			fmt.Printf("%s route=%v bins=%v km=%v\n", evt.Type, evt.Data["routeId"], evt.Data["totalBins"], evt.Data["totalDistanceKm"])
			_ = c.WriteJSON(frame{Type: "complete", ID: "1"})
			return
		case "error":
			log.Fatalf("subscription error: %s", m.Payload)
		}
	}
}
