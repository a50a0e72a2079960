package api

import (
	"sync"
)

// Event is a route notification delivered over SSE, WebSocket and webhooks.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventRoutePublished is emitted after a route document is replaced.
const EventRoutePublished = "route.published"

// EventBroker fans events out to subscribers of a route id.
type EventBroker interface {
	Subscribe(routeID string) chan Event
	Unsubscribe(routeID string, ch chan Event)
	Publish(routeID string, evt Event)
}

// Broker is the in-process EventBroker. Slow subscribers miss events rather
// than block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // routeId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(routeID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[routeID] == nil {
		b.subs[routeID] = map[chan Event]struct{}{}
	}
	b.subs[routeID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(routeID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[routeID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, routeID)
	}
	close(ch)
}

func (b *Broker) Publish(routeID string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[routeID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
