package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API
// replica sees routes published by any other.
type RedisBroker struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{rdb: rdb, logger: logger, subs: map[chan Event]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(routeID string) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(routeID))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		b.logger.Warn("redis subscribe failed", "route_id", routeID, "error", err)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Pub/Sub connection; the forwarding goroutine then
// closes ch.
func (b *RedisBroker) Unsubscribe(routeID string, ch chan Event) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(routeID string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.chanName(routeID), data).Err(); err != nil {
		b.logger.Warn("redis publish failed", "route_id", routeID, "error", err)
	}
}

func (b *RedisBroker) chanName(routeID string) string { return "route:" + routeID }
