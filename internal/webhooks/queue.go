package webhooks

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delivery is one pending POST of an event payload to a subscriber URL.
type Delivery struct {
	ID            string
	URL           string
	EventType     string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	CreatedAt     time.Time
}

// Queue holds deliveries until they succeed or exhaust their attempts.
// Exhausted deliveries move to the dead-letter list.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*Delivery
	dead    []Delivery
	now     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{pending: map[string]*Delivery{}, now: time.Now}
}

func (q *Queue) Enqueue(url, eventType string, payload []byte) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	d := &Delivery{
		ID:            "whd_" + uuid.NewString(),
		URL:           url,
		EventType:     eventType,
		Payload:       payload,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	q.pending[d.ID] = d
	return d.ID
}

// Due returns up to limit deliveries whose next attempt time has passed,
// oldest first.
func (q *Queue) Due(limit int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	out := []Delivery{}
	for _, d := range q.pending {
		if !d.NextAttemptAt.After(now) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Mark records an attempt. Successful deliveries leave the queue; failed ones
// are rescheduled at next.
func (q *Queue) Mark(id string, success bool, next time.Time, lastError string, code, latencyMs int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.pending[id]
	if !ok {
		return
	}
	if success {
		delete(q.pending, id)
		return
	}
	d.Attempts++
	d.NextAttemptAt = next
	d.LastError = lastError
	d.ResponseCode = code
	d.LatencyMs = latencyMs
}

// Fail dead-letters a delivery.
func (q *Queue) Fail(id, lastError string, code, latencyMs int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.pending[id]
	if !ok {
		return
	}
	delete(q.pending, id)
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = code
	d.LatencyMs = latencyMs
	q.dead = append(q.dead, *d)
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dead returns a copy of the dead-letter list.
func (q *Queue) Dead() []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Delivery(nil), q.dead...)
}
