package webhooks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Envelope is the JSON body of every delivery. ID is stable across retries
// so receivers can deduplicate.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"ts"`
	Data       any       `json:"data"`
}

// Publisher fans events out to every configured subscriber URL.
type Publisher struct {
	Queue *Queue
	URLs  []string
	now   func() time.Time
}

func NewPublisher(q *Queue, urls []string) *Publisher {
	return &Publisher{Queue: q, URLs: urls, now: time.Now}
}

// Emit enqueues one delivery per URL and returns the envelope id, or "" when
// there is nobody to notify.
func (p *Publisher) Emit(eventType string, data any) (string, error) {
	if p == nil || len(p.URLs) == 0 {
		return "", nil
	}
	env := Envelope{
		ID:         "evt_" + uuid.NewString(),
		Type:       eventType,
		OccurredAt: p.now().UTC().Truncate(time.Second),
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", errors.Wrapf(err, "encode %s envelope", eventType)
	}
	for _, u := range p.URLs {
		p.Queue.Enqueue(u, eventType, body)
	}
	return env.ID, nil
}
