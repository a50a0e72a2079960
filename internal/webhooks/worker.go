package webhooks

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"binroute/internal/metrics"
)

// Worker drains the queue, signing each body when a secret is configured.
type Worker struct {
	Queue       *Queue
	HTTP        *http.Client
	Secret      string
	MaxAttempts int
	Interval    time.Duration
	Logger      *slog.Logger

	stop chan struct{}
	done sync.WaitGroup
}

func NewWorker(q *Queue, secret string, maxAttempts int, logger *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Queue:       q,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Secret:      secret,
		MaxAttempts: maxAttempts,
		Interval:    time.Second,
		Logger:      logger,
		stop:        make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

// Close stops the loop and waits for the current batch.
func (w *Worker) Close() {
	close(w.stop)
	w.done.Wait()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, it := range w.Queue.Due(50) {
		success := false
		next := time.Now().Add(nextBackoff(it.Attempts))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
		if err != nil {
			w.Queue.Fail(it.ID, err.Error(), 0, 0)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", it.EventType)
		if w.Secret != "" {
			req.Header.Set(SignatureHeader, Sign(w.Secret, time.Now(), it.Payload))
		}
		start := time.Now()
		resp, err := w.HTTP.Do(req)
		latency := int(time.Since(start).Milliseconds())
		code := 0
		if err == nil && resp != nil {
			code = resp.StatusCode
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			if code >= 200 && code < 300 {
				success = true
			}
		}
		lastErr := ""
		if err != nil {
			lastErr = err.Error()
		} else if !success {
			lastErr = http.StatusText(code)
		}
		status := "success"
		switch {
		case success:
			w.Queue.Mark(it.ID, true, next, "", code, latency)
		case it.Attempts+1 >= w.MaxAttempts:
			status = "failed"
			w.Queue.Fail(it.ID, lastErr, code, latency)
			w.Logger.Warn("webhook dead-lettered", "id", it.ID, "url", it.URL, "code", code, "error", lastErr)
		default:
			status = "retry"
			w.Queue.Mark(it.ID, false, next, lastErr, code, latency)
		}
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
		metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
