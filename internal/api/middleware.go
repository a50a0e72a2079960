package api

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"binroute/internal/metrics"
)

// statusRecorder captures the response code while still supporting
// streaming and connection upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			"remote", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code(),
			"duration", time.Since(start))
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	metrics.RegisterDefault()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec, ok := w.(*statusRecorder)
		if !ok {
			rec = &statusRecorder{ResponseWriter: w}
		}
		next.ServeHTTP(rec, r)
		labels := []string{r.Method, pathLabel(r.URL.Path), strconv.Itoa(rec.code())}
		metrics.HTTPRequests.WithLabelValues(labels...).Inc()
		metrics.HTTPDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// pathLabel collapses route ids so metric cardinality stays bounded.
func pathLabel(p string) string {
	rest, ok := strings.CutPrefix(p, "/v1/routes/")
	if !ok || rest == "" || rest == "ws" {
		return p
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return "/v1/routes/{id}"
	}
	return "/v1/routes/{id}/" + parts[1]
}

func metricsHandler() http.Handler {
	metrics.RegisterDefault()
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
