package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"binroute/internal/auth"
	"binroute/internal/metrics"
	"binroute/internal/model"
	"binroute/internal/planner"
	"binroute/internal/store"
)

const internalErrorMessage = "An internal error has occurred."

// RunOptimizationHandler handles POST /run-optimization and /v1/optimize.
// Runs for the same route are serialized through RunExclusive.
func (s *Server) RunOptimizationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeProblem(w, http.StatusMethodNotAllowed, "", "", r.URL.Path)
		return
	}
	if _, ok := s.authorize(w, r, auth.Principal.CanTrigger, "admin or dispatcher"); !ok {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "", "optimization rate limit exceeded", r.URL.Path)
		return
	}
	req, err := decodeOptimizeRequest(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	p := req.apply(*s.Planner)
	routeID := p.RouteID
	if routeID == "" {
		routeID = planner.DefaultRouteID
	}

	start := time.Now()
	res, err := s.RunExclusive(r.Context(), p)
	var lockErr *LockError
	if errors.As(err, &lockErr) {
		metrics.OptimizationRuns.WithLabelValues("lock_error").Inc()
		s.Logger.Warn("optimization lock not acquired", "route_id", routeID, "error", err)
		status := http.StatusInternalServerError
		if r.Context().Err() != nil {
			status = http.StatusServiceUnavailable
		}
		writeRunError(w, status, internalErrorMessage)
		return
	}
	metrics.OptimizationDuration.Observe(time.Since(start).Seconds())
	if res.Stats.Nodes > 2 {
		metrics.SolverIterations.Observe(float64(res.Stats.Iterations))
	}
	if res.Stats.TimedOut {
		metrics.SolverTimeouts.Inc()
	}

	switch {
	case err == nil:
	case errors.Is(err, planner.ErrDataUnavailable):
		metrics.OptimizationRuns.WithLabelValues("no_data").Inc()
		writeJSON(w, http.StatusOK, RunResponse{
			Status:  "success",
			Message: "No bins need collection. Route left unchanged.",
			RouteID: routeID,
			RunID:   res.RunID,
		})
		return
	default:
		metrics.OptimizationRuns.WithLabelValues(runOutcome(err)).Inc()
		s.Logger.Error("optimization failed", "route_id", routeID, "run_id", res.RunID, "error", fmt.Sprintf("%+v", err))
		writeRunError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}

	metrics.OptimizationRuns.WithLabelValues("success").Inc()
	doc := res.Route.Doc()
	metrics.RouteDistance.WithLabelValues(routeID).Set(doc.TotalDistanceKm)
	metrics.RouteStops.WithLabelValues(routeID).Set(float64(doc.TotalBins))

	evt := Event{Type: EventRoutePublished, Data: map[string]any{
		"routeId":         routeID,
		"runId":           res.RunID,
		"totalBins":       doc.TotalBins,
		"totalDistanceKm": doc.TotalDistanceKm,
		"createdAt":       doc.CreatedAt,
		"timedOut":        res.Stats.TimedOut,
	}}
	s.Broker.Publish(routeID, evt)
	if _, err := s.Hooks.Emit(evt.Type, evt.Data); err != nil {
		s.Logger.Warn("webhook enqueue failed", "route_id", routeID, "error", err)
	}
	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()

	writeJSON(w, http.StatusOK, RunResponse{
		Status:          "success",
		Message:         fmt.Sprintf("Optimization complete. Route saved as %s.", routeID),
		RouteID:         routeID,
		RunID:           res.RunID,
		TotalBins:       doc.TotalBins,
		TotalDistanceKm: doc.TotalDistanceKm,
		TimedOut:        res.Stats.TimedOut,
	})
}

func runOutcome(err error) string {
	switch {
	case errors.Is(err, planner.ErrSource):
		return "source_error"
	case errors.Is(err, planner.ErrSink):
		return "sink_error"
	case errors.Is(err, planner.ErrInfeasible):
		return "infeasible"
	default:
		return "error"
	}
}

// RouteByIDHandler handles GET /v1/routes/{id}, /v1/routes/{id}/geojson and
// the SSE stream at /v1/routes/{id}/events/stream.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/routes/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "", "missing id", path)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeProblem(w, http.StatusMethodNotAllowed, "", "", path)
		return
	}
	if _, ok := s.authorize(w, r, anyRole, ""); !ok {
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		rt, ok := s.loadRoute(w, r, id)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, rt.Doc())
	case len(parts) == 2 && parts[1] == "geojson":
		rt, ok := s.loadRoute(w, r, id)
		if !ok {
			return
		}
		b, err := json.Marshal(RouteFeatures(rt))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Encoding failed", err.Error(), path)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
		s.streamRouteEvents(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "", "", path)
	}
}

func (s *Server) loadRoute(w http.ResponseWriter, r *http.Request, id string) (model.Route, bool) {
	route, err := s.Store.GetRoute(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Route not found", id, r.URL.Path)
		return model.Route{}, false
	}
	if err != nil {
		s.Logger.Error("get route failed", "route_id", id, "error", err)
		writeProblem(w, http.StatusInternalServerError, "Get route failed", internalErrorMessage, r.URL.Path)
		return model.Route{}, false
	}
	return route, true
}

var heartbeatInterval = 15 * time.Second

func (s *Server) streamRouteEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// PlanMetricsHandler reports the latest solver statistics per route.
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "", "", r.URL.Path)
		return
	}
	if _, ok := s.authorize(w, r, auth.Principal.IsAdmin, "admin"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.planMetrics(r.URL.Query().Get("routeId"))})
}

func (s *Server) planMetrics(routeID string) []map[string]any {
	snap := s.Stats.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		if routeID == "" || id == routeID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		st := snap[id]
		items = append(items, map[string]any{
			"routeId":     id,
			"nodes":       st.Nodes,
			"initialCost": st.InitialCost,
			"finalCost":   st.FinalCost,
			"iterations":  st.Iterations,
			"twoOptMoves": st.TwoOptMoves,
			"orOptMoves":  st.OrOptMoves,
			"timedOut":    st.TimedOut,
			"elapsedMs":   st.Elapsed.Milliseconds(),
		})
	}
	return items
}

// WebhookDLQHandler lists deliveries that exhausted their attempts.
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "", "", r.URL.Path)
		return
	}
	if _, ok := s.authorize(w, r, auth.Principal.IsAdmin, "admin"); !ok {
		return
	}
	items := []map[string]any{}
	pending := 0
	if s.Hooks != nil {
		eventType := r.URL.Query().Get("eventType")
		for _, d := range s.Hooks.Queue.Dead() {
			if eventType != "" && d.EventType != eventType {
				continue
			}
			items = append(items, map[string]any{
				"id":           d.ID,
				"url":          d.URL,
				"eventType":    d.EventType,
				"attempts":     d.Attempts,
				"lastError":    d.LastError,
				"responseCode": d.ResponseCode,
				"createdAt":    d.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		pending = s.Hooks.Queue.Pending()
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "pending": pending})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.Store.(store.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "store": s.Store.Name()})
}
