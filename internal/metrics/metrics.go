package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizationRuns counts runs by outcome: success, no_data, infeasible, source_error, sink_error, lock_error, error
	OptimizationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimization_runs_total", Help: "Optimization runs by outcome."},
		[]string{"outcome"},
	)
	// OptimizationDuration tracks end-to-end run time in seconds
	OptimizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimization_run_duration_seconds", Help: "Optimization run duration in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20}},
	)
	// SolverIterations records improving moves applied per solve
	SolverIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "solver_iterations", Help: "Improving moves applied per solve.", Buckets: prometheus.ExponentialBuckets(1, 2, 12)},
	)
	// SolverTimeouts counts solves that ran out of budget
	SolverTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "solver_timeouts_total", Help: "Solves that stopped on the time budget."},
	)
	// RouteDistance is the total distance of the last published route per route id
	RouteDistance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "route_total_distance_km", Help: "Total distance of the last published route."},
		[]string{"route_id"},
	)
	// RouteStops is the bin stop count of the last published route per route id
	RouteStops = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "route_stops", Help: "Bin stops in the last published route."},
		[]string{"route_id"},
	)
	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
	// EventsPublished counts route events handed to the broker
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_events_published_total", Help: "Route events published by type."},
		[]string{"type"},
	)
)

// RegisterDefault registers collectors to the API registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizationRuns)
		Registry.MustRegister(OptimizationDuration)
		Registry.MustRegister(SolverIterations)
		Registry.MustRegister(SolverTimeouts)
		Registry.MustRegister(RouteDistance)
		Registry.MustRegister(RouteStops)
		Registry.MustRegister(EventsPublished)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
