package store

import (
	"context"
	"errors"

	"binroute/internal/model"
)

// PredictionSource supplies the bins considered for a run.
type PredictionSource interface {
	// ListCandidates returns one candidate per known bin id. A bin without a
	// prediction has unknown hours; a prediction without a bin record has no
	// location.
	ListCandidates(ctx context.Context) ([]model.BinCandidate, error)
}

// RouteSink publishes a route, replacing any previous one under the same id.
type RouteSink interface {
	SaveRoute(ctx context.Context, routeID string, r model.Route) error
}

// RouteReader reads back a published route.
type RouteReader interface {
	GetRoute(ctx context.Context, routeID string) (model.Route, error)
}

// Store is what the API server needs from a backend.
type Store interface {
	PredictionSource
	RouteSink
	RouteReader
	// Name identifies the backend in logs and /debug/info.
	Name() string
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Seeder is implemented by backends that accept fixture data.
type Seeder interface {
	Seed(ctx context.Context, f Fixture) error
}

var ErrNotFound = errors.New("not found")
