// Package planner runs one optimization pass: read candidates, select stops,
// build the distance matrix, solve the tour and publish the route.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"binroute/internal/model"
	"binroute/internal/opt"
	"binroute/internal/store"
)

var (
	// ErrDataUnavailable means there was nothing to route. Nothing is written.
	ErrDataUnavailable = errors.New("no bins available for routing")
	// ErrInfeasible means the solver could not produce a valid tour.
	ErrInfeasible = opt.ErrInfeasible
	// ErrSource wraps failures reading candidates.
	ErrSource = errors.New("prediction source failed")
	// ErrSink wraps failures publishing the route.
	ErrSink = errors.New("route sink failed")
)

// DefaultRouteID is the document id the route is published under.
const DefaultRouteID = "route_1"

// Planner wires the optimization stages to a source and a sink.
type Planner struct {
	Source  store.PredictionSource
	Sink    store.RouteSink
	RouteID string
	Depot   model.Coordinate
	Policy  opt.Policy
	Solver  opt.SolverOptions
	Logger  *slog.Logger
	Stats   *opt.StatsStore
	Now     func() time.Time
}

// Result summarizes a run.
type Result struct {
	RunID      string
	RouteID    string
	Route      model.Route
	Candidates int
	Fallback   bool
	UrgentSeen int
	Excluded   []string // selected bins dropped for lack of a location
	Duplicates []string
	Rejected   []string
	Stats      opt.SolverStats
}

// Run performs one pass. On any error the previously published route is left
// untouched.
func (p *Planner) Run(ctx context.Context) (Result, error) {
	log := p.logger()
	res := Result{RunID: uuid.NewString(), RouteID: p.routeID()}
	log = log.With("run_id", res.RunID, "route_id", res.RouteID)

	cands, err := p.Source.ListCandidates(ctx)
	if err != nil {
		return res, mark(ErrSource, err, "list candidates")
	}
	res.Candidates = len(cands)
	if len(cands) == 0 {
		log.Info("no candidates")
		return res, errors.WithStack(ErrDataUnavailable)
	}

	sel := opt.SelectStops(cands, p.policy())
	res.Fallback, res.UrgentSeen = sel.Fallback, sel.UrgentSeen
	res.Duplicates, res.Rejected = sel.Duplicates, sel.Rejected
	if len(sel.Duplicates) > 0 {
		log.Warn("duplicate bin ids ignored", "ids", sel.Duplicates)
	}
	if len(sel.Rejected) > 0 {
		log.Warn("bins with unusable fill level rejected", "ids", sel.Rejected)
	}
	log.Info("stops selected",
		"candidates", len(cands), "urgent", sel.UrgentSeen,
		"selected", len(sel.Stops), "fallback", sel.Fallback)

	m, kept, dropped := opt.BuildMatrix(p.Depot, sel.Stops)
	res.Excluded = dropped
	if len(dropped) > 0 {
		log.Warn("bins without location excluded", "ids", dropped)
	}
	if len(kept) == 0 {
		log.Info("nothing left to route after filtering")
		return res, errors.WithStack(ErrDataUnavailable)
	}

	tour, stats, err := opt.SolveTour(ctx, m, p.Solver)
	res.Stats = stats
	if err != nil {
		return res, errors.Wrap(err, "solve tour")
	}
	if stats.TimedOut {
		log.Warn("solver budget exhausted; using best tour found", "iterations", stats.Iterations)
	}

	route, err := opt.FormatRoute(tour, p.Depot, kept, p.now())
	if err != nil {
		return res, mark(ErrInfeasible, err, "format route")
	}
	res.Route = route

	if err := p.Sink.SaveRoute(ctx, res.RouteID, route); err != nil {
		return res, mark(ErrSink, err, "save route")
	}
	if p.Stats != nil {
		p.Stats.Record(res.RouteID, stats)
	}
	log.Info("route published",
		"stops", route.StopCount,
		"distance_km", route.TotalDistanceKm,
		"initial_cost_m", stats.InitialCost,
		"final_cost_m", stats.FinalCost,
		"iterations", stats.Iterations,
		"elapsed", stats.Elapsed)
	return res, nil
}

// mark tags err with a sentinel while keeping both matchable with errors.Is.
func mark(sentinel, err error, msg string) error {
	return errors.WithStack(fmt.Errorf("%s: %w: %w", msg, sentinel, err))
}

func (p *Planner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Planner) routeID() string {
	if p.RouteID != "" {
		return p.RouteID
	}
	return DefaultRouteID
}

func (p *Planner) policy() opt.Policy {
	if p.Policy == (opt.Policy{}) {
		return opt.DefaultPolicy()
	}
	return p.Policy
}

func (p *Planner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
