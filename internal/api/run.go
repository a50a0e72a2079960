package api

import (
	"context"
	"time"

	"binroute/internal/opt"
	"binroute/internal/planner"
)

// runLockMargin covers loading predictions and writing the route around the
// solver's time budget.
const runLockMargin = 30 * time.Second

// runLockTTL is how long a run of p may hold its route lock.
func runLockTTL(p *planner.Planner) time.Duration {
	budget := p.Solver.TimeBudget
	if budget <= 0 {
		budget = opt.DefaultTimeBudget
	}
	return budget + runLockMargin
}

func runLockKey(routeID string) string {
	if routeID == "" {
		routeID = planner.DefaultRouteID
	}
	return "optimize:" + routeID
}

// RunExclusive runs p while holding its route's run lock, so two triggers
// never write the same route document at once. ctx bounds the wait for the
// lock; once taken the run is not cancelled with ctx. A lock failure is
// returned as *LockError.
func (s *Server) RunExclusive(ctx context.Context, p *planner.Planner) (planner.Result, error) {
	key := runLockKey(p.RouteID)
	unlock, err := s.Locker.Lock(ctx, key, runLockTTL(p))
	if err != nil {
		return planner.Result{}, &LockError{Key: key, Err: err}
	}
	defer unlock()
	return p.Run(context.WithoutCancel(ctx))
}
