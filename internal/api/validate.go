package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"binroute/internal/planner"
)

const maxRunBudget = 5 * time.Minute

// OptimizeRequest optionally overrides the configured policy for one run.
// An empty body runs with the configured settings.
type OptimizeRequest struct {
	FillThreshold *float64 `json:"fill_threshold,omitempty"`
	TimeThreshold *float64 `json:"time_threshold,omitempty"`
	MaxStops      *int     `json:"max_stops,omitempty"`
	TimeBudgetMs  *int     `json:"time_budget_ms,omitempty"`
}

func decodeOptimizeRequest(r *http.Request) (OptimizeRequest, error) {
	var req OptimizeRequest
	if r.Body == nil {
		return req, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req)
	if err == io.EOF {
		return req, nil
	}
	if err != nil {
		return req, fmt.Errorf("invalid JSON: %v", err)
	}
	return req, validateOptimizeRequest(&req)
}

func validateOptimizeRequest(req *OptimizeRequest) error {
	if req.FillThreshold != nil && *req.FillThreshold > 100 {
		return fmt.Errorf("fill_threshold must be <= 100")
	}
	if req.MaxStops != nil && (*req.MaxStops < 1 || *req.MaxStops > 500) {
		return fmt.Errorf("max_stops must be in [1,500]")
	}
	if req.TimeBudgetMs != nil {
		if *req.TimeBudgetMs <= 0 {
			return fmt.Errorf("time_budget_ms must be > 0")
		}
		if int64(*req.TimeBudgetMs) > maxRunBudget.Milliseconds() {
			return fmt.Errorf("time_budget_ms must be <= %d", maxRunBudget.Milliseconds())
		}
	}
	fill, hours := -1.0, -1.0
	if req.FillThreshold != nil {
		fill = *req.FillThreshold
	}
	if req.TimeThreshold != nil {
		hours = *req.TimeThreshold
	}
	if req.FillThreshold != nil && req.TimeThreshold != nil && fill < 0 && hours < 0 {
		return fmt.Errorf("fill_threshold and time_threshold cannot both be disabled")
	}
	return nil
}

// apply returns a copy of base with the overrides set.
func (req OptimizeRequest) apply(base planner.Planner) *planner.Planner {
	p := base
	if req.FillThreshold != nil {
		p.Policy.FillThreshold = *req.FillThreshold
	}
	if req.TimeThreshold != nil {
		p.Policy.TimeThreshold = *req.TimeThreshold
	}
	if req.MaxStops != nil {
		p.Policy.MaxStops = *req.MaxStops
	}
	if req.TimeBudgetMs != nil {
		p.Solver.TimeBudget = time.Duration(*req.TimeBudgetMs) * time.Millisecond
	}
	return &p
}
