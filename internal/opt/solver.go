package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrInfeasible reports that no valid tour can be built from a matrix.
var ErrInfeasible = errors.New("tour infeasible")

// edgeLimit bounds a single entry of an n-node matrix so a tour sum, plus the
// few edges a move delta adds, cannot overflow int on any GOARCH.
func edgeLimit(n int) int {
	return math.MaxInt / (n + 4)
}

// Solver defaults.
const (
	DefaultTimeBudget        = 10 * time.Second
	DefaultParallelThreshold = 48
)

// SolverOptions tune the improvement phase.
type SolverOptions struct {
	TimeBudget        time.Duration // wall-clock limit for the whole solve
	MaxIterations     int           // 0 = unlimited
	Workers           int           // goroutines for move evaluation; 0 = GOMAXPROCS
	ParallelThreshold int           // node count from which evaluation is parallel
}

func (o SolverOptions) withDefaults() SolverOptions {
	if o.TimeBudget <= 0 {
		o.TimeBudget = DefaultTimeBudget
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.ParallelThreshold <= 0 {
		o.ParallelThreshold = DefaultParallelThreshold
	}
	return o
}

// SolverStats describes one solve.
type SolverStats struct {
	Nodes       int           `json:"nodes"`
	InitialCost int           `json:"initialCost"`
	FinalCost   int           `json:"finalCost"`
	Iterations  int           `json:"iterations"`
	TwoOptMoves int           `json:"twoOptMoves"`
	OrOptMoves  int           `json:"orOptMoves"`
	TimedOut    bool          `json:"timedOut"`
	Elapsed     time.Duration `json:"elapsed"`
}

// SolveTour returns a closed tour from node 0 over every node of m, built by
// cheapest insertion and improved with 2-opt and Or-opt until no improving
// move remains or the budget runs out. Running out of time is not an error:
// the best tour found so far is returned with TimedOut set. The search is
// deterministic for a given matrix.
func SolveTour(ctx context.Context, m Matrix, opts SolverOptions) (Tour, SolverStats, error) {
	start := time.Now()
	opts = opts.withDefaults()
	stats := SolverStats{Nodes: len(m)}
	if err := validateMatrix(m); err != nil {
		return nil, stats, err
	}
	switch len(m) {
	case 1:
		stats.Elapsed = time.Since(start)
		return Tour{0}, stats, nil
	case 2:
		t := Tour{0, 1, 0}
		stats.InitialCost = t.Cost(m)
		stats.FinalCost = stats.InitialCost
		stats.Elapsed = time.Since(start)
		return t, stats, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opts.TimeBudget)
	defer cancel()

	tour := cheapestInsertion(m)
	cost := tour.Cost(m)
	stats.InitialCost = cost

	workers := 1
	if len(m) >= opts.ParallelThreshold {
		workers = opts.Workers
	}
	for {
		if ctx.Err() != nil {
			stats.TimedOut = true
			break
		}
		if opts.MaxIterations > 0 && stats.Iterations >= opts.MaxIterations {
			break
		}
		mv, ok := bestMove(m, tour, workers)
		if !ok || mv.delta >= 0 {
			break
		}
		tour = applyMove(tour, mv)
		cost += mv.delta
		stats.Iterations++
		if mv.kind == moveTwoOpt {
			stats.TwoOptMoves++
		} else {
			stats.OrOptMoves++
		}
	}

	if err := CheckTour(tour, len(m)); err != nil {
		return nil, stats, fmt.Errorf("%w: %v", ErrInfeasible, err)
	}
	stats.FinalCost = tour.Cost(m)
	if stats.FinalCost != cost {
		return nil, stats, fmt.Errorf("%w: cost drift %d != %d", ErrInfeasible, stats.FinalCost, cost)
	}
	stats.Elapsed = time.Since(start)
	return tour, stats, nil
}

// bestMove scans the neighbourhood of t. With more than one worker the scan
// is striped over goroutines; the tour is only read here and is mutated by
// the caller after the reduction.
func bestMove(m Matrix, t Tour, workers int) (move, bool) {
	sums := newEdgeSums(m, t)
	if workers <= 1 {
		return scanMoves(m, t, sums, 0, 1)
	}
	type result struct {
		mv move
		ok bool
	}
	results := make([]result, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			mv, ok := scanMoves(m, t, sums, w, workers)
			results[w] = result{mv: mv, ok: ok}
			return nil
		})
	}
	_ = g.Wait()
	var best move
	found := false
	for _, r := range results {
		if r.ok && (!found || better(r.mv, best)) {
			best, found = r.mv, true
		}
	}
	return best, found
}

func validateMatrix(m Matrix) error {
	if len(m) == 0 {
		return fmt.Errorf("%w: empty matrix", ErrInfeasible)
	}
	limit := edgeLimit(len(m))
	for i, row := range m {
		if len(row) != len(m) {
			return fmt.Errorf("%w: row %d has %d entries, want %d", ErrInfeasible, i, len(row), len(m))
		}
		for j, v := range row {
			if v < 0 || v > limit {
				return fmt.Errorf("%w: entry [%d][%d]=%d unreachable", ErrInfeasible, i, j, v)
			}
			if i == j && v != 0 {
				return fmt.Errorf("%w: non-zero diagonal at %d", ErrInfeasible, i)
			}
		}
	}
	return nil
}

// CheckTour verifies that t is a closed tour over nodes 0..n-1 starting and
// ending at the depot. The trivial tour [0] is valid for n == 1.
func CheckTour(t Tour, n int) error {
	if n == 1 && len(t) == 1 && t[0] == 0 {
		return nil
	}
	if len(t) != n+1 {
		return fmt.Errorf("tour length %d, want %d", len(t), n+1)
	}
	if t[0] != 0 || t[len(t)-1] != 0 {
		return errors.New("tour must start and end at the depot")
	}
	seen := make([]bool, n)
	for _, v := range t[1 : len(t)-1] {
		if v <= 0 || v >= n || seen[v] {
			return fmt.Errorf("tour visits node %d invalidly", v)
		}
		seen[v] = true
	}
	return nil
}
