package opt

import "sync"

// StatsStore keeps the latest solver stats per route id for admin views.
type StatsStore struct {
	mu    sync.Mutex
	stats map[string]SolverStats
}

func NewStatsStore() *StatsStore {
	return &StatsStore{stats: map[string]SolverStats{}}
}

func (s *StatsStore) Record(routeID string, st SolverStats) {
	s.mu.Lock()
	s.stats[routeID] = st
	s.mu.Unlock()
}

// Snapshot returns a copy of all recorded stats.
func (s *StatsStore) Snapshot() map[string]SolverStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SolverStats, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out
}
