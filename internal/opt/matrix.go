package opt

import (
	"binroute/internal/model"
)

// Matrix holds pairwise travel costs in meters. Row and column 0 are the depot.
type Matrix [][]int

// Size returns the number of nodes including the depot.
func (m Matrix) Size() int { return len(m) }

// Symmetric reports whether m[i][j] == m[j][i] for all pairs.
func (m Matrix) Symmetric() bool {
	for i := range m {
		for j := i + 1; j < len(m); j++ {
			if len(m[j]) <= i || m[i][j] != m[j][i] {
				return false
			}
		}
	}
	return true
}

// BuildMatrix computes the (N+1)x(N+1) haversine matrix for the depot and the
// candidates that carry a valid location. Candidates without one are returned
// in dropped and never collapse onto the depot. Row i (i>0) corresponds to
// kept[i-1].
func BuildMatrix(depot model.Coordinate, cands []model.BinCandidate) (m Matrix, kept []model.BinCandidate, dropped []string) {
	kept = make([]model.BinCandidate, 0, len(cands))
	for _, c := range cands {
		if c.Location == nil || !c.Location.Valid() {
			dropped = append(dropped, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	coords := make([]model.Coordinate, 0, len(kept)+1)
	coords = append(coords, depot)
	for _, c := range kept {
		coords = append(coords, *c.Location)
	}
	n := len(coords)
	m = make(Matrix, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := int(Haversine(coords[i], coords[j]) * 1000)
			m[i][j] = d
			m[j][i] = d
		}
	}
	return m, kept, dropped
}
