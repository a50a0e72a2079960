package opt

import "math"

// Tour is a closed visiting sequence of matrix indices, starting and ending at 0.
type Tour []int

// Cost returns the total edge cost of t over m.
func (t Tour) Cost(m Matrix) int {
	total := 0
	for i := 0; i+1 < len(t); i++ {
		total += m[t[i]][t[i+1]]
	}
	return total
}

// cheapestInsertion grows [0,0] by repeatedly inserting the unvisited node
// with the smallest insertion cost at its best position. Ties go to the
// lowest node index, then the earliest position.
func cheapestInsertion(m Matrix) Tour {
	n := len(m)
	tour := make(Tour, 0, n+1)
	tour = append(tour, 0, 0)
	in := make([]bool, n)
	in[0] = true
	for added := 1; added < n; added++ {
		bestNode, bestPos, bestCost := -1, -1, math.MaxInt
		for k := 1; k < n; k++ {
			if in[k] {
				continue
			}
			for pos := 1; pos < len(tour); pos++ {
				a, b := tour[pos-1], tour[pos]
				c := m[a][k] + m[k][b] - m[a][b]
				if c < bestCost {
					bestNode, bestPos, bestCost = k, pos, c
				}
			}
		}
		tour = append(tour, 0)
		copy(tour[bestPos+1:], tour[bestPos:])
		tour[bestPos] = bestNode
		in[bestNode] = true
	}
	return tour
}

type moveKind int

const (
	moveTwoOpt moveKind = iota
	moveOrOpt
)

// move describes a local-search step. For 2-opt, positions i..j are
// reversed. For Or-opt, segment i..j is relocated between positions p and p+1.
type move struct {
	kind  moveKind
	i, j  int
	p     int
	delta int
}

// better orders candidate moves: larger gain first, then a fixed scan order,
// so the chosen move does not depend on how the scan was partitioned.
func better(a, b move) bool {
	if a.delta != b.delta {
		return a.delta < b.delta
	}
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.i != b.i {
		return a.i < b.i
	}
	if a.j != b.j {
		return a.j < b.j
	}
	return a.p < b.p
}

// edgeSums caches forward and reverse prefix sums of a tour's edges so that a
// 2-opt reversal can be priced in O(1) on asymmetric matrices too.
type edgeSums struct {
	fwd []int // fwd[p] = sum of m[t[q]][t[q+1]] for q < p
	rev []int // rev[p] = sum of m[t[q+1]][t[q]] for q < p
}

func newEdgeSums(m Matrix, t Tour) edgeSums {
	s := edgeSums{fwd: make([]int, len(t)), rev: make([]int, len(t))}
	for p := 1; p < len(t); p++ {
		s.fwd[p] = s.fwd[p-1] + m[t[p-1]][t[p]]
		s.rev[p] = s.rev[p-1] + m[t[p]][t[p-1]]
	}
	return s
}

// twoOptDelta prices reversing t[i..j], 1 <= i < j <= len(t)-2.
func twoOptDelta(m Matrix, t Tour, s edgeSums, i, j int) int {
	a, b := t[i-1], t[i]
	c, d := t[j], t[j+1]
	inner := (s.rev[j] - s.rev[i]) - (s.fwd[j] - s.fwd[i])
	return m[a][c] + m[b][d] - m[a][b] - m[c][d] + inner
}

// orOptDelta prices moving segment t[i..j] between t[p] and t[p+1].
// p must not touch the segment: p <= i-2 or p >= j+1.
func orOptDelta(m Matrix, t Tour, i, j, p int) int {
	prev, next := t[i-1], t[j+1]
	first, last := t[i], t[j]
	removed := m[prev][next] - m[prev][first] - m[last][next]
	added := m[t[p]][first] + m[last][t[p+1]] - m[t[p]][t[p+1]]
	return removed + added
}

// maxOrOptSegment bounds the length of relocated segments.
const maxOrOptSegment = 3

// scanMoves evaluates every move whose first position i satisfies
// i % stride == offset and returns the best one found.
func scanMoves(m Matrix, t Tour, s edgeSums, offset, stride int) (move, bool) {
	last := len(t) - 2
	var best move
	found := false
	consider := func(mv move) {
		if !found || better(mv, best) {
			best = mv
			found = true
		}
	}
	for i := 1; i <= last; i++ {
		if (i-1)%stride != offset {
			continue
		}
		for j := i + 1; j <= last; j++ {
			consider(move{kind: moveTwoOpt, i: i, j: j, delta: twoOptDelta(m, t, s, i, j)})
		}
		for l := 1; l <= maxOrOptSegment; l++ {
			j := i + l - 1
			if j > last {
				break
			}
			for p := 0; p+1 < len(t); p++ {
				if p >= i-1 && p <= j {
					continue
				}
				consider(move{kind: moveOrOpt, i: i, j: j, p: p, delta: orOptDelta(m, t, i, j, p)})
			}
		}
	}
	return best, found
}

// applyMove returns t with mv applied. t is not modified.
func applyMove(t Tour, mv move) Tour {
	out := make(Tour, len(t))
	switch mv.kind {
	case moveTwoOpt:
		copy(out, t)
		for a, b := mv.i, mv.j; a < b; a, b = a+1, b-1 {
			out[a], out[b] = out[b], out[a]
		}
	case moveOrOpt:
		seg := t[mv.i : mv.j+1]
		rest := make(Tour, 0, len(t)-len(seg))
		rest = append(rest, t[:mv.i]...)
		rest = append(rest, t[mv.j+1:]...)
		at := mv.p + 1
		if mv.p > mv.j {
			at -= len(seg)
		}
		out = out[:0]
		out = append(out, rest[:at]...)
		out = append(out, seg...)
		out = append(out, rest[at:]...)
	}
	return out
}
