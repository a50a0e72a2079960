package opt

import (
	"math"
	"sort"

	"binroute/internal/model"
)

// Default selection policy values.
const (
	DefaultFillThreshold = 80.0
	DefaultTimeThreshold = 12.0
	DefaultMaxStops      = 20
)

// Policy parameterizes stop selection. A negative threshold disables that
// urgency criterion, which covers the pure time-threshold and pure
// fill-threshold variants with the same code path.
type Policy struct {
	FillThreshold float64 // percent
	TimeThreshold float64 // hours
	MaxStops      int
}

// DefaultPolicy returns the combined fill-or-time policy with a 20 stop cap.
func DefaultPolicy() Policy {
	return Policy{FillThreshold: DefaultFillThreshold, TimeThreshold: DefaultTimeThreshold, MaxStops: DefaultMaxStops}
}

// Urgent reports whether c must be collected this cycle under p.
func (p Policy) Urgent(c model.BinCandidate) bool {
	if p.FillThreshold >= 0 && c.FillLevel >= p.FillThreshold {
		return true
	}
	if h, ok := hours(c); ok && p.TimeThreshold >= 0 && h <= p.TimeThreshold {
		return true
	}
	return false
}

// Selection is the outcome of SelectStops.
type Selection struct {
	Stops      []model.BinCandidate
	Fallback   bool     // no urgent candidate; fullest bins were taken
	UrgentSeen int      // size of the urgent set before capping
	Duplicates []string // ids seen more than once; first occurrence kept
	Rejected   []string // ids with an unusable fill level
}

// SelectStops chooses which candidates to visit. The returned order fixes
// membership only; the solver decides the visiting order.
func SelectStops(cands []model.BinCandidate, p Policy) Selection {
	if p.MaxStops <= 0 {
		p.MaxStops = DefaultMaxStops
	}
	var sel Selection
	seen := make(map[string]bool, len(cands))
	valid := make([]model.BinCandidate, 0, len(cands))
	for _, c := range cands {
		if seen[c.ID] {
			sel.Duplicates = append(sel.Duplicates, c.ID)
			continue
		}
		seen[c.ID] = true
		if math.IsNaN(c.FillLevel) || math.IsInf(c.FillLevel, 0) {
			sel.Rejected = append(sel.Rejected, c.ID)
			continue
		}
		valid = append(valid, c)
	}

	urgent := make([]model.BinCandidate, 0, len(valid))
	for _, c := range valid {
		if p.Urgent(c) {
			urgent = append(urgent, c)
		}
	}
	sel.UrgentSeen = len(urgent)

	switch {
	case len(urgent) == 0:
		sel.Fallback = len(valid) > 0
		fullest := append([]model.BinCandidate(nil), valid...)
		sort.SliceStable(fullest, func(i, j int) bool { return fullerFirst(fullest[i], fullest[j]) })
		sel.Stops = capStops(fullest, p.MaxStops)
	case len(urgent) <= p.MaxStops:
		sel.Stops = urgent
	default:
		sort.SliceStable(urgent, func(i, j int) bool { return moreUrgent(urgent[i], urgent[j]) })
		sel.Stops = capStops(urgent, p.MaxStops)
	}
	return sel
}

// moreUrgent orders by known time-to-full ascending (unknown last), then fill
// level descending, then id.
func moreUrgent(a, b model.BinCandidate) bool {
	ha, oka := hours(a)
	hb, okb := hours(b)
	if oka != okb {
		return oka
	}
	if oka && ha != hb {
		return ha < hb
	}
	return fullerFirst(a, b)
}

func fullerFirst(a, b model.BinCandidate) bool {
	if a.FillLevel != b.FillLevel {
		return a.FillLevel > b.FillLevel
	}
	return a.ID < b.ID
}

// hours returns the usable prediction; negative or NaN values count as unknown.
func hours(c model.BinCandidate) (float64, bool) {
	if c.HoursToFull == nil {
		return 0, false
	}
	h := *c.HoursToFull
	if math.IsNaN(h) || h < 0 {
		return 0, false
	}
	return h, true
}

func capStops(cs []model.BinCandidate, k int) []model.BinCandidate {
	if len(cs) > k {
		cs = cs[:k]
	}
	return cs
}
