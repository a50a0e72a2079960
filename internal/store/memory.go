package store

import (
	"context"
	"sync"

	"binroute/internal/model"
)

// Memory keeps bins, predictions and routes in process. Each instance owns its
// own state; tests and the demo server create one explicitly.
type Memory struct {
	mu     sync.Mutex
	bins   map[string]model.Bin
	preds  map[string]model.Prediction
	routes map[string]model.RouteDoc
}

func NewMemory() *Memory {
	return &Memory{
		bins:   map[string]model.Bin{},
		preds:  map[string]model.Prediction{},
		routes: map[string]model.RouteDoc{},
	}
}

func (m *Memory) Name() string { return "memory" }

// PutBin inserts or replaces a bin record.
func (m *Memory) PutBin(b model.Bin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Location != nil {
		loc := *b.Location
		b.Location = &loc
	}
	m.bins[b.ID] = b
}

// PutPrediction inserts or replaces the prediction for p.BinID.
func (m *Memory) PutPrediction(p model.Prediction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.HoursToFull != nil {
		h := *p.HoursToFull
		p.HoursToFull = &h
	}
	m.preds[p.BinID] = p
}

// Reset drops all bins and predictions. Routes are kept.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bins = map[string]model.Bin{}
	m.preds = map[string]model.Prediction{}
}

func (m *Memory) Seed(ctx context.Context, f Fixture) error {
	for _, b := range f.Bins {
		m.PutBin(b)
	}
	for _, p := range f.Predictions {
		m.PutPrediction(p)
	}
	return nil
}

func (m *Memory) ListCandidates(ctx context.Context) ([]model.BinCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	bins := make([]model.Bin, 0, len(m.bins))
	for _, b := range m.bins {
		bins = append(bins, b)
	}
	preds := make([]model.Prediction, 0, len(m.preds))
	for _, p := range m.preds {
		preds = append(preds, p)
	}
	m.mu.Unlock()
	return model.JoinCandidates(bins, preds), nil
}

// SaveRoute stores the document form so reads see what other backends would
// persist.
func (m *Memory) SaveRoute(ctx context.Context, routeID string, r model.Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.routes[routeID] = r.Doc()
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return model.RouteFromDoc(doc), nil
}
