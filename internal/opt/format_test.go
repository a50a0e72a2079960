package opt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binroute/internal/model"
)

func TestFormatRouteSingleBin(t *testing.T) {
	cands := []model.BinCandidate{{ID: "bin1", Location: loc(33.30, 44.40), FillLevel: 90, HoursToFull: h(2)}}
	sel := SelectStops(cands, DefaultPolicy())
	require.Len(t, sel.Stops, 1)

	m, kept, _ := BuildMatrix(baghdadDepot, sel.Stops)
	tour, _, err := SolveTour(context.Background(), m, SolverOptions{})
	require.NoError(t, err)
	assert.Equal(t, Tour{0, 1, 0}, tour)

	created := time.Unix(1700000000, 0)
	route, err := FormatRoute(tour, baghdadDepot, kept, created)
	require.NoError(t, err)
	require.Len(t, route.Stops, 3)
	assert.Equal(t, 1, route.StopCount)
	assert.Equal(t, created, route.CreatedAt)

	leg := Haversine(baghdadDepot, model.Coordinate{Lat: 33.30, Lng: 44.40})
	assert.InDelta(t, 2*leg, route.TotalDistanceKm, 1e-9)

	assert.Equal(t, model.StopDepot, route.Stops[0].Kind)
	assert.Nil(t, route.Stops[0].DistanceFromPreviousKm)
	assert.Equal(t, "bin1", route.Stops[1].BinID)
	assert.Equal(t, 90.0, *route.Stops[1].FillLevel)
	assert.Equal(t, 2.0, *route.Stops[1].HoursToFull)
	assert.Equal(t, model.StopDepot, route.Stops[2].Kind)
	for i, s := range route.Stops {
		assert.Equal(t, i, s.Order)
	}
}

func TestFormatRouteDepotOnly(t *testing.T) {
	route, err := FormatRoute(Tour{0}, baghdadDepot, nil, time.Now())
	require.NoError(t, err)
	require.Len(t, route.Stops, 1)
	assert.Zero(t, route.StopCount)
	assert.Zero(t, route.TotalDistanceKm)
}

func TestFormatRouteTotalIsSumOfLegs(t *testing.T) {
	cands := []model.BinCandidate{
		{ID: "a", Location: loc(33.36, 44.37), FillLevel: 85},
		{ID: "b", Location: loc(33.32, 44.365), FillLevel: 82},
		{ID: "c", Location: loc(33.29, 44.36), FillLevel: 95},
	}
	m, kept, _ := BuildMatrix(baghdadDepot, cands)
	tour, _, err := SolveTour(context.Background(), m, SolverOptions{})
	require.NoError(t, err)
	route, err := FormatRoute(tour, baghdadDepot, kept, time.Now())
	require.NoError(t, err)

	sum := 0.0
	for _, s := range route.Stops[1:] {
		require.NotNil(t, s.DistanceFromPreviousKm)
		sum += *s.DistanceFromPreviousKm
	}
	assert.InDelta(t, sum, route.TotalDistanceKm, 1e-9)
	assert.Equal(t, 3, route.StopCount)
	assert.Len(t, route.Stops, 5)

	doc := route.Doc()
	assert.Equal(t, model.DepotBinID, doc.Stops[0].BinID)
	assert.Equal(t, 3, doc.TotalBins)
}

func TestFormatRouteRejectsBadTour(t *testing.T) {
	cands := []model.BinCandidate{{ID: "a", Location: loc(33.3, 44.4)}}
	_, err := FormatRoute(Tour{0, 2, 0}, baghdadDepot, cands, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTour)

	_, err = FormatRoute(Tour{0, 1, 0}, baghdadDepot, []model.BinCandidate{{ID: "x"}}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTour)
}

func TestStatsStoreSnapshotIsCopy(t *testing.T) {
	s := NewStatsStore()
	s.Record("route_1", SolverStats{Nodes: 4, FinalCost: 10})
	snap := s.Snapshot()
	snap["route_1"] = SolverStats{}
	assert.Equal(t, 4, s.Snapshot()["route_1"].Nodes)
}
