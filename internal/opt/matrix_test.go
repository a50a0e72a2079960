package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binroute/internal/model"
)

func loc(lat, lng float64) *model.Coordinate { return &model.Coordinate{Lat: lat, Lng: lng} }

var baghdadDepot = model.Coordinate{Lat: 33.5731, Lng: 44.3668}

func TestBuildMatrixShape(t *testing.T) {
	cands := []model.BinCandidate{
		{ID: "a", Location: loc(33.36, 44.37)},
		{ID: "b", Location: loc(33.32, 44.365)},
		{ID: "c", Location: loc(33.29, 44.36)},
	}
	m, kept, dropped := BuildMatrix(baghdadDepot, cands)
	require.Len(t, m, 4)
	assert.Len(t, kept, 3)
	assert.Empty(t, dropped)
	assert.True(t, m.Symmetric())
	for i := range m {
		assert.Zero(t, m[i][i])
		for j := range m[i] {
			assert.GreaterOrEqual(t, m[i][j], 0)
		}
	}
	want := int(Haversine(baghdadDepot, *cands[1].Location) * 1000)
	assert.Equal(t, want, m[0][2])
}

func TestBuildMatrixDropsMissingLocations(t *testing.T) {
	cands := []model.BinCandidate{
		{ID: "nil"},
		{ID: "ok", Location: loc(33.3, 44.4)},
		{ID: "nan", Location: loc(math.NaN(), 44)},
		{ID: "range", Location: loc(91, 44)},
	}
	m, kept, dropped := BuildMatrix(baghdadDepot, cands)
	assert.Equal(t, []string{"nil", "nan", "range"}, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, "ok", kept[0].ID)
	require.Len(t, m, 2)
	assert.NotZero(t, m[0][1])
}

func TestBuildMatrixDepotOnly(t *testing.T) {
	m, kept, dropped := BuildMatrix(baghdadDepot, nil)
	assert.Equal(t, Matrix{{0}}, m)
	assert.Empty(t, kept)
	assert.Empty(t, dropped)
}
