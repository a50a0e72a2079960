package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *SQL {
	t.Helper()
	s, err := OpenSQL(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	checkStoreContract(t, newSQLite(t))
}

func TestSQLMigrateIsIdempotent(t *testing.T) {
	s := newSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, "sql/sqlite", s.Name())
}

func TestSQLSeedUpserts(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	f := testFixture(t)
	require.NoError(t, s.Seed(ctx, f))
	f.Bins[0].FillLevel = 77
	require.NoError(t, s.Seed(ctx, f))
	cands, err := s.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, cands, 4)
	for _, c := range cands {
		if c.ID == "bin_003" {
			assert.Equal(t, 12.0, c.FillLevel)
		}
	}
}

func TestOpenSQLRejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "mysql", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQL{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x=$1 AND y=$2", pg.rebind("SELECT a FROM t WHERE x=? AND y=?"))
	lite := &SQL{driver: DriverSQLite}
	assert.Equal(t, "SELECT 1 WHERE x=?", lite.rebind("SELECT 1 WHERE x=?"))
}
