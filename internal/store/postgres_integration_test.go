//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	s, err := OpenSQL(t.Context(), DriverPostgres, dsn)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(t.Context()))
	_, err = s.db.ExecContext(t.Context(), `DELETE FROM routes WHERE id='route_1'`)
	require.NoError(t, err)
	checkStoreContract(t, s)
}
