package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "route_1", cfg.RouteID)
	assert.Equal(t, 33.5731, cfg.DepotLat)
	assert.Equal(t, 44.3668, cfg.DepotLng)
	assert.Equal(t, 80.0, cfg.FillThreshold)
	assert.Equal(t, 12.0, cfg.TimeThreshold)
	assert.Equal(t, 20, cfg.MaxStops)
	assert.Equal(t, 10*time.Second, cfg.SolverTimeBudget)
	assert.Equal(t, StoreMemory, cfg.StoreKind())
}

func TestLoadFileYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
max_stops: 15
fill_threshold: 75
solver_time_budget: 3s
route_id: north
`), 0o600))
	t.Setenv("MAX_STOPS", "12")
	t.Setenv("DB_MIGRATE", "false")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 12, cfg.MaxStops, "env wins over file")
	assert.Equal(t, 75.0, cfg.FillThreshold)
	assert.Equal(t, 3*time.Second, cfg.SolverTimeBudget)
	assert.Equal(t, "north", cfg.RouteID)
	assert.False(t, cfg.DBMigrate)

	p := cfg.Policy()
	assert.Equal(t, 12, p.MaxStops)
	assert.Equal(t, 3*time.Second, cfg.SolverOptions().TimeBudget)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	t.Setenv("DEPOT_LAT", "123")
	_, err := LoadFile("")
	assert.Error(t, err)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestStoreKindAndDriver(t *testing.T) {
	c := Default()
	c.DatabaseURL = "postgres://u:p@localhost/db"
	assert.Equal(t, StoreSQL, c.StoreKind())
	assert.Equal(t, "pgx", c.Driver())

	c.DatabaseURL = "file:bins.db"
	assert.Equal(t, "sqlite", c.Driver())

	c.FirebaseDatabaseURL = "https://demo.firebaseio.com"
	assert.Equal(t, StoreFirebase, c.StoreKind())

	c.Store = "sql"
	assert.Equal(t, StoreSQL, c.StoreKind())
}

func TestValidate(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	bad := c
	bad.MaxStops = 0
	assert.Error(t, bad.Validate())

	bad = c
	bad.FillThreshold, bad.TimeThreshold = -1, -1
	assert.Error(t, bad.Validate())

	bad = c
	bad.Store = "sql"
	assert.Error(t, bad.Validate())

	bad = c
	bad.Store = "cassandra"
	assert.Error(t, bad.Validate())

	timeOnly := c
	timeOnly.FillThreshold = -1
	assert.NoError(t, timeOnly.Validate())
}

func TestPublicHidesSecrets(t *testing.T) {
	c := Default()
	c.DatabaseURL = "postgres://user:secret@db/x"
	pub := c.Public()
	for _, v := range pub {
		assert.NotContains(t, fmt.Sprint(v), "secret")
	}
	assert.Equal(t, true, pub["HAS_DATABASE_URL"])
}

func TestWebhooksSplit(t *testing.T) {
	c := Default()
	assert.Empty(t, c.Webhooks())
	c.WebhookURLs = " http://a/hook, ,http://b/hook "
	assert.Equal(t, []string{"http://a/hook", "http://b/hook"}, c.Webhooks())
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, Default().AllowedOrigins())

	t.Setenv("CORS_ORIGINS", "http://localhost:5173, https://dispatch.example.com")
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "https://dispatch.example.com"}, cfg.AllowedOrigins())
}
