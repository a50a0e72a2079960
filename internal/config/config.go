// Package config loads service settings from defaults, an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"binroute/internal/model"
	"binroute/internal/opt"
)

const defaultConfigFile = "config.yaml"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQL      = "sql"
	StoreFirebase = "firebase"
)

type Config struct {
	Port string `koanf:"port"`

	Store               string `koanf:"store"`
	DatabaseURL         string `koanf:"database_url"`
	DatabaseDriver      string `koanf:"database_driver"`
	DBMigrate           bool   `koanf:"db_migrate"`
	RedisURL            string `koanf:"redis_url"`
	FirebaseDatabaseURL string `koanf:"firebase_database_url"`
	FirebaseCredentials string `koanf:"firebase_credentials"`
	SeedPath            string `koanf:"seed_path"`

	RouteID  string  `koanf:"route_id"`
	DepotLat float64 `koanf:"depot_lat"`
	DepotLng float64 `koanf:"depot_lng"`

	FillThreshold float64 `koanf:"fill_threshold"`
	TimeThreshold float64 `koanf:"time_threshold"`
	MaxStops      int     `koanf:"max_stops"`

	SolverTimeBudget    time.Duration `koanf:"solver_time_budget"`
	SolverWorkers       int           `koanf:"solver_workers"`
	SolverMaxIterations int           `koanf:"solver_max_iterations"`

	RateRPS   float64 `koanf:"rate_rps"`
	RateBurst int     `koanf:"rate_burst"`

	AuthMode       string `koanf:"auth_mode"`
	AuthHMACSecret string `koanf:"auth_hmac_secret"`

	WebhookURLs        string `koanf:"webhook_urls"`
	WebhookSecret      string `koanf:"webhook_secret"`
	WebhookMaxAttempts int    `koanf:"webhook_max_attempts"`

	CORSOrigins string `koanf:"cors_origins"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:               "8080",
		DBMigrate:          true,
		RouteID:            "route_1",
		DepotLat:           33.5731,
		DepotLng:           44.3668,
		FillThreshold:      opt.DefaultFillThreshold,
		TimeThreshold:      opt.DefaultTimeThreshold,
		MaxStops:           opt.DefaultMaxStops,
		SolverTimeBudget:   opt.DefaultTimeBudget,
		RateRPS:            1,
		RateBurst:          3,
		AuthMode:           "none",
		WebhookMaxAttempts: 10,
		CORSOrigins:        "*",
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// knownKeys lists the settings read from the environment; other variables are ignored.
var knownKeys = map[string]bool{}

func init() {
	for _, k := range []string{
		"port", "store", "database_url", "database_driver", "db_migrate", "redis_url",
		"firebase_database_url", "firebase_credentials", "seed_path", "route_id",
		"depot_lat", "depot_lng", "fill_threshold", "time_threshold", "max_stops",
		"solver_time_budget", "solver_workers", "solver_max_iterations",
		"rate_rps", "rate_burst", "auth_mode", "auth_hmac_secret",
		"webhook_urls", "webhook_secret", "webhook_max_attempts", "cors_origins", "log_level", "log_format",
	} {
		knownKeys[k] = true
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE
// (default config.yaml, optional unless named explicitly), then environment
// variables.
func Load() (Config, error) {
	_ = godotenv.Load()
	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return Config{}, errors.Wrapf(err, "config file %s", path)
		}
		path = ""
	}
	return LoadFile(path)
}

// LoadFile layers path (skipped when empty) and the environment over the
// defaults.
func LoadFile(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}
	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, v string) (string, any) {
			key = strings.ToLower(key)
			if !knownKeys[key] {
				return "", nil
			}
			return key, strings.TrimSpace(v)
		},
	}), nil); err != nil {
		return Config{}, errors.Wrap(err, "load env variables")
	}
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the planner cannot run with.
func (c Config) Validate() error {
	if !c.Depot().Valid() {
		return errors.Errorf("invalid depot %v,%v", c.DepotLat, c.DepotLng)
	}
	if c.MaxStops <= 0 {
		return errors.Errorf("max_stops must be positive, got %d", c.MaxStops)
	}
	if c.FillThreshold > 100 {
		return errors.Errorf("fill_threshold %v exceeds 100", c.FillThreshold)
	}
	if c.FillThreshold < 0 && c.TimeThreshold < 0 {
		return errors.New("fill_threshold and time_threshold cannot both be disabled")
	}
	if c.SolverTimeBudget <= 0 {
		return errors.Errorf("solver_time_budget must be positive, got %s", c.SolverTimeBudget)
	}
	switch c.StoreKind() {
	case StoreMemory:
	case StoreSQL:
		if c.DatabaseURL == "" {
			return errors.New("store sql requires database_url")
		}
	case StoreFirebase:
		if c.FirebaseDatabaseURL == "" {
			return errors.New("store firebase requires firebase_database_url")
		}
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}
	return nil
}

// StoreKind returns the configured backend, inferring it from the connection
// settings when STORE is empty.
func (c Config) StoreKind() string {
	if s := strings.ToLower(c.Store); s != "" {
		return s
	}
	switch {
	case c.FirebaseDatabaseURL != "":
		return StoreFirebase
	case c.DatabaseURL != "":
		return StoreSQL
	default:
		return StoreMemory
	}
}

// Driver returns the database/sql driver for DatabaseURL.
func (c Config) Driver() string {
	if c.DatabaseDriver != "" {
		return c.DatabaseDriver
	}
	u := strings.ToLower(c.DatabaseURL)
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") || strings.Contains(u, "host=") {
		return "pgx"
	}
	return "sqlite"
}

func (c Config) Depot() model.Coordinate {
	return model.Coordinate{Lat: c.DepotLat, Lng: c.DepotLng}
}

func (c Config) Policy() opt.Policy {
	return opt.Policy{FillThreshold: c.FillThreshold, TimeThreshold: c.TimeThreshold, MaxStops: c.MaxStops}
}

func (c Config) SolverOptions() opt.SolverOptions {
	return opt.SolverOptions{
		TimeBudget:    c.SolverTimeBudget,
		Workers:       c.SolverWorkers,
		MaxIterations: c.SolverMaxIterations,
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Webhooks returns the subscriber URLs from the comma-separated setting.
func (c Config) Webhooks() []string {
	return splitList(c.WebhookURLs)
}

// AllowedOrigins returns the browser origins allowed by CORS; "*" allows any.
func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

// Public returns settings safe to expose on debug endpoints.
func (c Config) Public() map[string]any {
	return map[string]any{
		"PORT":               c.Port,
		"STORE":              c.StoreKind(),
		"ROUTE_ID":           c.RouteID,
		"DEPOT":              c.Depot(),
		"FILL_THRESHOLD":     c.FillThreshold,
		"TIME_THRESHOLD":     c.TimeThreshold,
		"MAX_STOPS":          c.MaxStops,
		"SOLVER_TIME_BUDGET": c.SolverTimeBudget.String(),
		"RATE_RPS":           c.RateRPS,
		"RATE_BURST":         c.RateBurst,
		"HAS_DATABASE_URL":   c.DatabaseURL != "",
		"HAS_REDIS_URL":      c.RedisURL != "",
		"HAS_FIREBASE":       c.FirebaseDatabaseURL != "",
		"AUTH_MODE":          c.AuthMode,
		"WEBHOOK_TARGETS":    len(c.Webhooks()),
		"CORS_ORIGINS":       c.AllowedOrigins(),
	}
}
