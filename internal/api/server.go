package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"binroute/internal/auth"
	"binroute/internal/config"
	"binroute/internal/opt"
	"binroute/internal/planner"
	"binroute/internal/store"
	"binroute/internal/webhooks"
)

type Server struct {
	Config  config.Config
	Store   store.Store
	Planner *planner.Planner
	Broker  EventBroker
	Locker  RunLocker
	Auth    *auth.Verifier
	Hooks   *webhooks.Publisher
	Stats   *opt.StatsStore
	Logger  *slog.Logger

	limiter *rate.Limiter
	worker  *webhooks.Worker
	closers []func() error
}

// New wires a server around st with an in-process broker and locker.
func New(cfg config.Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	verifier, err := auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret)
	if err != nil {
		return nil, err
	}
	stats := opt.NewStatsStore()
	s := &Server{
		Config: cfg,
		Store:  st,
		Planner: &planner.Planner{
			Source:  st,
			Sink:    st,
			RouteID: cfg.RouteID,
			Depot:   cfg.Depot(),
			Policy:  cfg.Policy(),
			Solver:  cfg.SolverOptions(),
			Logger:  logger,
			Stats:   stats,
		},
		Broker: NewBroker(),
		Locker: NewMutexLocker(),
		Auth:   verifier,
		Stats:  stats,
		Logger: logger,
	}
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}
	if urls := cfg.Webhooks(); len(urls) > 0 {
		q := webhooks.NewQueue()
		s.Hooks = webhooks.NewPublisher(q, urls)
		s.worker = webhooks.NewWorker(q, cfg.WebhookSecret, cfg.WebhookMaxAttempts, logger)
	}
	return s, nil
}

// NewServer opens the configured store, seeds it when SEED_PATH is set and
// switches to Redis-backed events and locking when REDIS_URL is set.
func NewServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	st, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(cfg, st, logger)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	s.closers = append(s.closers, closeStore)

	if cfg.SeedPath != "" {
		seeder, ok := st.(store.Seeder)
		if !ok {
			_ = s.Close()
			return nil, errors.Errorf("store %s cannot be seeded", st.Name())
		}
		fx, err := store.LoadFixture(cfg.SeedPath)
		if err == nil {
			err = seeder.Seed(ctx, fx)
		}
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "seed store")
		}
		s.Logger.Info("store seeded", "path", cfg.SeedPath, "bins", len(fx.Bins), "predictions", len(fx.Predictions))
	}

	if err := s.UseRedis(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// UseRedis switches events and run locking to Redis when REDIS_URL is set.
// An unreachable Redis keeps the in-process broker and locker.
func (s *Server) UseRedis(ctx context.Context) error {
	if s.Config.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(s.Config.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse REDIS_URL")
	}
	rdb := redis.NewClient(opts)
	s.closers = append(s.closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		s.Logger.Warn("redis unavailable, using in-process broker and lock", "error", err)
		return nil
	}
	s.Broker = NewRedisBroker(rdb, s.Logger)
	s.Locker = NewRedisLocker(rdb)
	return nil
}

// OpenStore opens the backend cfg selects. The returned func releases it.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreKind() {
	case config.StoreSQL:
		sq, err := store.OpenSQL(ctx, cfg.Driver(), cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if cfg.DBMigrate {
			if err := sq.Migrate(ctx); err != nil {
				_ = sq.Close()
				return nil, nil, err
			}
		}
		return sq, sq.Close, nil
	case config.StoreFirebase:
		fb, err := store.NewFirebase(ctx, cfg.FirebaseDatabaseURL, cfg.FirebaseCredentials)
		if err != nil {
			return nil, nil, err
		}
		return fb, noop, nil
	default:
		return store.NewMemory(), noop, nil
	}
}

// Start launches background workers.
func (s *Server) Start() {
	if s.worker != nil {
		s.worker.Start()
	}
}

// Close stops workers and releases connections.
func (s *Server) Close() error {
	if s.worker != nil {
		s.worker.Close()
		s.worker = nil
	}
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Optimization trigger
	mux.HandleFunc("/run-optimization", s.RunOptimizationHandler)
	mux.HandleFunc("/v1/optimize", s.RunOptimizationHandler)

	// Routes
	mux.HandleFunc("/v1/routes/ws", s.RouteEventsWSHandler)
	mux.HandleFunc("/v1/routes/", s.RouteByIDHandler) // includes /geojson, /events/stream
	mux.HandleFunc("/graphql", s.GraphQLHTTPHandler)

	// Admin
	mux.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq", s.WebhookDLQHandler)

	// Health, metrics, docs
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return logMiddleware(s.Logger, metricsMiddleware(s.corsMiddleware(mux)))
}
