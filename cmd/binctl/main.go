// Command binctl prepares stores and runs one-off optimization passes
// without the HTTP server.
//
//	binctl migrate
//	binctl seed -file seed.yaml
//	binctl import -bins bins.csv [-predictions predictions.csv]
//	binctl optimize
//	binctl route [-id route_1] [-geojson]
//
// Store selection, solver settings and the REDIS_URL run lock come from the
// same configuration as the API server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"binroute/internal/api"
	"binroute/internal/config"
	"binroute/internal/integrations"
	"binroute/internal/integrations/csvfeed"
	"binroute/internal/logging"
	"binroute/internal/model"
	"binroute/internal/planner"
	"binroute/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, "text")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout, os.Args[1], os.Args[2:]); err != nil {
		logger.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: binctl <migrate|seed|import|optimize|route> [flags]")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var (
		file      = fs.String("file", "", "YAML seed file (seed)")
		binsCSV   = fs.String("bins", "", "bins CSV export (import)")
		predsCSV  = fs.String("predictions", "", "predictions CSV export (import)")
		routeID   = fs.String("id", cfg.RouteID, "route id (route)")
		asGeoJSON = fs.Bool("geojson", false, "print the route as GeoJSON (route)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd == "migrate" {
		if cfg.StoreKind() != config.StoreSQL {
			return errors.Errorf("migrate needs a SQL store, configured store is %s", cfg.StoreKind())
		}
		cfg.DBMigrate = true
	}
	st, closeStore, err := api.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	switch cmd {
	case "migrate":
		logger.Info("schema up to date", "store", st.Name())
		return nil
	case "seed":
		if *file == "" {
			return errors.New("seed requires -file")
		}
		fx, err := store.LoadFixture(*file)
		if err != nil {
			return err
		}
		return seed(ctx, logger, st, fx)
	case "import":
		if *binsCSV == "" && *predsCSV == "" {
			return errors.New("import requires -bins or -predictions")
		}
		seeder, ok := st.(store.Seeder)
		if !ok {
			return errors.Errorf("store %s cannot be seeded", st.Name())
		}
		fx, err := integrations.Ingest(ctx, csvfeed.Adapter{BinsPath: *binsCSV, PredictionsPath: *predsCSV}, seeder)
		if err != nil {
			return err
		}
		logger.Info("imported", "store", st.Name(), "bins", len(fx.Bins), "predictions", len(fx.Predictions))
		return nil
	case "optimize":
		srv, err := api.New(cfg, st, logger)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
		// shares the API's run lock so a CLI run never races a triggered one
		if err := srv.UseRedis(ctx); err != nil {
			return err
		}
		res, err := srv.RunExclusive(ctx, srv.Planner)
		if errors.Is(err, planner.ErrDataUnavailable) {
			logger.Info("no bins need collection; route left unchanged", "route_id", res.RouteID)
			return nil
		}
		if err != nil {
			return err
		}
		return json.NewEncoder(out).Encode(map[string]any{
			"run_id":            res.RunID,
			"route_id":          res.RouteID,
			"total_bins":        res.Route.StopCount,
			"total_distance_km": res.Route.Doc().TotalDistanceKm,
			"timed_out":         res.Stats.TimedOut,
		})
	case "route":
		rt, err := st.GetRoute(ctx, *routeID)
		if err != nil {
			return errors.Wrapf(err, "route %s", *routeID)
		}
		return printRoute(out, rt, *asGeoJSON)
	default:
		usage(out)
		return errors.Errorf("unknown command %q", cmd)
	}
}

func seed(ctx context.Context, logger *slog.Logger, st store.Store, fx store.Fixture) error {
	seeder, ok := st.(store.Seeder)
	if !ok {
		return errors.Errorf("store %s cannot be seeded", st.Name())
	}
	if err := seeder.Seed(ctx, fx); err != nil {
		return err
	}
	logger.Info("seeded", "store", st.Name(), "bins", len(fx.Bins), "predictions", len(fx.Predictions))
	return nil
}

func printRoute(out io.Writer, rt model.Route, asGeoJSON bool) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if asGeoJSON {
		return enc.Encode(api.RouteFeatures(rt))
	}
	return enc.Encode(rt.Doc())
}
