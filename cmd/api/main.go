package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binroute/internal/api"
	"binroute/internal/buildinfo"
	"binroute/internal/config"
	"binroute/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srvDeps, err := api.NewServer(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to init server", "error", err)
		os.Exit(1)
	}
	srvDeps.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srvDeps.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("API listening", "addr", srv.Addr, "store", srvDeps.Store.Name(), "version", buildinfo.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	// in-flight optimization runs may take up to the solver budget
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.SolverTimeBudget+10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := srvDeps.Close(); err != nil {
		logger.Error("close error", "error", err)
	}
	logger.Info("stopped")
}
