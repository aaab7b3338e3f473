// Package main is the entry point for the QueryGuard operator API.
//
// It loads configuration, opens the query store, builds the HTTP server on
// the api chassis (middleware, routing, health checks) and serves the
// /v1/queries endpoints until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"queryguard/internal/api"
	"queryguard/internal/api/handlers"
	"queryguard/internal/app"
	"queryguard/internal/config"
	"queryguard/internal/db"
	"queryguard/internal/telemetry"
	"queryguard/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Providers are never called from the API, so their credentials are not required.
	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")),
		config.Options{SkipBackendChecks: true})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel, true).With("service", cfg.Service, "component", "api")
	logger.Info("queryguard API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"store", cfg.Database.Backend,
	)

	store, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	recorder, err := telemetry.New(ctx, cfg, types.NewSlogLogger(logger))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("building metrics: %w", err)
	}

	srv, err := buildServer(cfg, store, recorder, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the query handler, health probe and metrics endpoint.
// The server owns store and closes it on Shutdown.
func buildServer(cfg *config.Config, store db.Store, recorder telemetry.Recorder, logger *slog.Logger) (*api.Server, error) {
	srv, err := api.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = recorder
	srv.HealthProbes = append(srv.HealthProbes, api.ProbeFunc{ProbeName: "database", Fn: store.Ping})
	if cfg.Observability.MetricBackend == config.MetricsPrometheus {
		srv.MetricsHandler = promhttp.Handler()
	}
	srv.Closers = append(srv.Closers, store)

	queries := handlers.NewQueryHandler(store, srv.Validator, logger, types.RealClock{})
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, queries.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *api.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
