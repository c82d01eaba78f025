// Package main provides the entry point for the audiobook-forge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/audiobook-forge/internal/bootstrap"
	"github.com/maauso/audiobook-forge/internal/config"
	"github.com/maauso/audiobook-forge/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting audiobook-forge",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("cache_dir", cfg.CacheDir),
		slog.String("projects_dir", cfg.ProjectsDir),
		slog.String("tts_region", cfg.TTSRegion),
		slog.String("default_preset", cfg.DefaultPreset),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("nats_enabled", cfg.NATSEnabled()),
	)

	// Initialize dependencies using bootstrap
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := bootstrap.NewDependencies(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Initialize HTTP handlers and router
	handlerOpts := []server.HandlerOption{server.WithEvents(deps.Events)}
	for name, check := range deps.HealthChecks {
		handlerOpts = append(handlerOpts, server.WithHealthCheck(name, check))
	}
	handlers := server.NewHandlers(deps.Pipeline, deps.Jobs, deps.Scratch, logger, handlerOpts...)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	// Pipeline work runs in jobs, so requests stay short. The event stream
	// is long-lived and has no write timeout; it ends when shutdown begins.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		_ = deps.Close(context.Background())
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	shutdownErr := srv.Shutdown(ctx)
	if err := deps.Close(ctx); err != nil {
		logger.Warn("dependencies did not close cleanly", slog.String("error", err.Error()))
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown failed: %w", shutdownErr)
	}

	logger.Info("server stopped gracefully")
	return nil
}
