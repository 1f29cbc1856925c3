// Package main initializes and runs the unlock engine control API.
//
// It acts as the composition root: configuration, PostgreSQL and Redis
// connections, the evaluator/availability/dispatcher wiring, and the HTTP
// server lifecycle.
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

	"github.com/joho/godotenv"

	"github.com/bytedeck/unlock-engine/internal/availability"
	"github.com/bytedeck/unlock-engine/internal/config"
	"github.com/bytedeck/unlock-engine/internal/controlapi"
	"github.com/bytedeck/unlock-engine/internal/database"
	"github.com/bytedeck/unlock-engine/internal/dispatcher"
	"github.com/bytedeck/unlock-engine/internal/engine"
	"github.com/bytedeck/unlock-engine/internal/evaluator"
	"github.com/bytedeck/unlock-engine/internal/logger"
	"github.com/bytedeck/unlock-engine/internal/observability"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/queue"
	"github.com/bytedeck/unlock-engine/internal/registry"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	// Infrastructure.
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	// Stores.
	tenants, err := tenant.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("failed to create tenant store: %w", err)
	}
	prereqs := prereq.NewPostgresStore(pool)
	reg := registry.NewPostgresRegistry(pool)

	// Engine wiring.
	eval := evaluator.New(prereqs, reg, log)
	availStore := availability.NewRedisStore(redisClient)
	avail := availability.NewService(availStore, eval, reg, log)
	jobs := queue.NewRedisQueue(redisClient)
	disp := dispatcher.New(jobs, prereqs, cfg.Engine.CoalesceWindow, log)
	eng := engine.New(eval, avail, disp)
	defer eng.Close()

	api := controlapi.NewAPI(eng, prereqs, tenants, controlapi.HashAPIKey(cfg.Server.APIKey))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)

	if cfg.Observability.Enabled {
		obs := observability.NewServer(&cfg.Observability, log,
			observability.Checker{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					return database.HealthCheck(ctx, pool)
				},
			},
			observability.Checker{
				Name: "redis",
				Check: func(ctx context.Context) error {
					return redisClient.Ping(ctx).Err()
				},
			},
		)
		go func() {
			if err := obs.Run(ctx); err != nil {
				errCh <- fmt.Errorf("observability server failed: %w", err)
			}
		}()
	}

	go func() {
		log.Info("control API listening", slog.String("addr", cfg.Server.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control API server failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received, draining control API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control API shutdown failed: %w", err)
	}

	log.Info("service exited")
	return nil
}
