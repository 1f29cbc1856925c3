// Package main initializes and runs the recompute worker.
//
// The worker consumes invalidation jobs from the shared Redis queue and
// refreshes cached availability sets. It can be scaled independently of the
// control API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bytedeck/unlock-engine/internal/availability"
	"github.com/bytedeck/unlock-engine/internal/config"
	"github.com/bytedeck/unlock-engine/internal/database"
	"github.com/bytedeck/unlock-engine/internal/evaluator"
	"github.com/bytedeck/unlock-engine/internal/logger"
	"github.com/bytedeck/unlock-engine/internal/observability"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/queue"
	"github.com/bytedeck/unlock-engine/internal/registry"
	"github.com/bytedeck/unlock-engine/internal/tenant"
	"github.com/bytedeck/unlock-engine/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
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

	tenants, err := tenant.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("failed to create tenant store: %w", err)
	}
	prereqs := prereq.NewPostgresStore(pool)
	reg := registry.NewPostgresRegistry(pool)

	eval := evaluator.New(prereqs, reg, log)
	availStore := availability.NewRedisStore(redisClient)
	avail := availability.NewService(availStore, eval, reg, log)
	jobs := queue.NewRedisQueue(redisClient)
	rc := worker.NewCacheRecomputer(avail, availStore, eval, reg, log)
	w := worker.New(jobs, tenants, rc, &cfg.Engine, log)

	errCh := make(chan error, 1)
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

	log.Info("worker starting", slog.Int("concurrency", cfg.Engine.WorkerConcurrency))

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case err := <-errCh:
		stop()
		<-done
		return err
	case <-done:
	}

	log.Info("worker exited")
	return nil
}
