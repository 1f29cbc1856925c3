package config

import (
	"fmt"
	"time"
)

// EngineConfig carries the tunables of the unlock engine: invalidation
// coalescing, batch paging for target-wide recomputes, and worker retry
// behavior. Per-tenant settings (auto-update gating, active semester) live
// in the tenants table, not here.
type EngineConfig struct {
	// CoalesceWindow is how long the dispatcher holds an invalidation scope
	// open so repeated events for the same user or target collapse into a
	// single recompute job.
	CoalesceWindow time.Duration `envconfig:"COALESCE_WINDOW" default:"10s"`

	// BatchSize bounds how many users a target-scoped job evaluates before
	// re-enqueueing itself with a continuation cursor.
	BatchSize int `envconfig:"BATCH_SIZE" default:"500" validate:"min=1"`

	// RetryMax is the number of retries for transient storage failures.
	RetryMax int `envconfig:"RETRY_MAX" default:"5" validate:"min=0"`

	// RetryBackoff is the initial back-off before the first retry; it doubles
	// on every subsequent attempt.
	RetryBackoff time.Duration `envconfig:"RETRY_BACKOFF" default:"1s"`

	// JobTimeout is the per-batch wall-clock budget. A job that exceeds it is
	// treated as retryable; target-scoped jobs resume from their cursor.
	JobTimeout time.Duration `envconfig:"JOB_TIMEOUT" default:"2m"`

	// WorkerConcurrency is the number of goroutines consuming the shared
	// job queue. Jobs within a tenant may run in parallel; idempotence and
	// atomic cache replacement make that safe.
	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"4" validate:"min=1"`

	// DequeueTimeout bounds each blocking pop on the queue so workers notice
	// context cancellation promptly.
	DequeueTimeout time.Duration `envconfig:"DEQUEUE_TIMEOUT" default:"5s"`
}

// Validate checks the engine configuration invariants envconfig tags can't express.
func (c *EngineConfig) Validate() error {
	if c.CoalesceWindow < 0 {
		return fmt.Errorf("engine coalesce window cannot be negative")
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("engine retry backoff must be positive")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("engine job timeout must be positive")
	}
	if c.DequeueTimeout <= 0 {
		return fmt.Errorf("engine dequeue timeout must be positive")
	}
	return nil
}
