package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedeck/unlock-engine/internal/config"
	"github.com/bytedeck/unlock-engine/internal/observability"
	"github.com/bytedeck/unlock-engine/internal/queue"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// maxBackoff caps the exponential retry delay.
const maxBackoff = 30 * time.Second

// handBackTimeout bounds the re-enqueue of a job interrupted by shutdown,
// where the consumer context is already cancelled.
const handBackTimeout = 5 * time.Second

// errMalformedJob marks a payload missing the fields its kind requires.
// Retrying cannot fix it, so the job is dropped.
var errMalformedJob = errors.New("malformed job payload")

// Worker consumes recomputation jobs from the shared queue. Multiple
// goroutines pop from the same list; every job binds to its tenant before any
// storage access.
type Worker struct {
	queue   queue.Queue
	tenants tenant.Store
	rc      Recomputer
	cfg     *config.EngineConfig
	logger  *slog.Logger
}

// New wires the worker. If logger is nil, it defaults to slog.Default().
func New(q queue.Queue, tenants tenant.Store, rc Recomputer, cfg *config.EngineConfig, logger *slog.Logger) *Worker {
	if q == nil {
		panic("worker: queue cannot be nil")
	}
	if tenants == nil {
		panic("worker: tenant store cannot be nil")
	}
	if rc == nil {
		panic("worker: recomputer cannot be nil")
	}
	if cfg == nil {
		panic("worker: config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, tenants: tenants, rc: rc, cfg: cfg, logger: logger}
}

// Run consumes jobs until the context is cancelled. It blocks until every
// consumer goroutine has drained.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, w.logger.With(slog.Int("consumer", id)))
		}(i)
	}
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context, log *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx, w.cfg.DequeueTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to dequeue job", slog.String("error", err.Error()))
			// Avoid a hot error loop when the queue backend is down.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		w.process(ctx, log, job)
	}
}

// process runs one job end to end, including retry scheduling. A panic in a
// job is contained here so one poisoned payload cannot kill the consumer.
func (w *Worker) process(ctx context.Context, log *slog.Logger, job *queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing job",
				slog.String("job_id", job.ID),
				slog.String("job_kind", string(job.Kind)),
				slog.Any("panic", r),
			)
			observability.JobsTotal.WithLabelValues(string(job.Kind), "failed").Inc()
		}
	}()

	if !job.Kind.Valid() {
		log.Warn("dropping job with unknown kind",
			slog.String("job_id", job.ID),
			slog.String("job_kind", string(job.Kind)),
		)
		observability.JobsTotal.WithLabelValues(string(job.Kind), "dropped").Inc()
		return
	}

	// Bind through a fresh read. A job enqueued right after a settings
	// change (semester switch, auto-update toggle) must not execute against
	// a cached pre-change binding.
	tn, err := w.tenants.Reload(ctx, job.TenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		log.Warn("dropping job for unknown tenant",
			slog.String("job_id", job.ID),
			slog.Int64("tenant_id", job.TenantID),
		)
		observability.JobsTotal.WithLabelValues(string(job.Kind), "dropped").Inc()
		return
	}
	if err != nil {
		w.retry(ctx, log, job, err)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	err = w.execute(jobCtx, tn, job)
	cancel()

	switch {
	case err == nil:
		observability.JobsTotal.WithLabelValues(string(job.Kind), "success").Inc()
		observability.JobDuration.Observe(time.Since(job.EnqueuedAt).Seconds())

	case errors.Is(err, errMalformedJob):
		log.Warn("dropping malformed job",
			slog.String("job_id", job.ID),
			slog.String("job_kind", string(job.Kind)),
			slog.String("error", err.Error()),
		)
		observability.JobsTotal.WithLabelValues(string(job.Kind), "dropped").Inc()

	// Shutdown cut the job short, the job itself is fine. Hand it back so
	// the pending invalidation survives the restart instead of leaving a
	// stale KNOWN entry behind.
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		w.handBack(log, job)

	case isTransient(err):
		w.retry(ctx, log, job, err)

	default:
		log.Error("job failed with non-retryable error",
			slog.String("job_id", job.ID),
			slog.String("job_kind", string(job.Kind)),
			slog.Int64("tenant_id", job.TenantID),
			slog.String("error", err.Error()),
		)
		observability.JobsTotal.WithLabelValues(string(job.Kind), "failed").Inc()
	}
}

func (w *Worker) execute(ctx context.Context, tn *tenant.Tenant, job *queue.Job) error {
	switch job.Kind {
	case queue.JobRecomputeUser:
		if job.UserID <= 0 {
			return fmt.Errorf("%w: recompute_user without user id", errMalformedJob)
		}
		return w.rc.RecomputeUser(ctx, tn, job.UserID)

	case queue.JobRecomputeTarget:
		if job.Target == nil || !job.Target.Kind.Valid() {
			return fmt.Errorf("%w: recompute_target without valid target", errMalformedJob)
		}
		next, more, err := w.rc.RecomputeTargetPage(ctx, tn, *job.Target, job.Cursor, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		if more {
			return w.queue.Enqueue(ctx, queue.NewTargetJob(tn.ID, *job.Target, next))
		}
		return nil

	case queue.JobRecomputeTenant:
		users, err := w.rc.UserIDsPage(ctx, tn, job.Cursor, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, userID := range users {
			if err := w.queue.Enqueue(ctx, queue.NewUserJob(tn.ID, userID)); err != nil {
				return err
			}
		}
		if len(users) == w.cfg.BatchSize {
			return w.queue.Enqueue(ctx, queue.NewTenantJob(tn.ID, users[len(users)-1]))
		}
		return nil
	}

	// Unreachable: process validates the kind first.
	return fmt.Errorf("%w: kind %q", errMalformedJob, job.Kind)
}

// retry re-enqueues the job after an exponential back-off, or gives up past
// the ceiling. Giving up leaves the affected entries as they are; an UNKNOWN
// entry falls back to live evaluation on the next read.
func (w *Worker) retry(ctx context.Context, log *slog.Logger, job *queue.Job, cause error) {
	if job.Attempt >= w.cfg.RetryMax {
		log.Error("job exhausted retries",
			slog.String("job_id", job.ID),
			slog.String("job_kind", string(job.Kind)),
			slog.Int64("tenant_id", job.TenantID),
			slog.Int("attempts", job.Attempt),
			slog.String("error", cause.Error()),
		)
		observability.JobsTotal.WithLabelValues(string(job.Kind), "failed").Inc()
		return
	}

	job.Attempt++
	delay := backoff(w.cfg.RetryBackoff, job.Attempt)

	log.Warn("retrying job after transient failure",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)
	observability.JobsTotal.WithLabelValues(string(job.Kind), "retry").Inc()

	select {
	case <-ctx.Done():
		// Shutdown during the back-off wait: hand the job back instead of
		// dropping it.
		w.handBack(log, job)
		return
	case <-time.After(delay):
	}

	if err := w.queue.Enqueue(ctx, job); err != nil {
		log.Error("failed to re-enqueue job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		observability.JobsTotal.WithLabelValues(string(job.Kind), "failed").Inc()
	}
}

// handBack re-enqueues a job that shutdown interrupted, keeping delivery
// at-least-once across restarts. The consumer context is already dead, so the
// write runs on a short detached one; idempotent recomputation absorbs the
// duplicate delivery.
func (w *Worker) handBack(log *slog.Logger, job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), handBackTimeout)
	defer cancel()

	if err := w.queue.Enqueue(ctx, job); err != nil {
		log.Error("failed to hand back job on shutdown",
			slog.String("job_id", job.ID),
			slog.String("job_kind", string(job.Kind)),
			slog.String("error", err.Error()),
		)
		observability.JobsTotal.WithLabelValues(string(job.Kind), "failed").Inc()
		return
	}

	log.Info("handed back in-flight job on shutdown",
		slog.String("job_id", job.ID),
		slog.String("job_kind", string(job.Kind)),
	)
	observability.JobsTotal.WithLabelValues(string(job.Kind), "requeued").Inc()
}

// backoff doubles the base delay per attempt, capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
