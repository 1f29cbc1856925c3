package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/observability"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/queue"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// enqueueTimeout bounds the deferred enqueue that runs when a coalescing
// timer fires, where no caller context exists anymore.
const enqueueTimeout = 5 * time.Second

// enqueueRetryDelay separates the two delivery attempts of a deferred enqueue.
const enqueueRetryDelay = 100 * time.Millisecond

// Dispatcher maps domain events to recomputation jobs. OnEvent is
// non-blocking: it returns once the job is enqueued or absorbed by the
// coalescer.
type Dispatcher struct {
	queue   queue.Queue
	prereqs prereq.Store
	co      *Coalescer
	logger  *slog.Logger
}

// New wires the dispatcher. window is the coalescing window; zero disables
// coalescing. If logger is nil, it defaults to slog.Default().
func New(q queue.Queue, prereqs prereq.Store, window time.Duration, logger *slog.Logger) *Dispatcher {
	if q == nil {
		panic("dispatcher: queue cannot be nil")
	}
	if prereqs == nil {
		panic("dispatcher: prereq store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{queue: q, prereqs: prereqs, logger: logger}
	d.co = NewCoalescer(window, d.deferredEnqueue)
	return d
}

// OnEvent translates one domain event into jobs. Unknown event kinds are
// logged and dropped. When the tenant has auto-update disabled the event is
// suppressed; admins can still force recomputation through the Recompute
// operations.
func (d *Dispatcher) OnEvent(ctx context.Context, tn *tenant.Tenant, ev Event) error {
	if err := ev.Validate(); err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			d.logger.Warn("dropping event with unknown kind",
				slog.Int64("tenant_id", tn.ID),
				slog.String("event", string(ev.Kind)),
			)
			observability.EventsTotal.WithLabelValues(string(ev.Kind), "dropped").Inc()
			return nil
		}
		return err
	}

	if !tn.AutoUpdateEnabled {
		observability.EventsTotal.WithLabelValues(string(ev.Kind), "gated").Inc()
		return nil
	}

	var scheduled bool
	switch {
	case ev.Kind.userScoped():
		scheduled = d.co.Schedule(
			userKey(tn.ID, ev.UserID),
			queue.NewUserJob(tn.ID, ev.UserID),
		)

	case ev.Kind.targetScoped():
		scheduled = d.co.Schedule(
			targetKey(tn.ID, ev.Target),
			queue.NewTargetJob(tn.ID, ev.Target, 0),
		)
		d.fanOutReliant(ctx, tn, ev.Target)

	case ev.Kind.tenantScoped():
		scheduled = d.co.Schedule(
			tenantKey(tn.ID),
			queue.NewTenantJob(tn.ID, 0),
		)
	}

	outcome := "coalesced"
	if scheduled {
		outcome = "dispatched"
	}
	observability.EventsTotal.WithLabelValues(string(ev.Kind), outcome).Inc()
	return nil
}

// fanOutReliant also invalidates the targets whose formulas reference the
// changed object, since their satisfaction may flip with it. A fanout failure
// only degrades freshness for the reliant targets, so it is logged rather
// than surfaced to the event producer.
func (d *Dispatcher) fanOutReliant(ctx context.Context, tn *tenant.Tenant, target content.Ref) {
	parents, err := d.prereqs.ReliantParents(ctx, tn.ID, target)
	if err != nil {
		d.logger.Warn("failed to resolve reliant targets for fanout",
			slog.Int64("tenant_id", tn.ID),
			slog.String("target", target.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, parent := range parents {
		d.co.Schedule(targetKey(tn.ID, parent), queue.NewTargetJob(tn.ID, parent, 0))
	}
}

// RecomputeUser enqueues a user-scoped job immediately, bypassing both the
// auto-update gate and the coalescer.
func (d *Dispatcher) RecomputeUser(ctx context.Context, tn *tenant.Tenant, userID int64) error {
	return d.queue.Enqueue(ctx, queue.NewUserJob(tn.ID, userID))
}

// RecomputeTarget enqueues a target-scoped job immediately.
func (d *Dispatcher) RecomputeTarget(ctx context.Context, tn *tenant.Tenant, target content.Ref) error {
	if !target.Kind.Valid() {
		return fmt.Errorf("%w: %q", content.ErrUnknownKind, target.Kind)
	}
	return d.queue.Enqueue(ctx, queue.NewTargetJob(tn.ID, target, 0))
}

// RecomputeTenant enqueues a tenant-wide job immediately.
func (d *Dispatcher) RecomputeTenant(ctx context.Context, tn *tenant.Tenant) error {
	return d.queue.Enqueue(ctx, queue.NewTenantJob(tn.ID, 0))
}

// Close flushes pending coalesced jobs and stops the dispatcher.
func (d *Dispatcher) Close() {
	d.co.Close()
}

// deferredEnqueue runs when a coalescing timer fires; there is no caller
// context left, so it uses a bounded background one. The timer firing is the
// only delivery chance the coalesced job gets, so a failed push is retried
// once before giving up. Giving up loses at most freshness: the affected
// entries stay cached until the next event or an UNKNOWN read recomputes them.
func (d *Dispatcher) deferredEnqueue(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	err := d.queue.Enqueue(ctx, job)
	if err != nil {
		time.Sleep(enqueueRetryDelay)
		err = d.queue.Enqueue(ctx, job)
	}
	if err != nil {
		d.logger.Error("failed to enqueue coalesced job",
			slog.Int64("tenant_id", job.TenantID),
			slog.String("job_kind", string(job.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func userKey(tenantID, userID int64) string {
	return fmt.Sprintf("user:%d:%d", tenantID, userID)
}

func targetKey(tenantID int64, ref content.Ref) string {
	return fmt.Sprintf("target:%d:%s:%d", tenantID, ref.Kind, ref.ID)
}

func tenantKey(tenantID int64) string {
	return fmt.Sprintf("tenant:%d", tenantID)
}
