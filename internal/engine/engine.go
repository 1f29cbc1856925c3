// Package engine is the facade collaborators program against: synchronous
// evaluation and availability reads, event intake, and admin recompute
// triggers. It owns no logic of its own; it binds the evaluator, the cache
// service and the dispatcher behind one surface.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedeck/unlock-engine/internal/availability"
	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/dispatcher"
	"github.com/bytedeck/unlock-engine/internal/evaluator"
	"github.com/bytedeck/unlock-engine/internal/observability"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// Engine exposes the unlock operations. All methods take the tenant
// explicitly; there is no ambient tenant state anywhere in the engine.
type Engine struct {
	eval  *evaluator.Evaluator
	avail *availability.Service
	disp  *dispatcher.Dispatcher
}

// New wires the facade.
func New(eval *evaluator.Evaluator, avail *availability.Service, disp *dispatcher.Dispatcher) *Engine {
	if eval == nil {
		panic("engine: evaluator cannot be nil")
	}
	if avail == nil {
		panic("engine: availability service cannot be nil")
	}
	if disp == nil {
		panic("engine: dispatcher cannot be nil")
	}
	return &Engine{eval: eval, avail: avail, disp: disp}
}

// Evaluate answers the single-item check: are all prerequisites of the target
// met for the user right now? It always consults authoritative state, never
// the cache.
func (e *Engine) Evaluate(ctx context.Context, tn *tenant.Tenant, target content.Ref, userID int64) (bool, error) {
	if !target.Kind.Valid() {
		return false, fmt.Errorf("%w: %q", content.ErrUnknownKind, target.Kind)
	}

	start := time.Now()
	met, err := e.eval.ConditionsMet(ctx, tn, target, userID)
	observability.EvalDuration.Observe(time.Since(start).Seconds())
	return met, err
}

// AvailableIDs returns the cached availability set for (user, kind),
// recomputing on an UNKNOWN entry.
func (e *Engine) AvailableIDs(ctx context.Context, tn *tenant.Tenant, userID int64, kind content.Kind) ([]int64, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", content.ErrUnknownKind, kind)
	}
	return e.avail.AvailableIDs(ctx, tn, userID, kind)
}

// OnEvent reports a domain event. Non-blocking: it returns once the
// resulting job is enqueued or coalesced.
func (e *Engine) OnEvent(ctx context.Context, tn *tenant.Tenant, ev dispatcher.Event) error {
	return e.disp.OnEvent(ctx, tn, ev)
}

// RecomputeUser schedules an immediate user-scoped recompute, bypassing
// gating and coalescing.
func (e *Engine) RecomputeUser(ctx context.Context, tn *tenant.Tenant, userID int64) error {
	return e.disp.RecomputeUser(ctx, tn, userID)
}

// RecomputeTarget schedules an immediate target-scoped recompute.
func (e *Engine) RecomputeTarget(ctx context.Context, tn *tenant.Tenant, target content.Ref) error {
	return e.disp.RecomputeTarget(ctx, tn, target)
}

// RecomputeTenant schedules a tenant-wide recompute.
func (e *Engine) RecomputeTenant(ctx context.Context, tn *tenant.Tenant) error {
	return e.disp.RecomputeTenant(ctx, tn)
}

// Close flushes pending coalesced invalidations.
func (e *Engine) Close() {
	e.disp.Close()
}
