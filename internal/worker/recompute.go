// Package worker consumes the shared job queue and performs cache
// recomputation. Every job is executed in its own tenant binding; jobs are
// idempotent, so the at-least-once queue and parallel consumers need no
// coordination beyond the cache's atomic replace.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bytedeck/unlock-engine/internal/availability"
	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/evaluator"
	"github.com/bytedeck/unlock-engine/internal/registry"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// Recomputer is the slice of recompute operations the worker drives.
type Recomputer interface {
	// RecomputeUser rebuilds every kind's availability set for one user.
	RecomputeUser(ctx context.Context, tn *tenant.Tenant, userID int64) error

	// RecomputeTargetPage re-evaluates one target for up to limit active
	// users after the cursor. It returns the next cursor and whether more
	// pages remain.
	RecomputeTargetPage(ctx context.Context, tn *tenant.Tenant, target content.Ref, afterID int64, limit int) (int64, bool, error)

	// UserIDsPage pages through the tenant's active users for tenant-wide
	// fanout.
	UserIDsPage(ctx context.Context, tn *tenant.Tenant, afterID int64, limit int) ([]int64, error)
}

// Compile-time check to verify that CacheRecomputer implements Recomputer.
var _ Recomputer = (*CacheRecomputer)(nil)

// CacheRecomputer implements the recompute operations against the real
// evaluator, registry and availability store.
type CacheRecomputer struct {
	avail  *availability.Service
	store  availability.Store
	eval   *evaluator.Evaluator
	reg    registry.Registry
	logger *slog.Logger
}

// NewCacheRecomputer wires the recomputer. If logger is nil, it defaults to
// slog.Default().
func NewCacheRecomputer(avail *availability.Service, store availability.Store, eval *evaluator.Evaluator, reg registry.Registry, logger *slog.Logger) *CacheRecomputer {
	if avail == nil {
		panic("worker: availability service cannot be nil")
	}
	if store == nil {
		panic("worker: availability store cannot be nil")
	}
	if eval == nil {
		panic("worker: evaluator cannot be nil")
	}
	if reg == nil {
		panic("worker: registry cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheRecomputer{avail: avail, store: store, eval: eval, reg: reg, logger: logger}
}

// RecomputeUser rebuilds the user's availability sets from authoritative
// state. Replaying it is harmless: the same state computes the same sorted
// sets.
func (r *CacheRecomputer) RecomputeUser(ctx context.Context, tn *tenant.Tenant, userID int64) error {
	for _, kind := range content.Kinds {
		set, err := r.avail.Compute(ctx, tn, userID, kind)
		if err != nil {
			return fmt.Errorf("failed to recompute %s availability for user %d: %w", kind, userID, err)
		}
		if err := r.store.Replace(ctx, tn.ID, userID, kind, set); err != nil {
			return fmt.Errorf("failed to store %s availability for user %d: %w", kind, userID, err)
		}
	}
	return nil
}

// RecomputeTargetPage evaluates the target for one page of users and edits
// their cached sets in place. Users whose entry is UNKNOWN are skipped: their
// next read recomputes the full set anyway.
func (r *CacheRecomputer) RecomputeTargetPage(ctx context.Context, tn *tenant.Tenant, target content.Ref, afterID int64, limit int) (int64, bool, error) {
	users, err := r.reg.ActiveUserIDs(ctx, tn, afterID, limit)
	if err != nil {
		return 0, false, fmt.Errorf("failed to page users after %d: %w", afterID, err)
	}

	for _, userID := range users {
		met, err := r.eval.ConditionsMet(ctx, tn, target, userID)
		if err != nil {
			return 0, false, err
		}

		set, err := r.store.Read(ctx, tn.ID, userID, target.Kind)
		if err != nil {
			return 0, false, fmt.Errorf("failed to read availability for user %d: %w", userID, err)
		}
		if set == nil {
			continue
		}

		updated, changed := set.WithMembership(target.ID, met)
		if !changed {
			continue
		}
		if err := r.store.Replace(ctx, tn.ID, userID, target.Kind, updated); err != nil {
			return 0, false, fmt.Errorf("failed to replace availability for user %d: %w", userID, err)
		}
	}

	if len(users) < limit {
		return 0, false, nil
	}
	return users[len(users)-1], true, nil
}

// UserIDsPage exposes user paging for tenant-wide fanout.
func (r *CacheRecomputer) UserIDsPage(ctx context.Context, tn *tenant.Tenant, afterID int64, limit int) ([]int64, error) {
	return r.reg.ActiveUserIDs(ctx, tn, afterID, limit)
}
