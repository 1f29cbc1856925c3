package availability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/evaluator"
	"github.com/bytedeck/unlock-engine/internal/observability"
	"github.com/bytedeck/unlock-engine/internal/registry"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// Service is the read-through layer over the cache: list screens call
// AvailableIDs, and an UNKNOWN entry triggers a synchronous recompute so the
// caller always gets a correct answer, just slower.
type Service struct {
	store    Store
	eval     *evaluator.Evaluator
	registry registry.Registry
	logger   *slog.Logger
}

// NewService wires the read path. If logger is nil, it defaults to slog.Default().
func NewService(store Store, eval *evaluator.Evaluator, reg registry.Registry, logger *slog.Logger) *Service {
	if store == nil {
		panic("availability: store cannot be nil")
	}
	if eval == nil {
		panic("availability: evaluator cannot be nil")
	}
	if reg == nil {
		panic("availability: registry cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, eval: eval, registry: reg, logger: logger}
}

// AvailableIDs returns the target ids of the given kind currently available
// to the user. Cached entries are served as-is (eventual consistency by
// contract); an UNKNOWN entry is recomputed live and written back.
func (s *Service) AvailableIDs(ctx context.Context, tn *tenant.Tenant, userID int64, kind content.Kind) ([]int64, error) {
	set, err := s.store.Read(ctx, tn.ID, userID, kind)
	if err != nil {
		// A broken cache read degrades to live evaluation; the UI stays
		// correct at some performance cost.
		s.logger.Warn("availability cache read failed, falling back to live evaluation",
			slog.Int64("tenant_id", tn.ID),
			slog.Int64("user_id", userID),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		set = nil
	}

	if set != nil {
		observability.CacheHits.Inc()
		return set.IDs, nil
	}
	observability.CacheMisses.Inc()

	computed, err := s.Compute(ctx, tn, userID, kind)
	if err != nil {
		return nil, err
	}

	if err := s.store.Replace(ctx, tn.ID, userID, kind, computed); err != nil {
		// The answer is still correct; only the materialization failed.
		s.logger.Warn("failed to write back availability set",
			slog.Int64("tenant_id", tn.ID),
			slog.Int64("user_id", userID),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
	}

	return computed.IDs, nil
}

// Compute evaluates every active target of the kind for the user and returns
// the sorted id set. It is the single recompute primitive: the worker's jobs
// and the read-through path both use it, which is what makes recomputation
// idempotent.
func (s *Service) Compute(ctx context.Context, tn *tenant.Tenant, userID int64, kind content.Kind) (*Set, error) {
	targetIDs, err := s.registry.AllTargetIDs(ctx, tn, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s targets: %w", kind, err)
	}

	met := make([]int64, 0, len(targetIDs))
	for _, id := range targetIDs {
		ok, err := s.eval.ConditionsMet(ctx, tn, content.Ref{Kind: kind, ID: id}, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			met = append(met, id)
		}
	}

	sort.Slice(met, func(i, j int) bool { return met[i] < met[j] })

	return &Set{IDs: met, ComputedAt: time.Now().UTC()}, nil
}
