// Package evaluator implements the core availability decision: are all
// prerequisites of a target met for a user? It is a pure function over the
// prereq store and the registry; it never mutates the cache and is safe to
// call concurrently. Callers that want persistence go through the dispatcher.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/registry"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// RowLister is the slice of the prereq store the evaluator needs.
type RowLister interface {
	ListForParent(ctx context.Context, tenantID int64, parent content.Ref) ([]*prereq.Row, error)
}

// Evaluator answers ConditionsMet queries.
type Evaluator struct {
	rows     RowLister
	registry registry.Registry
	logger   *slog.Logger
}

// New creates an Evaluator. If logger is nil, it defaults to slog.Default().
func New(rows RowLister, reg registry.Registry, logger *slog.Logger) *Evaluator {
	if rows == nil {
		panic("evaluator: row lister cannot be nil")
	}
	if reg == nil {
		panic("evaluator: registry cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{rows: rows, registry: reg, logger: logger}
}

// rowSignature identifies rows that are semantically identical, so repeated
// rows can be treated as an N-of requirement instead of a no-op conjunct.
type rowSignature struct {
	required content.Clause
	alt      content.Clause
	hasAlt   bool
}

func signatureOf(row *prereq.Row) rowSignature {
	sig := rowSignature{required: row.Required}
	if row.Alternate != nil {
		sig.alt = *row.Alternate
		sig.hasAlt = true
	}
	return sig
}

// ConditionsMet reports whether every prerequisite row of the target is
// satisfied for the user. A target with zero rows is unconditionally
// available. Rows referencing a kind outside the registry are treated as
// never satisfied (logged, not fatal); the row can still pass through its
// other clause.
//
// Duplicate identical rows escalate: the k-th occurrence demands k times the
// clause count, so three rows requiring "quest Q0 x1" together mean "Q0
// approved three times". Inverted clauses are idempotent across duplicates
// and are not scaled.
func (e *Evaluator) ConditionsMet(ctx context.Context, tn *tenant.Tenant, target content.Ref, userID int64) (bool, error) {
	rows, err := e.rows.ListForParent(ctx, tn.ID, target)
	if err != nil {
		return false, fmt.Errorf("failed to load prereqs for %s: %w", target, err)
	}

	occurrences := map[rowSignature]int{}

	for _, row := range rows {
		sig := signatureOf(row)
		occurrences[sig]++

		ok, err := e.rowSatisfied(ctx, tn, row, userID, occurrences[sig])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// rowSatisfied evaluates one AND-conjunct: required OR alternate-if-present.
func (e *Evaluator) rowSatisfied(ctx context.Context, tn *tenant.Tenant, row *prereq.Row, userID int64, occurrence int) (bool, error) {
	ok, err := e.clauseSatisfied(ctx, tn, row, scaled(row.Required, occurrence), userID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	if row.Alternate == nil {
		return false, nil
	}

	return e.clauseSatisfied(ctx, tn, row, scaled(*row.Alternate, occurrence), userID)
}

// scaled multiplies the count threshold by the duplicate-row ordinal.
func scaled(clause content.Clause, occurrence int) content.Clause {
	if clause.Invert || occurrence <= 1 {
		return clause
	}
	clause.Count *= occurrence
	return clause
}

func (e *Evaluator) clauseSatisfied(ctx context.Context, tn *tenant.Tenant, row *prereq.Row, clause content.Clause, userID int64) (bool, error) {
	n, err := e.registry.AttainCount(ctx, tn, clause.Kind, clause.ID, userID)
	if err != nil {
		if errors.Is(err, content.ErrUnknownKind) {
			// A row written by a newer deployment, or a kind since removed.
			// Treat the clause as never satisfied rather than failing the
			// whole evaluation.
			e.logger.Warn("skipping clause with unknown kind",
				slog.Int64("prereq_id", row.ID),
				slog.String("kind", clause.Kind.String()),
			)
			return false, nil
		}
		return false, fmt.Errorf("attain count for %s: %w", clause.Ref(), err)
	}

	return clause.Satisfied(n), nil
}
