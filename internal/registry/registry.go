// Package registry answers attainment queries for the closed set of content
// kinds. It is the only component that knows how "the user attained X" maps
// onto the domain tables, and every answer is scoped to one tenant and its
// active semester.
package registry

import (
	"context"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// Registry exposes the uniform attainment query the evaluator dispatches on,
// plus the enumeration queries the recompute jobs need.
type Registry interface {
	// AttainCount returns how many times the user has attained (kind, id)
	// within the tenant's active semester. A missing target is not an error:
	// it yields zero. Unknown kinds return content.ErrUnknownKind.
	AttainCount(ctx context.Context, tn *tenant.Tenant, kind content.Kind, id, userID int64) (int, error)

	// AllTargetIDs returns the ids of every active target of the given kind
	// in the tenant, ordered ascending for deterministic cache contents.
	AllTargetIDs(ctx context.Context, tn *tenant.Tenant, kind content.Kind) ([]int64, error)

	// ActiveUserIDs pages through the tenant's active users, returning up to
	// limit ids strictly greater than afterID, ascending. Target-scoped jobs
	// use it as their continuation cursor.
	ActiveUserIDs(ctx context.Context, tn *tenant.Tenant, afterID int64, limit int) ([]int64, error)
}
