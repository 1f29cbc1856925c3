// Package availability materializes, per (tenant, user, kind), the set of
// target ids whose prerequisites the user currently meets. The cache is
// eventually consistent with the evaluator; readers that find no entry fall
// back to live evaluation.
package availability

import (
	"context"
	"sort"
	"time"

	"github.com/bytedeck/unlock-engine/internal/content"
)

// Set is one materialized availability entry. IDs are sorted ascending so
// recomputing the same state yields a bit-identical entry.
type Set struct {
	IDs        []int64   `json:"ids"`
	ComputedAt time.Time `json:"computed_at"`
}

// Contains reports whether the target id is in the set.
func (s *Set) Contains(id int64) bool {
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// WithMembership returns a set with the target id present or absent, plus
// whether anything changed. The receiver is not modified; target-scoped jobs
// edit a fresh copy and swap it in with Replace.
func (s *Set) WithMembership(id int64, member bool) (*Set, bool) {
	idx := sort.Search(len(s.IDs), func(i int) bool { return s.IDs[i] >= id })
	present := idx < len(s.IDs) && s.IDs[idx] == id
	if present == member {
		return s, false
	}

	ids := make([]int64, 0, len(s.IDs)+1)
	ids = append(ids, s.IDs[:idx]...)
	if member {
		ids = append(ids, id)
		ids = append(ids, s.IDs[idx:]...)
	} else {
		ids = append(ids, s.IDs[idx+1:]...)
	}

	return &Set{IDs: ids, ComputedAt: time.Now().UTC()}, true
}

// Store is the availability cache contract. Read returns (nil, nil) for
// UNKNOWN: an entry that has never been computed or has been invalidated.
type Store interface {
	// Read returns the cached set, or nil when the entry is UNKNOWN.
	Read(ctx context.Context, tenantID, userID int64, kind content.Kind) (*Set, error)

	// Replace atomically overwrites the entry. Readers never observe a
	// partial update; concurrent replaces resolve to last-writer-wins.
	Replace(ctx context.Context, tenantID, userID int64, kind content.Kind, set *Set) error

	// Invalidate resets the entry to UNKNOWN.
	Invalidate(ctx context.Context, tenantID, userID int64, kind content.Kind) error

	// DropUser removes every entry of one user (user deactivated/deleted).
	DropUser(ctx context.Context, tenantID, userID int64) error

	// DropKind removes the entries of one kind for every user in the tenant.
	DropKind(ctx context.Context, tenantID int64, kind content.Kind) error

	// DropTenant removes every entry in the tenant (semester rollover).
	DropTenant(ctx context.Context, tenantID int64) error
}
