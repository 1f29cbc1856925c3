// Package prereq persists the prerequisite graph: one row per AND-conjunct of
// a target's availability formula, where each row is a small OR of a required
// clause and an optional alternate clause. Writes validate the graph stays
// acyclic, which is what lets the evaluator be a shallow conjunction instead
// of a recursive walk.
package prereq

import (
	"errors"
	"fmt"

	"github.com/bytedeck/unlock-engine/internal/content"
)

// ErrCycle is returned when inserting or updating a row would create a cycle
// in the dependency graph, including the degenerate self-reference case.
// Surfaced to the caller of the write; nothing is persisted.
var ErrCycle = errors.New("prerequisite cycle detected")

// Row is one persisted prerequisite. The parent target is available to a user
// only when every one of its rows is satisfied; a row is satisfied when its
// required clause, or its alternate clause if present, is satisfied.
type Row struct {
	ID       int64
	TenantID int64

	Parent    content.Ref
	Required  content.Clause
	Alternate *content.Clause

	// SortKey orders rows for display. Evaluation is a commutative
	// conjunction, so the order carries no semantics.
	SortKey int
}

// Validate enforces the row invariants before a write touches storage.
func (r *Row) Validate() error {
	if !r.Parent.Kind.Valid() {
		return fmt.Errorf("parent: %w: %q", content.ErrUnknownKind, r.Parent.Kind)
	}
	if !r.Required.Kind.Valid() {
		return fmt.Errorf("required: %w: %q", content.ErrUnknownKind, r.Required.Kind)
	}
	if r.Required.Count < 1 {
		return fmt.Errorf("required count must be >= 1, got %d", r.Required.Count)
	}
	if r.Required.Ref() == r.Parent {
		return fmt.Errorf("%w: target cannot require itself", ErrCycle)
	}
	if r.Alternate != nil {
		if !r.Alternate.Kind.Valid() {
			return fmt.Errorf("alternate: %w: %q", content.ErrUnknownKind, r.Alternate.Kind)
		}
		if r.Alternate.Count < 1 {
			return fmt.Errorf("alternate count must be >= 1, got %d", r.Alternate.Count)
		}
		if r.Alternate.Ref() == r.Parent {
			return fmt.Errorf("%w: target cannot require itself", ErrCycle)
		}
	}
	return nil
}

// String renders the row the way admin screens list conditions, e.g.
// "NOT (badge) 12 x2 OR (quest) 7".
func (r *Row) String() string {
	s := r.Required.String()
	if r.Alternate != nil {
		s += " OR " + r.Alternate.String()
	}
	return s
}

// Edges returns the dependency edges the row contributes to the graph:
// parent depends on required, and on alternate when present.
func (r *Row) Edges() []content.Ref {
	edges := []content.Ref{r.Required.Ref()}
	if r.Alternate != nil {
		edges = append(edges, r.Alternate.Ref())
	}
	return edges
}
