package content

import (
	"fmt"
	"strings"
)

// Ref identifies one content object: a tagged (kind, id) pair. It replaces
// the usual "content-type id + object id" generic pointer with a value type
// the compiler can see through.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("(%s) %d", r.Kind, r.ID)
}

// Clause is one operand of a prerequisite row: the referenced object, how
// many attainments satisfy it, and whether the sense is inverted (NOT).
type Clause struct {
	Kind   Kind  `json:"kind"`
	ID     int64 `json:"id"`
	Count  int   `json:"count"`
	Invert bool  `json:"invert"`
}

// Ref returns the referenced object.
func (c Clause) Ref() Ref {
	return Ref{Kind: c.Kind, ID: c.ID}
}

// Satisfied reports whether an attainment count of n meets the clause.
func (c Clause) Satisfied(n int) bool {
	met := n >= c.Count
	if c.Invert {
		return !met
	}
	return met
}

// String renders the clause for admin displays, e.g. "NOT (badge) 12 x2".
func (c Clause) String() string {
	var b strings.Builder
	if c.Invert {
		b.WriteString("NOT ")
	}
	fmt.Fprintf(&b, "(%s) %d", c.Kind, c.ID)
	if c.Count > 1 {
		fmt.Fprintf(&b, " x%d", c.Count)
	}
	return b.String()
}
