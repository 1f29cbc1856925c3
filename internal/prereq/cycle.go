package prereq

import (
	"context"
	"fmt"

	"github.com/bytedeck/unlock-engine/internal/content"
)

// edgeLister is the slice of the store the cycle check needs: the outgoing
// dependency edges of one target. Kept as a private interface so the check is
// unit-testable without a database.
type edgeLister interface {
	dependencyEdges(ctx context.Context, tenantID int64, parent content.Ref) ([]content.Ref, error)
}

// checkAcyclic rejects a candidate row if adding it would close a cycle:
// a path from any of the candidate's dependency edges back to its parent.
// The graph is a DAG by induction (every prior write passed this check), so
// a plain DFS with a visited set terminates.
func checkAcyclic(ctx context.Context, edges edgeLister, candidate *Row) error {
	visited := map[content.Ref]bool{}
	stack := candidate.Edges()

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if node == candidate.Parent {
			return fmt.Errorf("%w: %s is reachable from %s", ErrCycle, candidate.Parent, candidate.Required.Ref())
		}
		if visited[node] {
			continue
		}
		visited[node] = true

		next, err := edges.dependencyEdges(ctx, candidate.TenantID, node)
		if err != nil {
			return fmt.Errorf("cycle check failed: %w", err)
		}
		stack = append(stack, next...)
	}

	return nil
}
