//go:build integration

// Package prereq_test contains integration tests for the prerequisite store.
// The '_test' suffix enforces black-box testing against the exported API only.
package prereq_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/testsupport"
)

// TestPostgresStore_Integration spins up a real PostgreSQL container once and
// runs scenarios against it sequentially, since they share container state.
func TestPostgresStore_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	// Two tenants, to prove isolation.
	_, err = pgContainer.DB.Exec(ctx, `
		INSERT INTO tenants (id, slug) VALUES (1, 'hackerspace'), (2, 'otherdeck')
	`)
	require.NoError(t, err)

	store := prereq.NewPostgresStore(pgContainer.DB)

	quest20 := content.Ref{Kind: content.KindQuest, ID: 20}

	t.Run("CreateAndGet", func(t *testing.T) {
		row := &prereq.Row{
			TenantID: 1,
			Parent:   quest20,
			Required: content.Clause{Kind: content.KindQuest, ID: 7, Count: 1},
			Alternate: &content.Clause{
				Kind: content.KindBadge, ID: 12, Count: 2, Invert: true,
			},
			SortKey: 10,
		}

		require.NoError(t, store.Create(ctx, row))
		assert.NotZero(t, row.ID, "expected DB to assign an ID")

		got, err := store.Get(ctx, 1, row.ID)
		require.NoError(t, err)
		assert.Equal(t, row.Parent, got.Parent)
		assert.Equal(t, row.Required, got.Required)
		require.NotNil(t, got.Alternate)
		assert.Equal(t, *row.Alternate, *got.Alternate)
		assert.Equal(t, 10, got.SortKey)
	})

	t.Run("ListForParentOrdersBySortKey", func(t *testing.T) {
		first := &prereq.Row{
			TenantID: 1,
			Parent:   quest20,
			Required: content.Clause{Kind: content.KindBadge, ID: 1, Count: 1},
			SortKey:  1,
		}
		require.NoError(t, store.Create(ctx, first))

		rows, err := store.ListForParent(ctx, 1, quest20)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, first.ID, rows[0].ID, "lower sort key comes first")
	})

	t.Run("ReliantParents", func(t *testing.T) {
		// quest 20 depends on quest 7 (required) and badge 12 (alternate).
		parents, err := store.ReliantParents(ctx, 1, content.Ref{Kind: content.KindQuest, ID: 7})
		require.NoError(t, err)
		assert.Equal(t, []content.Ref{quest20}, parents)

		parents, err = store.ReliantParents(ctx, 1, content.Ref{Kind: content.KindBadge, ID: 12})
		require.NoError(t, err)
		assert.Equal(t, []content.Ref{quest20}, parents)

		parents, err = store.ReliantParents(ctx, 1, content.Ref{Kind: content.KindRank, ID: 999})
		require.NoError(t, err)
		assert.Empty(t, parents)
	})

	t.Run("CycleRejected", func(t *testing.T) {
		// quest 20 already requires quest 7; the reverse edge closes a cycle.
		row := &prereq.Row{
			TenantID: 1,
			Parent:   content.Ref{Kind: content.KindQuest, ID: 7},
			Required: content.Clause{Kind: content.KindQuest, ID: 20, Count: 1},
		}

		err := store.Create(ctx, row)
		require.ErrorIs(t, err, prereq.ErrCycle)

		// Nothing was persisted.
		rows, listErr := store.ListForParent(ctx, 1, content.Ref{Kind: content.KindQuest, ID: 7})
		require.NoError(t, listErr)
		assert.Empty(t, rows)
	})

	t.Run("CycleCheckIsPerTenant", func(t *testing.T) {
		// The same reverse edge is fine in another tenant: its graph has no
		// quest 20 -> quest 7 row.
		row := &prereq.Row{
			TenantID: 2,
			Parent:   content.Ref{Kind: content.KindQuest, ID: 7},
			Required: content.Clause{Kind: content.KindQuest, ID: 20, Count: 1},
		}
		require.NoError(t, store.Create(ctx, row))
		require.NoError(t, store.Delete(ctx, 2, row.ID))
	})

	t.Run("UpdateRewritesClauses", func(t *testing.T) {
		row := &prereq.Row{
			TenantID: 1,
			Parent:   content.Ref{Kind: content.KindRank, ID: 3},
			Required: content.Clause{Kind: content.KindBadge, ID: 5, Count: 1},
		}
		require.NoError(t, store.Create(ctx, row))

		row.Required = content.Clause{Kind: content.KindBadge, ID: 5, Count: 3}
		row.Alternate = &content.Clause{Kind: content.KindQuest, ID: 40, Count: 1}
		require.NoError(t, store.Update(ctx, row))

		got, err := store.Get(ctx, 1, row.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Required.Count)
		require.NotNil(t, got.Alternate)
		assert.Equal(t, int64(40), got.Alternate.ID)
	})

	t.Run("UpdateExcludesOwnOldEdges", func(t *testing.T) {
		// badge 50 -> quest 60, then flip the row to quest 60 -> ... by
		// repointing its parent. The old edge must not count against it.
		row := &prereq.Row{
			TenantID: 1,
			Parent:   content.Ref{Kind: content.KindBadge, ID: 50},
			Required: content.Clause{Kind: content.KindQuest, ID: 60, Count: 1},
		}
		require.NoError(t, store.Create(ctx, row))

		row.Parent = content.Ref{Kind: content.KindQuest, ID: 60}
		row.Required = content.Clause{Kind: content.KindBadge, ID: 50, Count: 1}
		require.NoError(t, store.Update(ctx, row),
			"replacing the row must not trip over its own previous edges")
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		rows, err := store.ListForParent(ctx, 2, quest20)
		require.NoError(t, err)
		assert.Empty(t, rows, "tenant 2 must not see tenant 1 rows")

		existing, err := store.ListForParent(ctx, 1, quest20)
		require.NoError(t, err)
		require.NotEmpty(t, existing)

		_, err = store.Get(ctx, 2, existing[0].ID)
		require.ErrorIs(t, err, prereq.ErrNotFound)

		err = store.Delete(ctx, 2, existing[0].ID)
		require.ErrorIs(t, err, prereq.ErrNotFound)
	})

	t.Run("DeleteForParent", func(t *testing.T) {
		deleted, err := store.DeleteForParent(ctx, 1, quest20)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		rows, err := store.ListForParent(ctx, 1, quest20)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("DeleteMissingRow", func(t *testing.T) {
		err := store.Delete(ctx, 1, 999999)
		require.ErrorIs(t, err, prereq.ErrNotFound)
	})
}
