//go:build integration

package tenant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedeck/unlock-engine/internal/tenant"
	"github.com/bytedeck/unlock-engine/internal/testsupport"
)

func TestPostgresStore_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	_, err = pgContainer.DB.Exec(ctx, `
		INSERT INTO tenants (id, slug) VALUES (1, 'hackerspace');
		INSERT INTO semesters (id, tenant_id, name, first_day, last_day) VALUES
			(1, 1, 'Spring', '2026-02-01', '2026-06-30'),
			(2, 1, 'Fall',   '2026-09-01', '2026-12-20');
		UPDATE tenants SET active_semester_id = 1 WHERE id = 1;
	`)
	require.NoError(t, err)

	store, err := tenant.NewPostgresStore(pgContainer.DB)
	require.NoError(t, err)
	defer store.Close()

	t.Run("ByIDServesCachedRowAfterExternalChange", func(t *testing.T) {
		tn, err := store.ByID(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, int64(1), tn.ActiveSemesterID)

		// Another process switches the semester; this store's cache does not
		// see the eviction.
		_, err = pgContainer.DB.Exec(ctx,
			`UPDATE tenants SET active_semester_id = 2 WHERE id = 1`)
		require.NoError(t, err)

		tn, err = store.ByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), tn.ActiveSemesterID, "ByID serves the cached row")
	})

	t.Run("ReloadBypassesCacheAndRefreshesIt", func(t *testing.T) {
		tn, err := store.Reload(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), tn.ActiveSemesterID)

		// The reload refreshed the cached entry.
		tn, err = store.ByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), tn.ActiveSemesterID)
	})

	t.Run("SetActiveSemesterEvictsCachedEntry", func(t *testing.T) {
		require.NoError(t, store.SetActiveSemester(ctx, 1, 1))

		tn, err := store.ByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), tn.ActiveSemesterID)
	})

	t.Run("SetAutoUpdateEvictsCachedEntry", func(t *testing.T) {
		require.NoError(t, store.SetAutoUpdate(ctx, 1, false))

		tn, err := store.ByID(ctx, 1)
		require.NoError(t, err)
		assert.False(t, tn.AutoUpdateEnabled)

		require.NoError(t, store.SetAutoUpdate(ctx, 1, true))
	})

	t.Run("BySlugSharesTheCache", func(t *testing.T) {
		tn, err := store.BySlug(ctx, "hackerspace")
		require.NoError(t, err)
		assert.Equal(t, int64(1), tn.ID)
	})

	t.Run("MissingTenant", func(t *testing.T) {
		_, err := store.ByID(ctx, 99)
		assert.ErrorIs(t, err, tenant.ErrNotFound)

		_, err = store.Reload(ctx, 99)
		assert.ErrorIs(t, err, tenant.ErrNotFound)

		err = store.SetActiveSemester(ctx, 99, 1)
		assert.ErrorIs(t, err, tenant.ErrNotFound)
	})
}
