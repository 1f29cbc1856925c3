//go:build integration

// Package availability_test contains integration tests for the Redis-backed
// availability cache.
package availability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedeck/unlock-engine/internal/availability"
	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/testsupport"
)

func TestRedisStore_Integration(t *testing.T) {
	ctx := context.Background()

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err, "failed to start redis container")
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	store := availability.NewRedisStore(redisContainer.Client)

	seed := func(t *testing.T) {
		t.Helper()
		require.NoError(t, redisContainer.Client.FlushAll(ctx).Err())

		set := &availability.Set{IDs: []int64{10, 20}, ComputedAt: time.Now().UTC()}
		require.NoError(t, store.Replace(ctx, 1, 7, content.KindQuest, set))
		require.NoError(t, store.Replace(ctx, 1, 7, content.KindBadge, set))
		require.NoError(t, store.Replace(ctx, 1, 8, content.KindQuest, set))
		require.NoError(t, store.Replace(ctx, 2, 7, content.KindQuest, set))
	}

	t.Run("ReplaceAndRead", func(t *testing.T) {
		seed(t)

		got, err := store.Read(ctx, 1, 7, content.KindQuest)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []int64{10, 20}, got.IDs)
		assert.False(t, got.ComputedAt.IsZero())
	})

	t.Run("MissingEntryIsUnknown", func(t *testing.T) {
		seed(t)

		got, err := store.Read(ctx, 1, 99, content.KindQuest)
		require.NoError(t, err)
		assert.Nil(t, got, "an entry never computed reads as UNKNOWN, not an error")
	})

	t.Run("ReplaceOverwrites", func(t *testing.T) {
		seed(t)

		next := &availability.Set{IDs: []int64{30}, ComputedAt: time.Now().UTC()}
		require.NoError(t, store.Replace(ctx, 1, 7, content.KindQuest, next))

		got, err := store.Read(ctx, 1, 7, content.KindQuest)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []int64{30}, got.IDs)
	})

	t.Run("Invalidate", func(t *testing.T) {
		seed(t)

		require.NoError(t, store.Invalidate(ctx, 1, 7, content.KindQuest))

		got, err := store.Read(ctx, 1, 7, content.KindQuest)
		require.NoError(t, err)
		assert.Nil(t, got)

		// Other entries are untouched.
		got, err = store.Read(ctx, 1, 7, content.KindBadge)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("DropUser", func(t *testing.T) {
		seed(t)

		require.NoError(t, store.DropUser(ctx, 1, 7))

		for _, kind := range content.Kinds {
			got, err := store.Read(ctx, 1, 7, kind)
			require.NoError(t, err)
			assert.Nil(t, got)
		}

		got, err := store.Read(ctx, 1, 8, content.KindQuest)
		require.NoError(t, err)
		assert.NotNil(t, got, "other users keep their entries")
	})

	t.Run("DropKind", func(t *testing.T) {
		seed(t)

		require.NoError(t, store.DropKind(ctx, 1, content.KindQuest))

		for _, userID := range []int64{7, 8} {
			got, err := store.Read(ctx, 1, userID, content.KindQuest)
			require.NoError(t, err)
			assert.Nil(t, got)
		}

		got, err := store.Read(ctx, 1, 7, content.KindBadge)
		require.NoError(t, err)
		assert.NotNil(t, got, "other kinds keep their entries")

		got, err = store.Read(ctx, 2, 7, content.KindQuest)
		require.NoError(t, err)
		assert.NotNil(t, got, "other tenants keep their entries")
	})

	t.Run("DropTenant", func(t *testing.T) {
		seed(t)

		require.NoError(t, store.DropTenant(ctx, 1))

		got, err := store.Read(ctx, 1, 7, content.KindQuest)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = store.Read(ctx, 2, 7, content.KindQuest)
		require.NoError(t, err)
		assert.NotNil(t, got, "tenant 2 is untouched")
	})
}
