//go:build integration

// Package queue_test contains integration tests for the Redis job queue.
package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/queue"
	"github.com/bytedeck/unlock-engine/internal/testsupport"
)

func TestRedisQueue_Integration(t *testing.T) {
	ctx := context.Background()

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err, "failed to start redis container")
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	q := queue.NewRedisQueue(redisContainer.Client)

	t.Run("RoundTripPreservesPayload", func(t *testing.T) {
		require.NoError(t, redisContainer.Client.FlushAll(ctx).Err())

		job := queue.NewTargetJob(1, content.Ref{Kind: content.KindQuest, ID: 20}, 150)
		job.Attempt = 2
		require.NoError(t, q.Enqueue(ctx, job))

		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, queue.JobRecomputeTarget, got.Kind)
		assert.Equal(t, int64(1), got.TenantID)
		require.NotNil(t, got.Target)
		assert.Equal(t, content.Ref{Kind: content.KindQuest, ID: 20}, *got.Target)
		assert.Equal(t, int64(150), got.Cursor)
		assert.Equal(t, 2, got.Attempt)
	})

	t.Run("FIFOOrder", func(t *testing.T) {
		require.NoError(t, redisContainer.Client.FlushAll(ctx).Err())

		first := queue.NewUserJob(1, 7)
		second := queue.NewUserJob(1, 8)
		require.NoError(t, q.Enqueue(ctx, first))
		require.NoError(t, q.Enqueue(ctx, second))

		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		got, err = q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("EmptyQueueTimesOut", func(t *testing.T) {
		require.NoError(t, redisContainer.Client.FlushAll(ctx).Err())

		start := time.Now()
		_, err := q.Dequeue(ctx, 100*time.Millisecond)
		require.ErrorIs(t, err, queue.ErrEmpty)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("Len", func(t *testing.T) {
		require.NoError(t, redisContainer.Client.FlushAll(ctx).Err())

		require.NoError(t, q.Enqueue(ctx, queue.NewTenantJob(1, 0)))
		require.NoError(t, q.Enqueue(ctx, queue.NewUserJob(1, 7)))

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}
