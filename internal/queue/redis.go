package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bytedeck/unlock-engine/internal/observability"
)

// queueKey is the Redis list every tenant's jobs share. Payloads carry the
// tenant tag; isolation happens in the worker, not in the transport.
const queueKey = "unlock:jobs"

// ErrEmpty is returned by Dequeue when no job arrived within the timeout.
var ErrEmpty = errors.New("queue is empty")

// Compile-time check to verify that RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Queue is the job transport contract.
type Queue interface {
	// Enqueue pushes a job; returns once the job is durably in the list.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue blocks up to timeout for the next job. Returns ErrEmpty on
	// timeout so workers can re-check their context.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)

	// Len reports the current queue depth (metrics only).
	Len(ctx context.Context) (int64, error)
}

// RedisQueue is the production queue on a Redis list (LPUSH/BRPOP).
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates the queue on an already-connected client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	if client == nil {
		panic("queue: redis client cannot be nil")
	}
	return &RedisQueue{client: client}
}

// Enqueue pushes the job onto the shared list.
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if err := q.client.LPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	if depth, err := q.client.LLen(ctx, queueKey).Result(); err == nil {
		observability.QueueDepth.Set(float64(depth))
	}
	return nil
}

// Dequeue blocks for the next job. A malformed payload is reported as an
// error with the raw payload consumed, so one bad producer cannot wedge the
// queue.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}

	if depth, err := q.client.LLen(ctx, queueKey).Result(); err == nil {
		observability.QueueDepth.Set(float64(depth))
	}
	return &job, nil
}

// Len reports the queue depth.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}
