package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bytedeck/unlock-engine/internal/content"
)

// keyPrefix namespaces every availability entry in Redis.
// Key layout: avail:{tenant}:{user}:{kind}. The tenant id comes first so
// tenant-wide scans never touch another tenant's keyspace.
const keyPrefix = "avail"

// scanPageSize bounds each SCAN iteration during mass invalidation.
const scanPageSize = 512

// Compile-time check to verify that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore keeps availability sets as JSON strings. A plain SET is atomic,
// which gives Replace its readers-never-see-partial-updates guarantee.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates the store on an already-connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("availability: redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

func entryKey(tenantID, userID int64, kind content.Kind) string {
	return fmt.Sprintf("%s:%d:%d:%s", keyPrefix, tenantID, userID, kind)
}

// Read returns the cached set, or nil when the entry is UNKNOWN.
func (s *RedisStore) Read(ctx context.Context, tenantID, userID int64, kind content.Kind) (*Set, error) {
	raw, err := s.client.Get(ctx, entryKey(tenantID, userID, kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read availability set: %w", err)
	}

	var set Set
	if err := json.Unmarshal(raw, &set); err != nil {
		// A corrupt entry is indistinguishable from UNKNOWN for callers;
		// the next recompute overwrites it.
		return nil, fmt.Errorf("failed to decode availability set: %w", err)
	}
	return &set, nil
}

// Replace atomically overwrites the entry with the new set.
func (s *RedisStore) Replace(ctx context.Context, tenantID, userID int64, kind content.Kind, set *Set) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode availability set: %w", err)
	}

	if err := s.client.Set(ctx, entryKey(tenantID, userID, kind), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to replace availability set: %w", err)
	}
	return nil
}

// Invalidate resets the entry to UNKNOWN.
func (s *RedisStore) Invalidate(ctx context.Context, tenantID, userID int64, kind content.Kind) error {
	if err := s.client.Del(ctx, entryKey(tenantID, userID, kind)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate availability set: %w", err)
	}
	return nil
}

// DropUser removes the user's entry for every kind. The kind set is closed,
// so this is a single bounded DEL rather than a scan.
func (s *RedisStore) DropUser(ctx context.Context, tenantID, userID int64) error {
	keys := make([]string, 0, len(content.Kinds))
	for _, kind := range content.Kinds {
		keys = append(keys, entryKey(tenantID, userID, kind))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to drop user availability sets: %w", err)
	}
	return nil
}

// DropKind removes one kind's entries for every user in the tenant.
func (s *RedisStore) DropKind(ctx context.Context, tenantID int64, kind content.Kind) error {
	pattern := fmt.Sprintf("%s:%d:*:%s", keyPrefix, tenantID, kind)
	return s.dropMatching(ctx, pattern)
}

// DropTenant removes every entry in the tenant.
func (s *RedisStore) DropTenant(ctx context.Context, tenantID int64) error {
	pattern := fmt.Sprintf("%s:%d:*", keyPrefix, tenantID)
	return s.dropMatching(ctx, pattern)
}

// dropMatching deletes keys by SCAN pages so mass invalidation never blocks
// the Redis event loop the way a KEYS call would.
func (s *RedisStore) dropMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan availability keys: %w", err)
		}

		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete availability keys: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
