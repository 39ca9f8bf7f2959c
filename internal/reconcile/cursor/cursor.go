// Package cursor persists the backfill's last confirmed audit-log page
// cursor so a restart resumes where the previous run left off.
package cursor

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store holds the shared pagination cursor. An empty string means no cursor
// is persisted and backfill starts from the beginning.
type Store interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, cursor string) error
}

// Memory keeps the cursor in-process; it does not survive restarts and is
// meant for tests and cacheless deployments.
type Memory struct {
	mu     sync.Mutex
	cursor string
}

// NewMemory constructs an empty in-process cursor store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *Memory) Set(_ context.Context, cursor string) error {
	m.mu.Lock()
	m.cursor = cursor
	m.mu.Unlock()
	return nil
}

const redisKey = "mecs:audit:cursor"

// Redis persists the cursor in Redis so backfill survives restarts. This is
// the production-recommended implementation.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed cursor store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context) (string, error) {
	val, err := r.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, cursor string) error {
	if cursor == "" {
		return r.client.Del(ctx, redisKey).Err()
	}
	// No TTL: the cursor stays valid until backfill advances it.
	return r.client.Set(ctx, redisKey, cursor, 0).Err()
}
