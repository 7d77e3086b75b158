// Package cache invalidates the map frontend's Redis cache after this
// service changes map data behind its back.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

const pingTimeout = 5 * time.Second

// Invalidator drops cached map state.
type Invalidator interface {
	FlushAll(ctx context.Context) error
	Close() error
}

// NullInvalidator does nothing. Use it when the frontend runs without a cache.
type NullInvalidator struct{}

// NewNullInvalidator creates a no-op invalidator.
func NewNullInvalidator() *NullInvalidator {
	return &NullInvalidator{}
}

func (NullInvalidator) FlushAll(context.Context) error { return nil }
func (NullInvalidator) Close() error                   { return nil }

// RedisInvalidator flushes every database of a Redis server.
type RedisInvalidator struct {
	client redis.UniversalClient
}

// NewRedisInvalidator wraps an existing client.
func NewRedisInvalidator(client redis.UniversalClient) *RedisInvalidator {
	return &RedisInvalidator{client: client}
}

// Connect parses a redis:// URL, connects and pings the server.
func Connect(ctx context.Context, redisURL string) (*RedisInvalidator, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, models.Transient("redis ping", err)
	}
	return NewRedisInvalidator(client), nil
}

// FlushAll removes every key on the server.
func (r *RedisInvalidator) FlushAll(ctx context.Context) error {
	if err := r.client.FlushAll(ctx).Err(); err != nil {
		return models.Transient("redis flushall", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisInvalidator) Close() error {
	return r.client.Close()
}
