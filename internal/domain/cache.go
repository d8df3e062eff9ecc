package domain

import (
	"context"
	"time"
)

// Cache is a byte-oriented cache used for two things: sharing serialized
// rule snapshots across instances, and memoizing first-action checks.
type Cache interface {
	// Get retrieves a value. Returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an expiration. Zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Memory settings
	MaxEntries int

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RuleCacheConfig bounds the rule cache's staleness window and its
// refresh fetches against the rule store.
type RuleCacheConfig struct {
	// TTL is the staleness window; a cached copy older than this is
	// refreshed before being served. Default 5 minutes.
	TTL time.Duration

	// FetchTimeout bounds a single refresh fetch so a hung store cannot
	// hang a transaction flow. Default 3 seconds.
	FetchTimeout time.Duration
}
