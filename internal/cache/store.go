package cache

import (
	"context"
	"time"
)

// DefaultTTL is how long a resolved score stays fresh when CACHE_TTL is unset.
const DefaultTTL = 24 * time.Hour

// Store is the interface used by the score resolver.
// Implemented by memory cache (default), a bounded LRU and Redis.
//
// Get returns (nil, false, nil) on a clean miss, including expired entries.
// Set with ttl <= 0 removes the key instead of storing it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
