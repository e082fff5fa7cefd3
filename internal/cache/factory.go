package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendLRU    = "lru"
	BackendRedis  = "redis"
)

type Config struct {
	Backend    string // "memory", "lru" or "redis"
	TTL        time.Duration
	Prefix     string
	MaxEntries int // lru only
}

// NewStore builds the backend named by cfg.Backend.
func NewStore(cfg Config, redisClient *redis.Client) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("cache: backend %q needs a redis client", cfg.Backend)
		}
		return NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}), nil
	case BackendLRU:
		return NewLRUStore(cfg.MaxEntries, cfg.TTL), nil
	case BackendMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
