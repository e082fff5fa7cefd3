package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxEntries bounds the LRU backend when no size is configured.
const DefaultMaxEntries = 10000

// LRUStore is a capacity-bounded Store. Every entry shares the TTL given at
// construction; the per-call ttl of Set only decides whether to store at all.
type LRUStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRUStore creates a store holding at most size entries for ttl each.
func NewLRUStore(size int, ttl time.Duration) *LRUStore {
	if size <= 0 {
		size = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRUStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *LRUStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *LRUStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		c.lru.Remove(key)
		return nil
	}
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	c.lru.Add(key, valueCopy)
	return nil
}

func (c *LRUStore) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (c *LRUStore) Len() int {
	return c.lru.Len()
}

var _ Store = (*LRUStore)(nil)
