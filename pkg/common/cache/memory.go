package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache implements Cache on an expirable LRU. Values are stored as
// JSON so Get behaves identically to the Redis implementation.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates a new in-memory cache holding at most maxItems
// entries, each expiring after defaultTTL
func NewMemoryCache(maxItems int, defaultTTL time.Duration) Cache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, []byte](maxItems, nil, defaultTTL),
	}
}

// Get retrieves data from the cache
func (c *MemoryCache) Get(ctx context.Context, key string, value any) error {
	data, ok := c.lru.Get(key)
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, value)
}

// Set stores data in the cache
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.lru.Add(key, data)
	return nil
}

// Delete removes data from the cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Exists checks if a key exists in the cache
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	return c.lru.Contains(key), nil
}

// Flush clears all data from the cache
func (c *MemoryCache) Flush(ctx context.Context) error {
	c.lru.Purge()
	return nil
}

// Close closes the cache
func (c *MemoryCache) Close() error {
	return nil
}
