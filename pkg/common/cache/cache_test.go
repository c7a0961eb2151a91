package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedContext struct {
	ID      string         `json:"id"`
	Content map[string]any `json:"content"`
}

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedisCache(RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	stored := cachedContext{ID: "ctx-1", Content: map[string]any{"x": 1.0}}
	require.NoError(t, c.Set(ctx, "context:ctx-1", stored, time.Minute))

	var loaded cachedContext
	require.NoError(t, c.Get(ctx, "context:ctx-1", &loaded))
	assert.Equal(t, stored, loaded)
}

func TestRedisCache_MissReturnsErrNotFound(t *testing.T) {
	c, _ := newTestRedisCache(t)

	var loaded cachedContext
	err := c.Get(context.Background(), "missing", &loaded)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCache_DeleteAndExists(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k"))

	exists, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	var loaded string
	err := c.Get(ctx, "k", &loaded)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	c := NewMemoryCache(16, time.Minute)
	ctx := context.Background()

	stored := cachedContext{ID: "ctx-2", Content: map[string]any{"y": "hello"}}
	require.NoError(t, c.Set(ctx, "context:ctx-2", stored, 0))

	var loaded cachedContext
	require.NoError(t, c.Get(ctx, "context:ctx-2", &loaded))
	assert.Equal(t, stored, loaded)
}

func TestMemoryCache_EvictsAtCapacity(t *testing.T) {
	c := NewMemoryCache(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	exists, err := c.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = c.Exists(ctx, "c")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNoOpCache_AlwaysMisses(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	var loaded string
	assert.ErrorIs(t, c.Get(ctx, "k", &loaded), ErrNotFound)
}
