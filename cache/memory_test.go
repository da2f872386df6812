package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/logger"
	"github.com/saiset-co/sai-scheduler/types"
)

func newMemoryCache(t *testing.T) types.CacheManager {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	c, err := NewMemoryCache(context.Background(), log, &types.CacheConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	return c
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := newMemoryCache(t)

	require.NoError(t, c.Set("key", "value", time.Minute))

	value, exists := c.Get("key")
	require.True(t, exists)
	assert.Equal(t, "value", value)

	_, exists = c.Get("missing")
	assert.False(t, exists)
}

func TestMemoryCacheEmptyKeyRejected(t *testing.T) {
	c := newMemoryCache(t)

	err := c.Set("", "value", time.Minute)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrCacheKeyEmpty))
}

func TestMemoryCacheDelete(t *testing.T) {
	c := newMemoryCache(t)

	require.NoError(t, c.Set("key", "value", time.Minute))
	require.NoError(t, c.Delete("key"))

	_, exists := c.Get("key")
	assert.False(t, exists)
}

func TestMemoryCacheInvalidateChangesKey(t *testing.T) {
	c := newMemoryCache(t)

	key1 := c.BuildCacheKey("/jobs", []string{"jobs"})
	require.NoError(t, c.Set(key1, "stale", time.Minute))

	require.NoError(t, c.Invalidate("jobs"))

	key2 := c.BuildCacheKey("/jobs", []string{"jobs"})
	assert.NotEqual(t, key1, key2)

	_, exists := c.Get(key1)
	assert.False(t, exists)
}

func TestMemoryCacheExpiredEntryMisses(t *testing.T) {
	c := newMemoryCache(t)

	require.NoError(t, c.Set("key", "value", time.Nanosecond))
	time.Sleep(time.Millisecond)

	_, exists := c.Get("key")
	assert.False(t, exists)
}
