package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(time.Minute)

	c.Set("key", "value")

	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)

	c.Set("key", 42)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("key")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	c := New(0)

	c.Set("key", "pinned")
	time.Sleep(20 * time.Millisecond)

	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "pinned", got)
}

func TestCacheInvalidate(t *testing.T) {
	c := New(0)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Invalidate("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestCacheClear(t *testing.T) {
	c := New(time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	assert.Equal(t, 0, c.Size())
}

func TestCacheOverwrite(t *testing.T) {
	c := New(time.Minute)

	c.Set("key", "old")
	c.Set("key", "new")

	got, _ := c.Get("key")
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Size())
}

func TestCacheStats(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)

	stats := c.Stats()
	assert.Equal(t, 1, stats["total_items"])
	assert.Equal(t, 1, stats["active_items"])
	assert.Equal(t, 60.0, stats["ttl_seconds"])
}

func TestItemIsExpired(t *testing.T) {
	never := Item{Value: 1}
	assert.False(t, never.IsExpired())

	past := Item{Value: 1, ExpiresAt: time.Now().Add(-time.Second)}
	assert.True(t, past.IsExpired())

	future := Item{Value: 1, ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, future.IsExpired())
}
