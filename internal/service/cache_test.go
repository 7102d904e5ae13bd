package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResultCache_KeyDeterministic(t *testing.T) {
	c := NewResultCache(time.Minute, 10)
	k1 := c.Key("최근 1시간 에러", 100)
	k2 := c.Key("최근 1시간 에러", 100)
	require.Equal(t, k1, k2)
	require.Len(t, k1, 64)

	// max_results is part of the identity
	require.NotEqual(t, k1, c.Key("최근 1시간 에러", 50))
	require.NotEqual(t, k1, c.Key("최근 1시간 에러 ", 100))
}

func TestResultCache_GetExpiresEntries(t *testing.T) {
	c := NewResultCache(10*time.Millisecond, 10)
	key := c.Key("q", 100)
	c.Set(key, map[string]any{"count": 1})

	_, ok := c.Get(key)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get(key)
	require.False(t, ok)

	size, _ := c.Stats()
	require.Zero(t, size, "expired entry must be deleted on read")
}

func TestResultCache_EvictsLowestAccessCount(t *testing.T) {
	c := NewResultCache(time.Minute, 3)
	for i := range 3 {
		c.Set(fmt.Sprintf("k%d", i), map[string]any{"i": i})
	}
	// k0 and k2 get reads; k1 stays cold
	c.Get("k0")
	c.Get("k2")
	c.Get("k2")

	c.Set("k3", map[string]any{"i": 3})

	_, ok := c.Get("k1")
	require.False(t, ok, "cold entry should have been evicted")
	for _, k := range []string{"k0", "k2", "k3"} {
		_, ok := c.Get(k)
		require.True(t, ok, k)
	}
}

func TestResultCache_OverwriteDoesNotEvict(t *testing.T) {
	c := NewResultCache(time.Minute, 2)
	c.Set("a", map[string]any{"v": 1})
	c.Set("b", map[string]any{"v": 2})
	c.Set("a", map[string]any{"v": 3})

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 3, got["v"])
	_, ok = c.Get("b")
	require.True(t, ok)
}

func TestResultCache_InvalidateAll(t *testing.T) {
	c := NewResultCache(time.Minute, 10)
	c.Set("a", map[string]any{})
	c.Set("b", map[string]any{})

	c.InvalidateAll()

	size, last := c.Stats()
	require.Zero(t, size)
	require.False(t, last.IsZero())
	_, ok := c.Get("a")
	require.False(t, ok)
}
