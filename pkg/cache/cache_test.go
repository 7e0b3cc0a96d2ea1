package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundtrip(t *testing.T) {
	c := New(time.Minute, 10)

	_, ok := c.Get("leaderboard:general")
	assert.False(t, ok)

	c.Set("leaderboard:general", []string{"alpha", "beta"})
	v, ok := c.Get("leaderboard:general")
	require.True(t, ok)
	assert.Equal(t, []string{"alpha", "beta"}, v)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	c.Set("k", 1)

	time.Sleep(25 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRUEviction(t *testing.T) {
	c := New(time.Minute, 3)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("k3", 3)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k0")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute, 10)
	c.Set("k", 1)
	c.Invalidate("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestSetReplacesInPlace(t *testing.T) {
	c := New(time.Minute, 2)
	c.Set("k", 1)
	c.Set("k", 2)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}
