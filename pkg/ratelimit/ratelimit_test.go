package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowUntilEmpty(t *testing.T) {
	l := New(60, 60)

	for i := 0; i < 60; i++ {
		ok, _ := l.Allow("token-a")
		require.True(t, ok, "request %d", i+1)
	}

	// The 61st request in the same instant is rejected with a hint.
	ok, retry := l.Allow("token-a")
	assert.False(t, ok)
	assert.Greater(t, retry.Seconds(), 0.0)
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l := New(1, 1)

	ok, _ := l.Allow("token-a")
	require.True(t, ok)
	ok, _ = l.Allow("token-a")
	assert.False(t, ok)

	ok, _ = l.Allow("token-b")
	assert.True(t, ok)
	assert.Equal(t, 2, l.Size())
}

func TestDefaults(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultTokenPerMinute, l.perMinute)
	assert.Equal(t, DefaultTokenPerMinute, l.burst)
}
