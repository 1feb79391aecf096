package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := New(60) // 1/s, burst 6

	for i := 0; i < 6; i++ {
		assert.True(t, l.Allow(1), "event %d within burst", i)
	}
	assert.False(t, l.Allow(1))
}

func TestLimiter_PerUser(t *testing.T) {
	l := New(60)

	for i := 0; i < 6; i++ {
		l.Allow(1)
	}
	assert.False(t, l.Allow(1))
	assert.True(t, l.Allow(2), "other users keep their own budget")
}

func TestLimiter_MinimumBurst(t *testing.T) {
	l := New(10)
	assert.Equal(t, 5, l.burst)
}

func TestLimiter_CleanupDropsIdleUsers(t *testing.T) {
	l := New(600)

	l.getLimiter(1)
	l.Allow(2)
	assert.Equal(t, 2, l.Size())

	l.Cleanup()
	assert.Equal(t, 1, l.Size(), "user 2 spent a token and is kept")
}
