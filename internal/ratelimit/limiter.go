// Package ratelimit throttles inbound realtime events per user.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-user rate limiting shared by all of a user's sessions
type Limiter struct {
	limiters map[int64]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// New creates a limiter allowing eventsPerMin events per user per minute
func New(eventsPerMin int) *Limiter {
	return &Limiter{
		limiters: make(map[int64]*rate.Limiter),
		rate:     rate.Limit(float64(eventsPerMin) / 60.0), // Convert to per-second
		burst:    max(eventsPerMin/10, 5),                  // Burst of 10% or at least 5
	}
}

// getLimiter returns the rate limiter for a user, creating one if needed
func (l *Limiter) getLimiter(userID int64) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[userID]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = l.limiters[userID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.rate, l.burst)
	l.limiters[userID] = limiter
	return limiter
}

// Allow reports whether the user may send another event now
func (l *Limiter) Allow(userID int64) bool {
	return l.getLimiter(userID).Allow()
}

// Cleanup removes limiters of idle users (tokens back at burst)
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for userID, limiter := range l.limiters {
		if limiter.Tokens() >= float64(l.burst) {
			delete(l.limiters, userID)
		}
	}
}

// Run calls Cleanup every interval until ctx is done
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Size returns the number of tracked users
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}
