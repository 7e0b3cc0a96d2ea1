// Package ratelimit holds per-identity token buckets for the API boundary.
// Identity is the authenticated token subject, or the peer IP when the
// request carries no token.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults per the service limits.
const (
	DefaultTokenPerMinute = 60
	DefaultIPPerMinute    = 120

	// idleEviction is how long an identity may be quiet before its bucket
	// is reclaimed.
	idleEviction = 10 * time.Minute

	// sweepEvery bounds how often the bucket map is scanned for stale
	// entries.
	sweepEvery = 1000
)

// Limiter is a set of token buckets keyed by identity.
type Limiter struct {
	perMinute int
	burst     int

	mu      sync.Mutex
	buckets map[string]*bucket
	ops     int
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter refilling perMinute tokens per identity per minute.
// Burst defaults to perMinute so an idle identity can spend a full minute's
// allowance at once.
func New(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultTokenPerMinute
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &Limiter{
		perMinute: perMinute,
		burst:     burst,
		buckets:   make(map[string]*bucket),
	}
}

// Allow consumes one token for the identity. When the bucket is empty it
// returns false and the wait until the next token, for a Retry-After hint.
func (l *Limiter) Allow(identity string) (bool, time.Duration) {
	l.mu.Lock()
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)}
		l.buckets[identity] = b
	}
	b.lastSeen = time.Now()

	l.ops++
	if l.ops >= sweepEvery {
		l.ops = 0
		l.sweepLocked()
	}
	l.mu.Unlock()

	r := b.lim.Reserve()
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// Size reports the number of tracked identities.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweepLocked() {
	cutoff := time.Now().Add(-idleEviction)
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
