// ABOUTME: Per-key fixed-window request throttling for the auth surface
// ABOUTME: Counts requests per key regardless of whether the account exists

package ratelimit

import (
	"sync"
	"time"
)

// pruneAbove bounds the bucket map; stale buckets are dropped lazily
// whenever a window rolls over and the map has grown past this size.
const pruneAbove = 1024

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter is a per-key counting window. It holds no goroutines; stale
// buckets are pruned opportunistically on access.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

// New creates a limiter admitting up to limit requests per key per window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it fits inside
// the current window. The counter is incremented under the lock before
// the verdict, so a race between concurrent callers resolves toward
// reject rather than double-admission.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		if len(l.buckets) > pruneAbove {
			l.pruneLocked(now)
		}
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}
	b.count++
	return b.count <= l.limit
}

// pruneLocked drops buckets whose window has elapsed. Must be called
// with mu held.
func (l *Limiter) pruneLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, k)
		}
	}
}

// Reset clears all counters. Tests use this to start each case from a
// known state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}
