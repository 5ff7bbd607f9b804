package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter. Each key holds the timestamps of
// requests inside the enforcement window; entries are pruned on every check
// and idle buckets are evicted by the periodic sweep.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

// NewLimiter creates an empty limiter
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow prunes timestamps older than now-window for key, then admits the
// request if fewer than maxRequests remain. The limiter is policy-agnostic;
// call sites pick the thresholds per route class.
func (l *Limiter) Allow(key string, maxRequests int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	stamps := l.buckets[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= maxRequests {
		l.buckets[key] = kept
		return false
	}

	l.buckets[key] = append(kept, now)
	return true
}

// Sweep removes buckets with no entries newer than the idle cutoff and
// returns how many were evicted. Bounds memory for keys that went quiet.
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, stamps := range l.buckets {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
