package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Limiter admits or rejects events for a key. Implementations count events
// within a trailing window.
type Limiter interface {
	Allow(key string) bool
	Limit() int
}

// SlidingWindowLimiter is an in-process sliding-window counter. Bucket state
// is shared across requests, so the prune/check/append critical section is
// guarded by a single lock; the lock is never held across I/O.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time

	now func() time.Time
}

// NewSlidingWindowLimiter creates an in-memory limiter.
func NewSlidingWindowLimiter(limit int, window time.Duration) (*SlidingWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &SlidingWindowLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}, nil
}

// Limit returns the configured per-window capacity.
func (l *SlidingWindowLimiter) Limit() int {
	return l.limit
}

// Allow expires timestamps older than the window, rejects when the bucket is
// at capacity, and otherwise records the event and admits it.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = normalizeKey(key)
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps := l.buckets[key]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.buckets[key] = kept
		return false
	}
	l.buckets[key] = append(kept, now)
	return true
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
