package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many inbound frames a single connection may
// send inside a sliding window. One instance per connection; the
// gateway consults it before parsing each frame.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration

	// stamps of admitted events, oldest first.
	stamps []time.Time
}

// NewRateLimiter builds a limiter, substituting the package defaults
// for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
	}
}

// Allow admits an event at time now unless the window is already full.
// Callers pass a monotone now; stamps stay ordered.
func (l *RateLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	expired := 0
	for expired < len(l.stamps) && !l.stamps[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[expired:]...)
	}

	if len(l.stamps) >= l.limit {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}
