package coordinate

import (
	"sync"
	"time"
)

// WindowLimiter counts events per key within a trailing window. Exceeding the
// limit is backpressure, not failure: callers drop the work and move on.
type WindowLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewWindowLimiter allows limit events per key per window. A single-quota
// limiter (the global one) just uses a fixed key.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records an event for key if the quota permits and reports whether it
// did. Expired events are pruned on the way.
func (l *WindowLimiter) Allow(key string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.events[key][:0]
	for _, at := range l.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}
	l.events[key] = append(kept, now)
	return true
}
