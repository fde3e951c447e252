package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces a per-connection sliding-window message budget. Windows
// are strictly per-connection so one noisy client cannot degrade others.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time // connection id -> recent message timestamps
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewLimiter creates a limiter allowing max messages per window.
func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow records a message attempt for the connection and reports whether it
// fits the budget. The window is purged of stale timestamps before the new
// message is evaluated. A denied message is dropped, never queued; the
// connection itself is never disconnected for rate-limiting alone.
func (l *Limiter) Allow(connID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	window := l.windows[connID]
	pruned := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= l.max {
		l.windows[connID] = pruned
		return false
	}

	l.windows[connID] = append(pruned, now)
	return true
}

// Remove drops a connection's window on disconnect.
func (l *Limiter) Remove(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, connID)
}

// Cleanup removes windows with no activity inside the current window.
// Called periodically to keep state bounded.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for connID, window := range l.windows {
		stale := true
		for _, ts := range window {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.windows, connID)
		}
	}
}
