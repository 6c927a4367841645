// Package ratelimit implements a sliding-window call gate keyed by an
// operation+identity string. It is client self-throttling, local to the
// process, and orthogonal to the HTTP retry logic.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"trade-journal-go/internal/ports"
)

// Limiter rejects calls for a key once maxAttempts have been recorded inside
// the sliding window. The store is owned by whoever constructs the Limiter;
// there is no package-level state.
type Limiter struct {
	mu          sync.Mutex
	calls       map[string][]time.Time
	maxAttempts int
	window      time.Duration
	clock       ports.Clock
}

// New creates a limiter allowing maxAttempts calls per key within window.
func New(maxAttempts int, window time.Duration, clock ports.Clock) *Limiter {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &Limiter{
		calls:       make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		clock:       clock,
	}
}

// Key builds the canonical limiter key for an operation against an identity.
func Key(operation, identity string) string {
	return fmt.Sprintf("%s:%s", operation, identity)
}

// Allow records a call for key and reports whether it is inside the budget.
// The (maxAttempts+1)-th call within the window is rejected; once the oldest
// recorded call ages out of the window, calls are admitted again.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	kept := l.calls[key][:0]
	for _, at := range l.calls[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.maxAttempts {
		l.calls[key] = kept
		return false
	}
	l.calls[key] = append(kept, now)
	return true
}

// IsRateLimited reports whether the next call for key would be rejected,
// without recording an attempt.
func (l *Limiter) IsRateLimited(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-l.window)
	live := 0
	for _, at := range l.calls[key] {
		if at.After(cutoff) {
			live++
		}
	}
	return live >= l.maxAttempts
}

// Reset clears the recorded calls for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.calls, key)
}
