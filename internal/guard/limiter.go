// Package guard protects the paid upstream correction provider on the
// server side: a sliding-window rate limiter, a short-lived recent-query
// cache, and a check service that collapses duplicate in-flight requests
// before anything reaches the provider.
package guard

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the sliding window span for rate limiting.
	DefaultWindow = 60 * time.Second

	// DefaultLimit is the maximum number of accepted calls per window.
	DefaultLimit = 30
)

// Limiter is a sliding-window rate limiter. It is owned by the service
// instance that constructs it rather than living as package state, so tests
// and multi-tenant servers can run independent limiters.
//
// Under concurrent requests the window count is best-effort rather than
// strictly exact; this is a cost-control heuristic, not an admission
// control system.
type Limiter struct {
	mu sync.Mutex

	window []time.Time
	limit  int
	span   time.Duration
	now    func() time.Time
}

// NewLimiter creates a limiter allowing at most limit accepted calls per
// span. A nil now defaults to time.Now.
func NewLimiter(limit int, span time.Duration,
	now func() time.Time) *Limiter {

	if limit <= 0 {
		limit = DefaultLimit
	}
	if span <= 0 {
		span = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}

	return &Limiter{
		limit: limit,
		span:  span,
		now:   now,
	}
}

// IsRateLimited purges window entries older than the span, then reports
// whether the remaining count has reached the limit.
func (l *Limiter) IsRateLimited() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked()

	return len(l.window) >= l.limit
}

// Record pushes the current time onto the window. Called for every accepted
// check call.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.window = append(l.window, l.now())
}

// purgeLocked drops window entries older than the span.
func (l *Limiter) purgeLocked() {
	cutoff := l.now().Add(-l.span)

	kept := l.window[:0]
	for _, t := range l.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.window = kept
}
