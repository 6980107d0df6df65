// Package ratelimit implements the fixed-window limiter that guards the
// governor's inbound trigger endpoints.
//
// Counters are kept in an EntryStore owned by the hosting process. MemoryStore
// protects a single process; RedisStore lets several API instances share one
// window per caller.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Entry is the state of one caller's current window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// EntryStore records hits per identifier.
type EntryStore interface {
	// Hit counts one request for identifier. When no entry exists, or the
	// existing one expired at or before now, a new window [now, now+window)
	// is started with a count of 1. It returns the entry after the hit.
	Hit(ctx context.Context, identifier string, window time.Duration, now time.Time) (Entry, error)
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed           bool      `json:"allowed"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	ResetAt           time.Time `json:"reset_at"`
}

// Limiter answers CheckRateLimit against an EntryStore.
type Limiter struct {
	store EntryStore
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter backed by store.
func NewLimiter(store EntryStore, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckRateLimit counts one request for identifier and decides whether it is
// within maxRequests for the window. It never fails: store errors are logged
// and the request is allowed.
func (l *Limiter) CheckRateLimit(ctx context.Context, identifier string, window time.Duration, maxRequests int) Decision {
	now := l.now()
	entry, err := l.store.Hit(ctx, identifier, window, now)
	if err != nil {
		slog.Warn("Limiter.CheckRateLimit: store unavailable, allowing request", "identifier", identifier, "error", err)
		return Decision{Allowed: true, Limit: maxRequests, Remaining: maxRequests, ResetAt: now.Add(window)}
	}

	d := Decision{
		Allowed:   entry.Count <= maxRequests,
		Limit:     maxRequests,
		Remaining: max(0, maxRequests-entry.Count),
		ResetAt:   entry.ResetAt,
	}
	if !d.Allowed {
		d.RetryAfterSeconds = retryAfterSeconds(entry.ResetAt.Sub(now))
		slog.Debug("Limiter.CheckRateLimit: rejected", "identifier", identifier, "count", entry.Count, "limit", maxRequests, "retryAfter", d.RetryAfterSeconds)
	}
	return d
}

// retryAfterSeconds rounds up to whole seconds, and is at least 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
