package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultSweepProbability is the fraction of Hit calls that also sweep expired entries.
const DefaultSweepProbability = 0.01

// MemoryStore keeps windows in a map guarded by a mutex.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	sweepP  float64
	randFn  func() float64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSweepProbability sets the fraction of calls that trigger a lazy sweep.
// Zero disables lazy sweeping.
func WithSweepProbability(p float64) MemoryOption {
	return func(s *MemoryStore) { s.sweepP = p }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]Entry),
		sweepP:  DefaultSweepProbability,
		randFn:  rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit implements EntryStore.
func (s *MemoryStore) Hit(_ context.Context, identifier string, window time.Duration, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepP > 0 && s.randFn() < s.sweepP {
		s.sweepLocked(now)
	}

	e, ok := s.entries[identifier]
	if !ok || !now.Before(e.ResetAt) {
		e = Entry{Count: 1, ResetAt: now.Add(window)}
	} else {
		e.Count++
	}
	s.entries[identifier] = e
	return e, nil
}

// Sweep removes entries whose window closed at or before now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.ResetAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor sweeps expired entries every interval until ctx is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Sweep(now)
			}
		}
	}()
}
