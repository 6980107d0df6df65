package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

type quotaKey struct {
	context, day, actionType string
}

// InMemoryStore keeps counters and outreach items in process memory. It is
// used by tests and by the CLI dry-run mode; nothing survives a restart.
type InMemoryStore struct {
	mu       sync.Mutex
	counters map[quotaKey]int
	items    map[string]models.OutreachItem
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		counters: make(map[quotaKey]int),
		items:    make(map[string]models.OutreachItem),
	}
}

func (s *InMemoryStore) IncrementDailyCount(_ context.Context, contextName, day, actionType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := quotaKey{contextName, day, actionType}
	s.counters[k]++
	return s.counters[k], nil
}

func (s *InMemoryStore) TryIncrementDailyCount(_ context.Context, contextName, day, actionType string, ceiling int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := quotaKey{contextName, day, actionType}
	if s.counters[k] >= ceiling {
		return s.counters[k], false, nil
	}
	s.counters[k]++
	return s.counters[k], true, nil
}

func (s *InMemoryStore) GetDailyCount(_ context.Context, contextName, day, actionType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[quotaKey{contextName, day, actionType}], nil
}

func (s *InMemoryStore) GetDailyCounts(_ context.Context, contextName, day string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for k, v := range s.counters {
		if k.context == contextName && k.day == day {
			counts[k.actionType] = v
		}
	}
	return counts, nil
}

func (s *InMemoryStore) PruneDailyCounts(_ context.Context, beforeDay string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.counters {
		if k.day < beforeDay {
			delete(s.counters, k)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) InsertOutreach(_ context.Context, item models.OutreachItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = cloneOutreach(item)
	return nil
}

func (s *InMemoryStore) GetOutreach(_ context.Context, id string) (*models.OutreachItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrOutreachNotFound
	}
	out := cloneOutreach(item)
	return &out, nil
}

func (s *InMemoryStore) ListOutreach(_ context.Context, q OutreachQuery) ([]models.OutreachItem, error) {
	s.mu.Lock()
	var items []models.OutreachItem
	for _, item := range s.items {
		if matchesQuery(item, q) {
			items = append(items, cloneOutreach(item))
		}
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].ScheduledFor, items[j].ScheduledFor
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func matchesQuery(item models.OutreachItem, q OutreachQuery) bool {
	if q.Context != "" && item.Context != q.Context {
		return false
	}
	if q.Channel != "" && item.Channel != q.Channel {
		return false
	}
	if q.Status != "" && item.Status != q.Status {
		return false
	}
	if q.DueBefore != nil && item.ScheduledFor != nil && item.ScheduledFor.After(*q.DueBefore) {
		return false
	}
	if q.SentBefore != nil && (item.SentAt == nil || !item.SentAt.Before(*q.SentBefore)) {
		return false
	}
	return true
}

func (s *InMemoryStore) TransitionOutreach(_ context.Context, t OutreachTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[t.ID]
	if !ok {
		return ErrOutreachNotFound
	}
	if item.Status != t.From {
		return &TransitionError{ID: t.ID, From: t.From, To: t.To, Current: item.Status}
	}

	at := t.At.UTC()
	item.Status = t.To
	item.UpdatedAt = at
	switch t.To {
	case models.OutreachStatusSent:
		item.SentAt = &at
	case models.OutreachStatusResponded:
		item.ResponseAt = &at
		if t.ResponseText != nil {
			item.ResponseText = *t.ResponseText
		}
	case models.OutreachStatusFailed:
		if t.ErrorMessage != nil {
			item.ErrorMessage = *t.ErrorMessage
		}
	}
	if len(t.Metadata) > 0 {
		if item.Metadata == nil {
			item.Metadata = make(map[string]any, len(t.Metadata))
		}
		for k, v := range t.Metadata {
			if v == nil {
				delete(item.Metadata, k)
				continue
			}
			item.Metadata[k] = v
		}
	}
	s.items[t.ID] = item
	return nil
}

func (s *InMemoryStore) CountOutreachByStatus(_ context.Context, contextName string, from, to time.Time) (map[models.OutreachStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.OutreachStatus]int)
	for _, item := range s.items {
		if item.Context != contextName || item.CreatedAt.Before(from) || !item.CreatedAt.Before(to) {
			continue
		}
		counts[item.Status]++
	}
	return counts, nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneOutreach(item models.OutreachItem) models.OutreachItem {
	out := item
	out.Metadata = maps.Clone(item.Metadata)
	out.ScheduledFor = cloneTime(item.ScheduledFor)
	out.SentAt = cloneTime(item.SentAt)
	out.ResponseAt = cloneTime(item.ResponseAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
