// Package quota implements the per-context daily quota tracker that gates
// automated outbound actions.
//
// Admission (CheckDailyLimit) and accounting (IncrementDailyCount) are separate
// calls. Callers check before the physical action and increment only after it
// happened, so counters reflect attempts made. Two workers racing between the
// two calls may overshoot a ceiling by one action each; TryAcquire collapses
// both into a single guarded store write for callers that need a hard cap.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/store"
)

// DayFormat is the layout of the date component of a counter key.
const DayFormat = "2006-01-02"

// DefaultRetentionDays is how many days of counters ResetDailyCounts keeps.
const DefaultRetentionDays = 7

var (
	// ErrUnknownActionType is returned for action types without a configured ceiling.
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrInvalidContext is returned for an empty context.
	ErrInvalidContext = errors.New("context cannot be empty")
)

// Tracker enforces daily ceilings over a QuotaRepo.
type Tracker struct {
	repo          store.QuotaRepo
	limits        Limits
	loc           *time.Location
	now           func() time.Time
	retentionDays int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLimits replaces the default ceilings. The map is copied.
func WithLimits(l Limits) Option {
	return func(t *Tracker) {
		t.limits = make(Limits, len(l))
		for k, v := range l {
			t.limits[k] = v
		}
	}
}

// WithLocation sets the time zone whose calendar day bounds a quota day.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithRetentionDays overrides how many days ResetDailyCounts keeps.
func WithRetentionDays(days int) Option {
	return func(t *Tracker) {
		if days > 0 {
			t.retentionDays = days
		}
	}
}

// NewTracker creates a tracker over repo with the default ceilings in UTC.
func NewTracker(repo store.QuotaRepo, opts ...Option) *Tracker {
	t := &Tracker{
		repo:          repo,
		limits:        DefaultLimits(),
		loc:           time.UTC,
		now:           time.Now,
		retentionDays: DefaultRetentionDays,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Today returns the current quota day in the tracker's time zone.
func (t *Tracker) Today() string {
	return t.now().In(t.loc).Format(DayFormat)
}

// Location returns the tracker's time zone.
func (t *Tracker) Location() *time.Location {
	return t.loc
}

// Limits returns a copy of the configured ceilings.
func (t *Tracker) Limits() Limits {
	out := make(Limits, len(t.limits))
	for k, v := range t.limits {
		out[k] = v
	}
	return out
}

func (t *Tracker) validate(actionType models.ActionType, contextName string) (int, error) {
	if strings.TrimSpace(contextName) == "" {
		return 0, ErrInvalidContext
	}
	limit, ok := t.limits.Ceiling(actionType)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}
	return limit, nil
}

func result(actionType models.ActionType, current, limit int) models.DailyLimitResult {
	return models.DailyLimitResult{
		ActionType: actionType,
		Allowed:    current < limit,
		Current:    current,
		Limit:      limit,
		Remaining:  max(0, limit-current),
	}
}

// CheckDailyLimit reports whether one more action of actionType is allowed for
// the context today. It never writes.
func (t *Tracker) CheckDailyLimit(ctx context.Context, actionType models.ActionType, contextName string) (models.DailyLimitResult, error) {
	limit, err := t.validate(actionType, contextName)
	if err != nil {
		return models.DailyLimitResult{}, err
	}
	current, err := t.repo.GetDailyCount(ctx, contextName, t.Today(), string(actionType))
	if err != nil {
		return models.DailyLimitResult{}, fmt.Errorf("check daily limit: %w", err)
	}
	res := result(actionType, current, limit)
	slog.Debug("Tracker.CheckDailyLimit", "context", contextName, "actionType", actionType, "current", current, "limit", limit, "allowed", res.Allowed)
	return res, nil
}

// IncrementDailyCount records one action that happened. It is unconditional:
// the counter may pass the ceiling.
func (t *Tracker) IncrementDailyCount(ctx context.Context, actionType models.ActionType, contextName string) (int, error) {
	if _, err := t.validate(actionType, contextName); err != nil {
		return 0, err
	}
	count, err := t.repo.IncrementDailyCount(ctx, contextName, t.Today(), string(actionType))
	if err != nil {
		return 0, fmt.Errorf("increment daily count: %w", err)
	}
	slog.Debug("Tracker.IncrementDailyCount", "context", contextName, "actionType", actionType, "count", count)
	return count, nil
}

// TryAcquire increments the counter only while it is below the ceiling, in one
// store statement. Allowed reports whether the unit was granted; Current is the
// count after the attempt.
func (t *Tracker) TryAcquire(ctx context.Context, actionType models.ActionType, contextName string) (models.DailyLimitResult, error) {
	limit, err := t.validate(actionType, contextName)
	if err != nil {
		return models.DailyLimitResult{}, err
	}
	current, ok, err := t.repo.TryIncrementDailyCount(ctx, contextName, t.Today(), string(actionType), limit)
	if err != nil {
		return models.DailyLimitResult{}, fmt.Errorf("try acquire: %w", err)
	}
	return models.DailyLimitResult{
		ActionType: actionType,
		Allowed:    ok,
		Current:    current,
		Limit:      limit,
		Remaining:  max(0, limit-current),
	}, nil
}

// GetDailyStats returns today's count for every configured action type,
// zero-filled.
func (t *Tracker) GetDailyStats(ctx context.Context, contextName string) (map[models.ActionType]int, error) {
	if strings.TrimSpace(contextName) == "" {
		return nil, ErrInvalidContext
	}
	counts, err := t.repo.GetDailyCounts(ctx, contextName, t.Today())
	if err != nil {
		return nil, fmt.Errorf("get daily stats: %w", err)
	}
	stats := make(map[models.ActionType]int, len(t.limits))
	for at := range t.limits {
		stats[at] = counts[string(at)]
	}
	return stats, nil
}

// GetLimitsSummary returns one row per configured action type in display order.
func (t *Tracker) GetLimitsSummary(ctx context.Context, contextName string) ([]models.LimitSummary, error) {
	stats, err := t.GetDailyStats(ctx, contextName)
	if err != nil {
		return nil, err
	}
	summary := make([]models.LimitSummary, 0, len(t.limits))
	for _, at := range models.AllActionTypes {
		limit, ok := t.limits[at]
		if !ok {
			continue
		}
		current := stats[at]
		summary = append(summary, models.LimitSummary{
			ActionType:     at,
			Current:        current,
			Limit:          limit,
			Remaining:      max(0, limit-current),
			PercentageUsed: percentageUsed(current, limit),
		})
	}
	return summary, nil
}

func percentageUsed(current, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(limit) * 100))
}

// ResetDailyCounts prunes counters older than the retention window and returns
// how many rows were removed.
func (t *Tracker) ResetDailyCounts(ctx context.Context) (int, error) {
	cutoff := t.now().In(t.loc).AddDate(0, 0, -t.retentionDays).Format(DayFormat)
	removed, err := t.repo.PruneDailyCounts(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset daily counts: %w", err)
	}
	slog.Info("Tracker.ResetDailyCounts: pruned old counters", "before", cutoff, "removed", removed)
	return removed, nil
}
