// Package store provides the QuotaRepo interface for per-context daily action counters.
package store

import "context"

// QuotaRepo persists daily counters keyed by (context, day, action type).
// Days are calendar dates formatted as YYYY-MM-DD; the caller decides the time zone.
type QuotaRepo interface {
	// IncrementDailyCount adds one to the counter, creating the row if absent,
	// and returns the new count. Concurrent calls are never lost.
	IncrementDailyCount(ctx context.Context, contextName, day, actionType string) (int, error)

	// TryIncrementDailyCount adds one only while the counter is below ceiling.
	// It returns the resulting count and whether the increment was applied.
	TryIncrementDailyCount(ctx context.Context, contextName, day, actionType string, ceiling int) (int, bool, error)

	// GetDailyCount returns the counter value, or 0 when no row exists.
	GetDailyCount(ctx context.Context, contextName, day, actionType string) (int, error)

	// GetDailyCounts returns every counter recorded for the context on day.
	GetDailyCounts(ctx context.Context, contextName, day string) (map[string]int, error)

	// PruneDailyCounts deletes counters for days strictly before the given day.
	PruneDailyCounts(ctx context.Context, beforeDay string) (int, error)
}
