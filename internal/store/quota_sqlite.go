package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements QuotaRepo.
var _ QuotaRepo = (*SQLiteStore)(nil)

const sqliteUpsertIncrement = `INSERT INTO daily_quota_counters (context, day, action_type, count, updated_at)
	VALUES (?, ?, ?, 1, ?)
	ON CONFLICT(context, day, action_type) DO UPDATE SET
		count = daily_quota_counters.count + 1,
		updated_at = excluded.updated_at
	RETURNING count`

func (s *SQLiteStore) IncrementDailyCount(ctx context.Context, contextName, day, actionType string) (int, error) {
	if s.forceIncrementFallback.Load() {
		return s.incrementWithTx(ctx, contextName, day, actionType)
	}

	var count int
	err := s.db.QueryRowContext(ctx, sqliteUpsertIncrement, contextName, day, actionType, time.Now().UTC()).Scan(&count)
	if err != nil {
		if isUpsertUnsupported(err) {
			slog.Warn("SQLiteStore.IncrementDailyCount: upsert rejected, using transactional fallback", "error", err)
			s.forceIncrementFallback.Store(true)
			return s.incrementWithTx(ctx, contextName, day, actionType)
		}
		return 0, fmt.Errorf("increment daily count failed: %w", err)
	}
	slog.Debug("SQLiteStore.IncrementDailyCount", "context", contextName, "day", day, "actionType", actionType, "count", count)
	return count, nil
}

// incrementWithTx increments with an explicit UPDATE, inserting the row when
// the UPDATE matched nothing. A lost insert race is retried as an update.
func (s *SQLiteStore) incrementWithTx(ctx context.Context, contextName, day, actionType string) (int, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		count, err := s.incrementOnce(ctx, contextName, day, actionType)
		if err == nil {
			slog.Debug("SQLiteStore.incrementWithTx", "context", contextName, "day", day, "actionType", actionType, "count", count, "attempt", attempt)
			return count, nil
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("increment daily count failed after %d attempts: %w", maxAttempts, lastErr)
}

func (s *SQLiteStore) incrementOnce(ctx context.Context, contextName, day, actionType string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin increment tx failed: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE daily_quota_counters SET count = count + 1, updated_at = ?
		 WHERE context = ? AND day = ? AND action_type = ?`,
		now, contextName, day, actionType,
	)
	if err != nil {
		return 0, fmt.Errorf("update daily count failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update daily count rows affected failed: %w", err)
	}
	if n == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO daily_quota_counters (context, day, action_type, count, updated_at) VALUES (?, ?, ?, 1, ?)`,
			contextName, day, actionType, now,
		)
		if err != nil {
			return 0, err
		}
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT count FROM daily_quota_counters WHERE context = ? AND day = ? AND action_type = ?`,
		contextName, day, actionType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("read daily count failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit increment tx failed: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) TryIncrementDailyCount(ctx context.Context, contextName, day, actionType string, ceiling int) (int, bool, error) {
	if ceiling <= 0 {
		current, err := s.GetDailyCount(ctx, contextName, day, actionType)
		return current, false, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO daily_quota_counters (context, day, action_type, count, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(context, day, action_type) DO UPDATE SET
			count = daily_quota_counters.count + 1,
			updated_at = excluded.updated_at
		 WHERE daily_quota_counters.count < ?
		 RETURNING count`,
		contextName, day, actionType, time.Now().UTC(), ceiling,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := s.GetDailyCount(ctx, contextName, day, actionType)
		if err != nil {
			return 0, false, err
		}
		slog.Debug("SQLiteStore.TryIncrementDailyCount: ceiling reached", "context", contextName, "actionType", actionType, "current", current, "ceiling", ceiling)
		return current, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("try increment daily count failed: %w", err)
	}
	return count, true, nil
}

func (s *SQLiteStore) GetDailyCount(ctx context.Context, contextName, day, actionType string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM daily_quota_counters WHERE context = ? AND day = ? AND action_type = ?`,
		contextName, day, actionType,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get daily count failed: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) GetDailyCounts(ctx context.Context, contextName, day string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_type, count FROM daily_quota_counters WHERE context = ? AND day = ?`,
		contextName, day,
	)
	if err != nil {
		return nil, fmt.Errorf("get daily counts failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var actionType string
		var count int
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, fmt.Errorf("scan daily count failed: %w", err)
		}
		counts[actionType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily counts iteration failed: %w", err)
	}
	return counts, nil
}

func (s *SQLiteStore) PruneDailyCounts(ctx context.Context, beforeDay string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM daily_quota_counters WHERE day < ?`, beforeDay)
	if err != nil {
		return 0, fmt.Errorf("prune daily counts failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune daily counts rows affected failed: %w", err)
	}
	slog.Debug("SQLiteStore.PruneDailyCounts", "before", beforeDay, "removed", n)
	return int(n), nil
}

// isUpsertUnsupported reports errors raised by SQLite builds that predate
// ON CONFLICT ... DO UPDATE or RETURNING.
func isUpsertUnsupported(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "syntax error") &&
		(strings.Contains(msg, "ON") || strings.Contains(msg, "RETURNING") || strings.Contains(msg, "DO"))
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
