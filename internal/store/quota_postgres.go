package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that PostgresStore implements QuotaRepo.
var _ QuotaRepo = (*PostgresStore)(nil)

func (s *PostgresStore) IncrementDailyCount(ctx context.Context, contextName, day, actionType string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO daily_quota_counters (context, day, action_type, count, updated_at)
		 VALUES ($1, $2, $3, 1, $4)
		 ON CONFLICT (context, day, action_type) DO UPDATE SET
			count = daily_quota_counters.count + 1,
			updated_at = EXCLUDED.updated_at
		 RETURNING count`,
		contextName, day, actionType, time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment daily count failed: %w", err)
	}
	slog.Debug("PostgresStore.IncrementDailyCount", "context", contextName, "day", day, "actionType", actionType, "count", count)
	return count, nil
}

func (s *PostgresStore) TryIncrementDailyCount(ctx context.Context, contextName, day, actionType string, ceiling int) (int, bool, error) {
	if ceiling <= 0 {
		current, err := s.GetDailyCount(ctx, contextName, day, actionType)
		return current, false, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO daily_quota_counters (context, day, action_type, count, updated_at)
		 VALUES ($1, $2, $3, 1, $4)
		 ON CONFLICT (context, day, action_type) DO UPDATE SET
			count = daily_quota_counters.count + 1,
			updated_at = EXCLUDED.updated_at
		 WHERE daily_quota_counters.count < $5
		 RETURNING count`,
		contextName, day, actionType, time.Now().UTC(), ceiling,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := s.GetDailyCount(ctx, contextName, day, actionType)
		if err != nil {
			return 0, false, err
		}
		slog.Debug("PostgresStore.TryIncrementDailyCount: ceiling reached", "context", contextName, "actionType", actionType, "current", current, "ceiling", ceiling)
		return current, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("try increment daily count failed: %w", err)
	}
	return count, true, nil
}

func (s *PostgresStore) GetDailyCount(ctx context.Context, contextName, day, actionType string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM daily_quota_counters WHERE context = $1 AND day = $2 AND action_type = $3`,
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

func (s *PostgresStore) GetDailyCounts(ctx context.Context, contextName, day string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_type, count FROM daily_quota_counters WHERE context = $1 AND day = $2`,
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

func (s *PostgresStore) PruneDailyCounts(ctx context.Context, beforeDay string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM daily_quota_counters WHERE day < $1`, beforeDay)
	if err != nil {
		return 0, fmt.Errorf("prune daily counts failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune daily counts rows affected failed: %w", err)
	}
	slog.Debug("PostgresStore.PruneDailyCounts", "before", beforeDay, "removed", n)
	return int(n), nil
}
