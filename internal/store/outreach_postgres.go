package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// Compile-time check that PostgresStore implements OutreachRepo.
var _ OutreachRepo = (*PostgresStore)(nil)

func (s *PostgresStore) InsertOutreach(ctx context.Context, item models.OutreachItem) error {
	metadata, err := encodeMetadata(item.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outreach_items (`+outreachColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16, $17)`,
		item.ID, item.Context, string(item.Channel), nilIfEmpty(item.ProspectID), item.ProspectName,
		nilIfEmpty(item.ProspectProfileURL), nilIfEmpty(item.Subject), item.Body,
		nilIfZeroTime(item.ScheduledFor), string(item.Status), nilIfZeroTime(item.SentAt), nilIfZeroTime(item.ResponseAt),
		nilIfEmpty(item.ResponseText), nilIfEmpty(item.ErrorMessage), metadata,
		item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outreach item failed: %w", err)
	}
	slog.Debug("PostgresStore.InsertOutreach", "id", item.ID, "context", item.Context, "channel", item.Channel)
	return nil
}

func (s *PostgresStore) GetOutreach(ctx context.Context, id string) (*models.OutreachItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outreachColumns+` FROM outreach_items WHERE id = $1`, id)
	item, err := scanOutreach(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOutreachNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outreach item failed: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListOutreach(ctx context.Context, q OutreachQuery) ([]models.OutreachItem, error) {
	where, args := outreachFilter(q, postgresPlaceholder)
	query := `SELECT ` + outreachColumns + ` FROM outreach_items` + where +
		` ORDER BY scheduled_for ASC NULLS LAST, created_at ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outreach items failed: %w", err)
	}
	defer rows.Close()

	var items []models.OutreachItem
	for rows.Next() {
		item, err := scanOutreach(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outreach item failed: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outreach iteration failed: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) TransitionOutreach(ctx context.Context, t OutreachTransition) error {
	var sets []string
	var args []any
	for _, a := range transitionAssignments(t) {
		args = append(args, a.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", a.column, len(args)))
	}
	if len(t.Metadata) > 0 {
		set, removed := splitMetadataPatch(t.Metadata)
		patch := "{}"
		if len(set) > 0 {
			encoded, err := encodeMetadata(set)
			if err != nil {
				return err
			}
			patch = encoded.(string)
		}
		if removed == nil {
			removed = []string{}
		}
		// Only top-level keys named in the patch change; stored nulls elsewhere stay.
		args = append(args, patch, pq.Array(removed))
		sets = append(sets, fmt.Sprintf("metadata = (COALESCE(metadata, '{}'::jsonb) || $%d::jsonb) - $%d::text[]", len(args)-1, len(args)))
	}
	args = append(args, t.ID, string(t.From))

	query := fmt.Sprintf(`UPDATE outreach_items SET %s WHERE id = $%d AND status = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition outreach %s failed: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition outreach rows affected failed: %w", err)
	}
	if n == 1 {
		slog.Debug("PostgresStore.TransitionOutreach", "id", t.ID, "from", t.From, "to", t.To)
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM outreach_items WHERE id = $1`, t.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOutreachNotFound
	}
	if err != nil {
		return fmt.Errorf("read outreach status failed: %w", err)
	}
	return &TransitionError{ID: t.ID, From: t.From, To: t.To, Current: models.OutreachStatus(current)}
}

func (s *PostgresStore) CountOutreachByStatus(ctx context.Context, contextName string, from, to time.Time) (map[models.OutreachStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outreach_items
		 WHERE context = $1 AND created_at >= $2 AND created_at < $3
		 GROUP BY status`,
		contextName, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("count outreach by status failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.OutreachStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outreach count failed: %w", err)
		}
		counts[models.OutreachStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outreach count iteration failed: %w", err)
	}
	return counts, nil
}
