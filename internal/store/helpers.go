package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// outreachColumns is the column order shared by every outreach SELECT.
const outreachColumns = `id, context, channel, prospect_id, prospect_name, prospect_profile_url, subject, body,
	scheduled_for, status, sent_at, response_at, response_text, error_message, metadata, created_at, updated_at`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZeroTime converts an optional timestamp to a nullable UTC column value.
func nilIfZeroTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

// splitMetadataPatch separates the top-level keys a patch sets from the keys
// it deletes (nil values). removed is sorted.
func splitMetadataPatch(patch map[string]any) (set map[string]any, removed []string) {
	set = make(map[string]any, len(patch))
	for k, v := range patch {
		if v == nil {
			removed = append(removed, k)
			continue
		}
		set[k] = v
	}
	sort.Strings(removed)
	return set, removed
}

// encodeMetadata marshals the metadata bag. Nil and empty bags are stored as NULL.
func encodeMetadata(m map[string]any) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata failed: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("decode metadata failed: %w", err)
	}
	return m, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanOutreach reads one row selected with outreachColumns.
func scanOutreach(row rowScanner) (models.OutreachItem, error) {
	var o models.OutreachItem
	var prospectID, profileURL, subject, responseText, errorMessage, metadata sql.NullString
	var scheduledFor, sentAt, responseAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.Context, &o.Channel, &prospectID, &o.ProspectName, &profileURL, &subject, &o.Body,
		&scheduledFor, &o.Status, &sentAt, &responseAt, &responseText, &errorMessage, &metadata,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.ProspectID = prospectID.String
	o.ProspectProfileURL = profileURL.String
	o.Subject = subject.String
	o.ResponseText = responseText.String
	o.ErrorMessage = errorMessage.String
	o.ScheduledFor = timePtr(scheduledFor)
	o.SentAt = timePtr(sentAt)
	o.ResponseAt = timePtr(responseAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if o.Metadata, err = decodeMetadata(metadata); err != nil {
		return o, err
	}
	return o, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// transitionAssignment is a single "column = value" pair of a guarded update.
type transitionAssignment struct {
	column string
	value  interface{}
}

// transitionAssignments returns the column updates implied by the target status.
// Metadata is merged separately because the merge expression is dialect specific.
func transitionAssignments(t OutreachTransition) []transitionAssignment {
	at := t.At.UTC()
	sets := []transitionAssignment{
		{"status", string(t.To)},
		{"updated_at", at},
	}
	switch t.To {
	case models.OutreachStatusSent:
		sets = append(sets, transitionAssignment{"sent_at", at})
	case models.OutreachStatusResponded:
		sets = append(sets, transitionAssignment{"response_at", at})
		if t.ResponseText != nil {
			sets = append(sets, transitionAssignment{"response_text", nilIfEmpty(*t.ResponseText)})
		}
	case models.OutreachStatusFailed:
		if t.ErrorMessage != nil {
			sets = append(sets, transitionAssignment{"error_message", nilIfEmpty(*t.ErrorMessage)})
		}
	}
	return sets
}

// outreachFilter renders the WHERE clause of a ListOutreach query. placeholder
// returns the dialect's bind marker for the n-th (1-based) argument.
func outreachFilter(q OutreachQuery, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}
	if q.Context != "" {
		add("context = %s", q.Context)
	}
	if q.Channel != "" {
		add("channel = %s", string(q.Channel))
	}
	if q.Status != "" {
		add("status = %s", string(q.Status))
	}
	if q.DueBefore != nil {
		add("(scheduled_for IS NULL OR scheduled_for <= %s)", q.DueBefore.UTC())
	}
	if q.SentBefore != nil {
		add("sent_at < %s", q.SentBefore.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
