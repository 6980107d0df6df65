// Package outreach implements the durable multi-channel outreach queue and its
// delivery state machine.
//
//	queued --sent--> sent --responded--> responded
//	queued --failed--> failed
//	queued --cancel--> cancelled
//
// Every transition is a guarded store update conditioned on the persisted
// status, so a worker marking an item sent and an operator cancelling it
// cannot both win.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/store"
	"github.com/BTreeMap/GrowthGovernor/internal/util"
)

const (
	// DefaultListLimit is the page size of GetQueuedOutreach when none is given.
	DefaultListLimit = 50
	// MaxListLimit caps a single listing.
	MaxListLimit = 500
	// IDPrefix prefixes outreach item ids.
	IDPrefix = "out_"
	// DayLayout is the date format of GetOutreachStats bounds.
	DayLayout = "2006-01-02"
)

// ErrInvalidRequest wraps every validation failure of the queue API.
var ErrInvalidRequest = errors.New("invalid outreach request")

// QueueRequest describes a new outreach item.
type QueueRequest struct {
	Context            string         `json:"context"`
	Channel            models.Channel `json:"channel"`
	ProspectID         string         `json:"prospect_id,omitempty"`
	ProspectName       string         `json:"prospect_name"`
	ProspectProfileURL string         `json:"prospect_profile_url,omitempty"`
	Subject            string         `json:"subject,omitempty"`
	Body               string         `json:"body"`
	ScheduledFor       *time.Time     `json:"scheduled_for,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// ListOptions filters GetQueuedOutreach.
type ListOptions struct {
	Channel   models.Channel
	Status    models.OutreachStatus // defaults to queued
	Limit     int                   // defaults to DefaultListLimit
	DueBefore *time.Time
}

// Queue is the outreach queue API over an OutreachRepo.
type Queue struct {
	repo store.OutreachRepo
	now  func() time.Time
	loc  *time.Location
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLocation sets the time zone that bounds the days of GetOutreachStats.
func WithLocation(loc *time.Location) Option {
	return func(q *Queue) {
		if loc != nil {
			q.loc = loc
		}
	}
}

// NewQueue creates a queue over repo.
func NewQueue(repo store.OutreachRepo, opts ...Option) *Queue {
	q := &Queue{repo: repo, now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Location returns the time zone that bounds the queue's days.
func (q *Queue) Location() *time.Location {
	return q.loc
}

// ParseDay parses a YYYY-MM-DD date as midnight in the queue's time zone.
func (q *Queue) ParseDay(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, strings.TrimSpace(raw), q.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidRequest, raw)
	}
	return t, nil
}

// QueueOutreach validates req and inserts a new queued item. Identical
// requests produce distinct items.
func (q *Queue) QueueOutreach(ctx context.Context, req QueueRequest) (*models.OutreachItem, error) {
	now := q.now().UTC()
	item := models.OutreachItem{
		ID:                 util.GenerateRandomID(IDPrefix, 32),
		Context:            strings.TrimSpace(req.Context),
		Channel:            req.Channel,
		ProspectID:         strings.TrimSpace(req.ProspectID),
		ProspectName:       strings.TrimSpace(req.ProspectName),
		ProspectProfileURL: strings.TrimSpace(req.ProspectProfileURL),
		Subject:            req.Subject,
		Body:               req.Body,
		Status:             models.OutreachStatusQueued,
		Metadata:           req.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.ScheduledFor != nil && !req.ScheduledFor.IsZero() {
		at := req.ScheduledFor.UTC()
		item.ScheduledFor = &at
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if err := q.repo.InsertOutreach(ctx, item); err != nil {
		return nil, fmt.Errorf("queue outreach: %w", err)
	}
	slog.Info("Queue.QueueOutreach: item queued", "id", item.ID, "context", item.Context, "channel", item.Channel, "scheduled", item.ScheduledFor != nil)
	return &item, nil
}

// GetOutreach returns one item or store.ErrOutreachNotFound.
func (q *Queue) GetOutreach(ctx context.Context, id string) (*models.OutreachItem, error) {
	return q.repo.GetOutreach(ctx, id)
}

// GetQueuedOutreach lists items of a context ordered by scheduled time
// (unscheduled last), then creation time.
func (q *Queue) GetQueuedOutreach(ctx context.Context, contextName string, opts ListOptions) ([]models.OutreachItem, error) {
	if strings.TrimSpace(contextName) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, models.ErrEmptyContext)
	}
	if opts.Channel != "" && !models.IsValidChannel(opts.Channel) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, models.ErrInvalidChannel)
	}
	status := opts.Status
	if status == "" {
		status = models.OutreachStatusQueued
	}
	if !models.IsValidOutreachStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	items, err := q.repo.ListOutreach(ctx, store.OutreachQuery{
		Context:   contextName,
		Channel:   opts.Channel,
		Status:    status,
		DueBefore: opts.DueBefore,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list outreach: %w", err)
	}
	return items, nil
}

// MarkOutreachSent moves a queued item to sent, stamping sentAt and merging
// metadata into the stored bag.
func (q *Queue) MarkOutreachSent(ctx context.Context, id string, metadata map[string]any) error {
	return q.transition(ctx, store.OutreachTransition{ID: id, To: models.OutreachStatusSent, Metadata: metadata})
}

// MarkOutreachResponded moves a sent item to responded. An empty responseText
// records the reply time only.
func (q *Queue) MarkOutreachResponded(ctx context.Context, id, responseText string) error {
	return q.MarkOutreachRespondedAt(ctx, id, responseText, time.Time{})
}

// MarkOutreachRespondedAt is MarkOutreachResponded with the time the reply
// arrived. A zero at stamps the queue clock instead.
func (q *Queue) MarkOutreachRespondedAt(ctx context.Context, id, responseText string, at time.Time) error {
	t := store.OutreachTransition{ID: id, To: models.OutreachStatusResponded, At: at.UTC()}
	if responseText != "" {
		t.ResponseText = &responseText
	}
	return q.transition(ctx, t)
}

// MarkOutreachFailed moves a queued item to failed. Retrying is the caller's
// decision; a failed item is never re-queued here.
func (q *Queue) MarkOutreachFailed(ctx context.Context, id, errorMessage string) error {
	return q.transition(ctx, store.OutreachTransition{ID: id, To: models.OutreachStatusFailed, ErrorMessage: &errorMessage})
}

// CancelOutreach moves a queued item to cancelled.
func (q *Queue) CancelOutreach(ctx context.Context, id string) error {
	return q.transition(ctx, store.OutreachTransition{ID: id, To: models.OutreachStatusCancelled})
}

func (q *Queue) transition(ctx context.Context, t store.OutreachTransition) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}
	from, ok := RequiredSource(t.To)
	if !ok {
		return fmt.Errorf("%w: unreachable status %q", ErrInvalidRequest, t.To)
	}
	t.From = from
	if t.At.IsZero() {
		t.At = q.now().UTC()
	}

	err := q.repo.TransitionOutreach(ctx, t)
	var terr *store.TransitionError
	switch {
	case err == nil:
		slog.Info("Queue.transition: outreach updated", "id", t.ID, "from", t.From, "to", t.To)
		return nil
	case errors.As(err, &terr):
		guard := CanTransition(TransitionContext{ID: t.ID, CurrentStatus: terr.Current, Target: t.To})
		slog.Warn("Queue.transition: stale transition", "id", t.ID, "reason", guard.Reason)
		return err
	case errors.Is(err, store.ErrOutreachNotFound):
		return err
	default:
		return fmt.Errorf("transition outreach %s to %s: %w", t.ID, t.To, err)
	}
}

// ListStaleSent reports items of a context that have been sent for longer
// than olderThan without a response. It makes no changes.
func (q *Queue) ListStaleSent(ctx context.Context, contextName string, olderThan time.Duration, limit int) ([]models.OutreachItem, error) {
	if strings.TrimSpace(contextName) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, models.ErrEmptyContext)
	}
	if olderThan <= 0 {
		return nil, fmt.Errorf("%w: olderThan must be positive", ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	before := q.now().Add(-olderThan)
	items, err := q.repo.ListOutreach(ctx, store.OutreachQuery{
		Context:    contextName,
		Status:     models.OutreachStatusSent,
		SentBefore: &before,
		Limit:      min(limit, MaxListLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("list stale sent: %w", err)
	}
	return items, nil
}

// GetOutreachStats aggregates items created between the start of startDate
// and the end of endDate, both inclusive, in the queue's time zone.
func (q *Queue) GetOutreachStats(ctx context.Context, contextName string, startDate, endDate time.Time) (models.OutreachStats, error) {
	if strings.TrimSpace(contextName) == "" {
		return models.OutreachStats{}, fmt.Errorf("%w: %w", ErrInvalidRequest, models.ErrEmptyContext)
	}
	from := startOfDay(startDate, q.loc)
	to := startOfDay(endDate, q.loc).AddDate(0, 0, 1)
	if !from.Before(to) {
		return models.OutreachStats{}, fmt.Errorf("%w: end date precedes start date", ErrInvalidRequest)
	}

	counts, err := q.repo.CountOutreachByStatus(ctx, contextName, from, to)
	if err != nil {
		return models.OutreachStats{}, fmt.Errorf("outreach stats: %w", err)
	}
	return buildStats(counts), nil
}

func buildStats(counts map[models.OutreachStatus]int) models.OutreachStats {
	s := models.OutreachStats{
		Queued:    counts[models.OutreachStatusQueued],
		Sent:      counts[models.OutreachStatusSent],
		Responded: counts[models.OutreachStatusResponded],
		Failed:    counts[models.OutreachStatusFailed],
		Cancelled: counts[models.OutreachStatusCancelled],
	}
	for _, n := range counts {
		s.Total += n
	}
	if denom := s.Sent + s.Responded; denom > 0 {
		s.ResponseRate = float64(s.Responded) / float64(denom)
	}
	return s
}

// startOfDay returns midnight of t's calendar date in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
