// Package store provides the OutreachRepo interface for the durable outreach queue.
package store

import (
	"context"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// OutreachQuery filters outreach items. Zero values mean "no filter".
type OutreachQuery struct {
	Context    string
	Channel    models.Channel
	Status     models.OutreachStatus
	DueBefore  *time.Time // scheduled_for IS NULL OR scheduled_for <= DueBefore
	SentBefore *time.Time // sent_at < SentBefore
	Limit      int
}

// OutreachTransition is a guarded status change. It applies only if the
// persisted status still equals From.
type OutreachTransition struct {
	ID           string
	From         models.OutreachStatus
	To           models.OutreachStatus
	At           time.Time
	ResponseText *string
	ErrorMessage *string
	Metadata     map[string]any // merged into the stored bag
}

// OutreachRepo defines the persistence operations of the outreach queue.
type OutreachRepo interface {
	// InsertOutreach stores a new item. ID, timestamps and status must be set by the caller.
	InsertOutreach(ctx context.Context, item models.OutreachItem) error

	// GetOutreach retrieves one item, or ErrOutreachNotFound.
	GetOutreach(ctx context.Context, id string) (*models.OutreachItem, error)

	// ListOutreach returns items ordered by scheduled_for ascending (unscheduled
	// last), then created_at.
	ListOutreach(ctx context.Context, q OutreachQuery) ([]models.OutreachItem, error)

	// TransitionOutreach applies a compare-and-swap status update. It returns
	// ErrOutreachNotFound for an unknown id and a *TransitionError when the
	// persisted status differs from t.From.
	TransitionOutreach(ctx context.Context, t OutreachTransition) error

	// CountOutreachByStatus counts items created in [from, to) per status.
	CountOutreachByStatus(ctx context.Context, contextName string, from, to time.Time) (map[models.OutreachStatus]int, error)
}
