package outreach

import (
	"fmt"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

// TransitionContext provides context for status transition guards.
type TransitionContext struct {
	ID            string
	CurrentStatus models.OutreachStatus
	Target        models.OutreachStatus
}

// sourceStatus is the only status each target may be reached from.
var sourceStatus = map[models.OutreachStatus]models.OutreachStatus{
	models.OutreachStatusSent:      models.OutreachStatusQueued,
	models.OutreachStatusFailed:    models.OutreachStatusQueued,
	models.OutreachStatusCancelled: models.OutreachStatusQueued,
	models.OutreachStatusResponded: models.OutreachStatusSent,
}

// RequiredSource returns the status an item must be in to move to target.
func RequiredSource(target models.OutreachStatus) (models.OutreachStatus, bool) {
	from, ok := sourceStatus[target]
	return from, ok
}

// CanTransition evaluates whether an item may move to the target status.
// Rules:
// - queued may become sent, failed or cancelled
// - sent may become responded
// - responded, failed and cancelled are terminal
func CanTransition(ctx TransitionContext) GuardResult {
	from, ok := sourceStatus[ctx.Target]
	if !ok {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("%s is not a reachable status", ctx.Target),
		}
	}
	if ctx.CurrentStatus != from {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("outreach %s can only become %s from %s (current status: %s)", ctx.ID, ctx.Target, from, ctx.CurrentStatus),
		}
	}
	return GuardResult{Allowed: true}
}
