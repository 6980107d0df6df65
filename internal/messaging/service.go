// Package messaging defines the actuator boundary of the governor: the
// component that physically delivers an outreach item over its channel and
// reports prospect replies back.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

const (
	// DefaultChannelBufferSize defines the default buffer size for response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// ErrServiceStopped is returned by Deliver after Stop.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrNoServiceForChannel is returned when no actuator handles an item's channel.
	ErrNoServiceForChannel = errors.New("no messaging service registered for channel")
)

// Service defines a pluggable delivery actuator.
type Service interface {
	// Deliver performs the physical send of item. The returned metadata, if
	// any, is merged into the item when it is marked sent.
	Deliver(ctx context.Context, item models.OutreachItem) (map[string]any, error)

	// Start begins any background processing (e.g., polling for replies).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the response channel.
	Stop() error

	// Responses returns a channel of prospect replies to previously sent items.
	Responses() <-chan models.ProspectResponse
}
