package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// Compile-time check that LogService implements Service.
var _ Service = (*LogService)(nil)

// LogService is a dry-run actuator: it logs every delivery and reports success
// without contacting any channel. Replies can be injected through its feed.
type LogService struct {
	feed      *ResponseFeed
	mu        sync.RWMutex
	stopped   bool
	delivered []models.OutreachItem
}

func NewLogService() *LogService {
	return &LogService{feed: NewResponseFeed()}
}

// Deliver logs the item and returns dry-run metadata.
func (s *LogService) Deliver(ctx context.Context, item models.OutreachItem) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrServiceStopped
	}
	s.delivered = append(s.delivered, item)
	slog.Info("LogService.Deliver: dry-run delivery", "id", item.ID, "context", item.Context, "channel", item.Channel, "prospect", item.ProspectName, "bodyLength", len(item.Body))
	return map[string]any{
		"actuator":     "log",
		"delivered_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Delivered returns the items delivered so far.
func (s *LogService) Delivered() []models.OutreachItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.OutreachItem, len(s.delivered))
	copy(out, s.delivered)
	return out
}

// Feed exposes the reply feed so replies can be injected, e.g. by a webhook.
func (s *LogService) Feed() *ResponseFeed {
	return s.feed
}

// Start is a no-op for the log actuator
func (s *LogService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the response channel and rejects further deliveries.
func (s *LogService) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.feed.Close()
	return nil
}

func (s *LogService) Responses() <-chan models.ProspectResponse {
	return s.feed.C()
}
