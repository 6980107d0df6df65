package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// Compile-time check that Router implements Service.
var _ Service = (*Router)(nil)

// Router dispatches deliveries to the actuator registered for each channel and
// merges their reply streams into one.
type Router struct {
	mu       sync.RWMutex
	services map[models.Channel]Service
	fallback Service
	feed     *ResponseFeed
	wg       sync.WaitGroup
}

// NewRouter creates a router. fallback, when non-nil, handles channels with no
// registered actuator.
func NewRouter(fallback Service) *Router {
	return &Router{
		services: make(map[models.Channel]Service),
		fallback: fallback,
		feed:     NewResponseFeed(),
	}
}

// Register assigns svc to channel, replacing any previous registration.
func (r *Router) Register(channel models.Channel, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[channel] = svc
	slog.Debug("Router registered service", "channel", channel)
}

func (r *Router) serviceFor(channel models.Channel) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if svc, ok := r.services[channel]; ok {
		return svc, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoServiceForChannel, channel)
}

// Deliver routes item to its channel's actuator.
func (r *Router) Deliver(ctx context.Context, item models.OutreachItem) (map[string]any, error) {
	svc, err := r.serviceFor(item.Channel)
	if err != nil {
		return nil, err
	}
	return svc.Deliver(ctx, item)
}

// unique returns each distinct registered actuator once.
func (r *Router) unique() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Service]bool)
	var out []Service
	add := func(s Service) {
		if s != nil && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range r.services {
		add(s)
	}
	add(r.fallback)
	return out
}

// Start starts every actuator and forwards their replies.
func (r *Router) Start(ctx context.Context) error {
	for _, svc := range r.unique() {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start messaging service: %w", err)
		}
		r.wg.Add(1)
		go func(src <-chan models.ProspectResponse) {
			defer r.wg.Done()
			for resp := range src {
				r.feed.Emit(resp)
			}
		}(svc.Responses())
	}
	return nil
}

// Stop stops every actuator, waits for their reply streams to drain and
// closes the merged channel.
func (r *Router) Stop() error {
	var firstErr error
	for _, svc := range r.unique() {
		if err := svc.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.wg.Wait()
	r.feed.Close()
	return firstErr
}

func (r *Router) Responses() <-chan models.ProspectResponse {
	return r.feed.C()
}
