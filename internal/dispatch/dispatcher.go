// Package dispatch runs the outbound worker loop: for each configured context
// and channel it checks the daily quota, pulls due queued items, delivers them
// through the actuator and reports the outcome back to the queue.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/BTreeMap/GrowthGovernor/internal/messaging"
	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
	"github.com/BTreeMap/GrowthGovernor/internal/store"
)

const (
	// DefaultInterval is the time between two dispatch passes.
	DefaultInterval = 30 * time.Second
	// DefaultBatchSize is the number of items pulled per target and pass.
	DefaultBatchSize = 10
	// DefaultPace is the minimum gap between two deliveries.
	DefaultPace = 2 * time.Second
)

// QuotaGate is the part of the quota tracker the dispatcher needs.
type QuotaGate interface {
	CheckDailyLimit(ctx context.Context, actionType models.ActionType, contextName string) (models.DailyLimitResult, error)
	IncrementDailyCount(ctx context.Context, actionType models.ActionType, contextName string) (int, error)
}

// OutreachQueue is the part of the outreach queue the dispatcher needs.
type OutreachQueue interface {
	GetQueuedOutreach(ctx context.Context, contextName string, opts outreach.ListOptions) ([]models.OutreachItem, error)
	MarkOutreachSent(ctx context.Context, id string, metadata map[string]any) error
	MarkOutreachFailed(ctx context.Context, id, errorMessage string) error
	MarkOutreachRespondedAt(ctx context.Context, id, responseText string, at time.Time) error
}

// Target is one (context, channel) pair the dispatcher works on.
type Target struct {
	Context string
	Channel models.Channel
}

// Report summarizes one dispatch pass.
type Report struct {
	Sent     int
	Failed   int
	Skipped  int // items whose status changed under us, e.g. cancelled
	Deferred int // targets or items held back by the daily quota
}

func (r *Report) add(o Report) {
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Deferred += o.Deferred
}

// Dispatcher drains due outreach items within the daily quotas.
type Dispatcher struct {
	quota    QuotaGate
	queue    OutreachQueue
	actuator messaging.Service
	targets  []Target

	interval  time.Duration
	batchSize int
	limiter   *rate.Limiter
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInterval sets the time between passes of Run.
func WithInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.interval = d
		}
	}
}

// WithBatchSize sets how many items are pulled per target and pass.
func WithBatchSize(n int) Option {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.batchSize = n
		}
	}
}

// WithPace sets the minimum gap between deliveries. Zero disables pacing.
func WithPace(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d <= 0 {
			disp.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		disp.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) { disp.now = now }
}

// New creates a dispatcher for targets.
func New(quota QuotaGate, queue OutreachQueue, actuator messaging.Service, targets []Target, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		quota:     quota,
		queue:     queue,
		actuator:  actuator,
		targets:   targets,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		limiter:   rate.NewLimiter(rate.Every(DefaultPace), 1),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches on every interval and applies actuator replies until ctx is
// cancelled. It returns once no pass or reply is in flight.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher.Run: starting dispatcher", "targets", len(d.targets), "interval", d.interval, "batchSize", d.batchSize)

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		d.consumeResponses(ctx)
	}()
	defer func() { <-consumed }()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: stopping")
			return
		case <-ticker.C:
			report := d.Tick(ctx)
			if report.Sent+report.Failed+report.Skipped > 0 {
				slog.Info("Dispatcher.Run: pass complete", "sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped, "deferred", report.Deferred)
			}
		}
	}
}

// Tick runs a single pass over every target.
func (d *Dispatcher) Tick(ctx context.Context) Report {
	var total Report
	for _, target := range d.targets {
		if ctx.Err() != nil {
			break
		}
		total.add(d.dispatchTarget(ctx, target))
	}
	return total
}

func (d *Dispatcher) allowed(ctx context.Context, actionType models.ActionType, target Target) (bool, error) {
	res, err := d.quota.CheckDailyLimit(ctx, actionType, target.Context)
	if err != nil {
		return false, err
	}
	if !res.Allowed {
		slog.Debug("Dispatcher: daily quota reached, deferring", "context", target.Context, "channel", target.Channel, "actionType", actionType, "current", res.Current, "limit", res.Limit)
	}
	return res.Allowed, nil
}

func (d *Dispatcher) dispatchTarget(ctx context.Context, target Target) Report {
	var report Report
	actionType := target.Channel.ActionType()

	ok, err := d.allowed(ctx, actionType, target)
	if err != nil {
		slog.Error("Dispatcher.dispatchTarget: quota check failed", "context", target.Context, "channel", target.Channel, "error", err)
		return report
	}
	if !ok {
		report.Deferred++
		return report
	}

	now := d.now().UTC()
	items, err := d.queue.GetQueuedOutreach(ctx, target.Context, outreach.ListOptions{
		Channel:   target.Channel,
		Limit:     d.batchSize,
		DueBefore: &now,
	})
	if err != nil {
		slog.Error("Dispatcher.dispatchTarget: listing queued outreach failed", "context", target.Context, "channel", target.Channel, "error", err)
		return report
	}

	for i, item := range items {
		if i > 0 {
			ok, err := d.allowed(ctx, actionType, target)
			if err != nil {
				slog.Error("Dispatcher.dispatchTarget: quota check failed", "context", target.Context, "error", err)
				return report
			}
			if !ok {
				report.Deferred++
				return report
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return report
		}
		d.deliver(ctx, actionType, item, &report)
	}
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, actionType models.ActionType, item models.OutreachItem, report *Report) {
	slog.Debug("Dispatcher.deliver: sending item", "id", item.ID, "context", item.Context, "channel", item.Channel)

	meta, sendErr := d.actuator.Deliver(ctx, item)
	if sendErr != nil {
		slog.Error("Dispatcher.deliver: delivery failed", "id", item.ID, "error", sendErr)
		if err := d.queue.MarkOutreachFailed(ctx, item.ID, sendErr.Error()); err != nil {
			if isSkippable(err) {
				report.Skipped++
				slog.Warn("Dispatcher.deliver: item changed before it could be marked failed", "id", item.ID, "error", err)
				return
			}
			slog.Error("Dispatcher.deliver: mark failed error", "id", item.ID, "error", err)
		}
		report.Failed++
		return
	}

	// The send happened, so it counts against the quota whatever the queue says.
	if _, err := d.quota.IncrementDailyCount(ctx, actionType, item.Context); err != nil {
		slog.Error("Dispatcher.deliver: quota increment failed", "id", item.ID, "actionType", actionType, "error", err)
	}
	if err := d.queue.MarkOutreachSent(ctx, item.ID, meta); err != nil {
		if isSkippable(err) {
			report.Skipped++
			slog.Warn("Dispatcher.deliver: item changed during delivery", "id", item.ID, "error", err)
			return
		}
		slog.Error("Dispatcher.deliver: mark sent error", "id", item.ID, "error", err)
		return
	}
	report.Sent++
	slog.Debug("Dispatcher.deliver: item sent", "id", item.ID)
}

// HandleResponse records a prospect reply against its sent item.
func (d *Dispatcher) HandleResponse(ctx context.Context, resp models.ProspectResponse) error {
	err := d.queue.MarkOutreachRespondedAt(ctx, resp.OutreachID, resp.Text, resp.At)
	if err != nil {
		if isSkippable(err) {
			slog.Warn("Dispatcher.HandleResponse: reply does not match a sent item", "id", resp.OutreachID, "error", err)
		} else {
			slog.Error("Dispatcher.HandleResponse: mark responded failed", "id", resp.OutreachID, "error", err)
		}
		return err
	}
	slog.Info("Dispatcher.HandleResponse: reply recorded", "id", resp.OutreachID)
	return nil
}

func (d *Dispatcher) consumeResponses(ctx context.Context) {
	responses := d.actuator.Responses()
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-responses:
			if !ok {
				slog.Debug("Dispatcher.consumeResponses: response channel closed")
				return
			}
			_ = d.HandleResponse(ctx, resp)
		}
	}
}

func isSkippable(err error) bool {
	return errors.Is(err, store.ErrStaleTransition) || errors.Is(err, store.ErrOutreachNotFound)
}
