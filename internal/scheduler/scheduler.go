// Package scheduler runs GrowthGovernor's periodic maintenance on cron
// expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultMaintenanceCron prunes old quota counters shortly after midnight.
const DefaultMaintenanceCron = "5 0 * * *"

// Task is a unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// NewScheduler creates and starts a cron scheduler whose jobs run with ctx and
// evaluate expressions in loc (UTC when nil).
func NewScheduler(ctx context.Context, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c, ctx: ctx}
}

// AddJob schedules task under name using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task Task) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		if err := task(s.ctx); err != nil {
			slog.Error("Scheduler: job failed", "job", name, "error", err)
			return
		}
		slog.Debug("Scheduler: job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s with %q: %w", name, expr, err)
	}
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "cron", expr)
	return nil
}

// Len reports the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
