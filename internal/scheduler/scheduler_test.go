package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	defer s.Stop()

	if err := s.AddJob("prune", DefaultMaintenanceCron, func(context.Context) error { return nil }); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 scheduled job, got %d", s.Len())
	}
}

func TestSchedulerAddJob_InvalidExpression(t *testing.T) {
	s := NewScheduler(context.Background(), time.UTC)
	defer s.Stop()

	if err := s.AddJob("bad", "every day", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.AddJob("seconds", "*/5 * * * * *", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for six-field expression")
	}
}
