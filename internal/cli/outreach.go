package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
	"github.com/BTreeMap/GrowthGovernor/internal/quota"
)

const dateLayout = outreach.DayLayout

func (a *app) outreachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outreach",
		Short: "Inspect and manage the outreach queue",
	}
	cmd.AddCommand(a.outreachListCmd(), a.outreachStatsCmd(), a.outreachCancelCmd(), a.outreachStaleCmd())
	return cmd
}

func (a *app) outreachListCmd() *cobra.Command {
	var (
		channel string
		status  string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "list <context>",
		Short: "List outreach items in scheduling order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(_ *quota.Tracker, queue *outreach.Queue) error {
				items, err := queue.GetQueuedOutreach(cmd.Context(), args[0], outreach.ListOptions{
					Channel: models.Channel(channel),
					Status:  models.OutreachStatus(status),
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				renderItems(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "only this channel")
	cmd.Flags().StringVar(&status, "status", string(models.OutreachStatusQueued), "only this status")
	cmd.Flags().IntVar(&limit, "limit", outreach.DefaultListLimit, "maximum number of items")
	return cmd
}

func (a *app) outreachStatsCmd() *cobra.Command {
	var startRaw, endRaw string
	cmd := &cobra.Command{
		Use:   "stats <context>",
		Short: "Aggregate outreach outcomes over a date range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(_ *quota.Tracker, queue *outreach.Queue) error {
				today := time.Now().In(queue.Location()).Format(dateLayout)
				start, err := parseDateFlag(queue, "start", startRaw, today)
				if err != nil {
					return err
				}
				end, err := parseDateFlag(queue, "end", endRaw, today)
				if err != nil {
					return err
				}
				stats, err := queue.GetOutreachStats(cmd.Context(), args[0], start, end)
				if err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), args[0], start, end, stats)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&startRaw, "start", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&endRaw, "end", "", "last day, YYYY-MM-DD (default today)")
	return cmd
}

// parseDateFlag parses a date flag as midnight in the queue's time zone.
func parseDateFlag(queue *outreach.Queue, name, raw, def string) (time.Time, error) {
	if raw == "" {
		raw = def
	}
	t, err := queue.ParseDay(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD, got %q", name, raw)
	}
	return t, nil
}

func (a *app) outreachCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued outreach item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(_ *quota.Tracker, queue *outreach.Queue) error {
				if err := queue.CancelOutreach(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], color.New(color.FgHiBlack).Sprint("cancelled"))
				return nil
			})
		},
	}
}

func (a *app) outreachStaleCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "stale <context>",
		Short: "Report sent items still waiting for a response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(_ *quota.Tracker, queue *outreach.Queue) error {
				items, err := queue.ListStaleSent(cmd.Context(), args[0], olderThan, limit)
				if err != nil {
					return err
				}
				renderItems(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 72*time.Hour, "minimum time since sending")
	cmd.Flags().IntVar(&limit, "limit", outreach.DefaultListLimit, "maximum number of items")
	return cmd
}
