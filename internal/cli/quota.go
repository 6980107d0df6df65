package cli

import (
	"github.com/spf13/cobra"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
	"github.com/BTreeMap/GrowthGovernor/internal/quota"
)

func (a *app) quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and record daily action quotas",
	}
	cmd.AddCommand(a.quotaSummaryCmd(), a.quotaCheckCmd(), a.quotaIncrementCmd())
	return cmd
}

func (a *app) quotaSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <context>",
		Short: "Show today's usage of every action type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(tracker *quota.Tracker, _ *outreach.Queue) error {
				rows, err := tracker.GetLimitsSummary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				renderSummary(cmd.OutOrStdout(), args[0], tracker.Today(), rows)
				return nil
			})
		},
	}
}

func (a *app) quotaCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <context> <action>",
		Short: "Report whether one more action is allowed today",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(tracker *quota.Tracker, _ *outreach.Queue) error {
				res, err := tracker.CheckDailyLimit(cmd.Context(), models.ActionType(args[1]), args[0])
				if err != nil {
					return err
				}
				renderCheck(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func (a *app) quotaIncrementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "increment <context> <action>",
		Short: "Record one action performed outside the dispatcher",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(tracker *quota.Tracker, _ *outreach.Queue) error {
				actionType := models.ActionType(args[1])
				if _, err := tracker.IncrementDailyCount(cmd.Context(), actionType, args[0]); err != nil {
					return err
				}
				res, err := tracker.CheckDailyLimit(cmd.Context(), actionType, args[0])
				if err != nil {
					return err
				}
				renderCheck(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}
