package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
	"github.com/BTreeMap/GrowthGovernor/internal/quota"
)

func (a *app) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete daily counters older than the retention window",
		Long: `prune runs the same maintenance job the server schedules on
MAINTENANCE_CRON: daily counters older than the retention window are deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(tracker *quota.Tracker, _ *outreach.Queue) error {
				n, err := tracker.ResetDailyCounts(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d daily counters\n", n)
				return nil
			})
		},
	}
}
