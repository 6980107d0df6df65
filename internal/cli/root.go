// Package cli implements the GrowthGovernor command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/GrowthGovernor/internal/config"
	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
	"github.com/BTreeMap/GrowthGovernor/internal/quota"
	"github.com/BTreeMap/GrowthGovernor/internal/store"
)

// app carries the resolved configuration to every subcommand.
type app struct {
	cfg config.Config
}

// Execute loads the environment and runs the root command.
func Execute(version string) error {
	config.LoadDotEnv(os.Getenv("GOVERNOR_ENV_FILE"))
	a := &app{cfg: config.FromEnv()}
	return a.rootCmd(version).Execute()
}

func (a *app) rootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "GrowthGovernor",
		Short:   "Outbound action governor: daily quotas, rate limits and a durable outreach queue",
		Version: version,
		Long: `GrowthGovernor keeps automated outreach inside per-context daily quotas,
rate limits inbound trigger requests and tracks every queued message from
queued to sent, responded, failed or cancelled.

Flags override environment variables, which override built-in defaults.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initializeLogger(a.cfg.LogLevel, a.cfg.LogFormat)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.StateDir, "state-dir", a.cfg.StateDir, "state directory for the SQLite database and lock file (overrides $GOVERNOR_STATE_DIR)")
	flags.StringVar(&a.cfg.DatabaseURL, "db-dsn", a.cfg.DatabaseURL, "database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level: debug|info|warn|error (overrides $LOG_LEVEL)")
	flags.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "log format: text|json (overrides $LOG_FORMAT)")
	flags.StringVar(&a.cfg.QuotaLimitsFile, "limits-file", a.cfg.QuotaLimitsFile, "YAML file with quota ceilings and timezone (overrides $QUOTA_LIMITS_FILE)")
	flags.StringVar(&a.cfg.QuotaTimezone, "timezone", a.cfg.QuotaTimezone, "time zone of the quota day (overrides $QUOTA_TIMEZONE)")

	root.SetUsageTemplate(colorizeUsage(root.UsageTemplate()))

	root.AddCommand(a.serveCmd())
	root.AddCommand(a.quotaCmd())
	root.AddCommand(a.outreachCmd())
	root.AddCommand(a.pruneCmd())
	return root
}

// initializeLogger sets up structured logging at the configured level and format.
func initializeLogger(level, format string) {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore opens the configured backend.
func (a *app) openStore() (store.Store, error) {
	dsn := a.cfg.DSN()
	var opts []store.Option
	if a.cfg.DBMaxOpenConns > 0 {
		opts = append(opts, store.WithMaxOpenConns(a.cfg.DBMaxOpenConns))
	}
	st, err := store.Open(dsn, opts...)
	if err != nil {
		return nil, fmt.Errorf("open store (%s): %w", store.DetectDSNType(dsn), err)
	}
	return st, nil
}

// services builds the tracker and queue over st.
func (a *app) services(st store.Store) (*quota.Tracker, *outreach.Queue, error) {
	limits, loc, err := a.cfg.QuotaSettings(os.LookupEnv)
	if err != nil {
		return nil, nil, fmt.Errorf("quota configuration: %w", err)
	}
	tracker := quota.NewTracker(st,
		quota.WithLimits(limits),
		quota.WithLocation(loc),
		quota.WithRetentionDays(a.cfg.QuotaRetentionDays))
	queue := outreach.NewQueue(st, outreach.WithLocation(loc))
	return tracker, queue, nil
}

// withServices opens the store, runs fn and closes the store.
func (a *app) withServices(fn func(tracker *quota.Tracker, queue *outreach.Queue) error) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tracker, queue, err := a.services(st)
	if err != nil {
		return err
	}
	return fn(tracker, queue)
}
