package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/GrowthGovernor/internal/api"
	"github.com/BTreeMap/GrowthGovernor/internal/config"
	"github.com/BTreeMap/GrowthGovernor/internal/dispatch"
	"github.com/BTreeMap/GrowthGovernor/internal/lockfile"
	"github.com/BTreeMap/GrowthGovernor/internal/messaging"
	"github.com/BTreeMap/GrowthGovernor/internal/ratelimit"
	"github.com/BTreeMap/GrowthGovernor/internal/scheduler"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the dispatcher and the maintenance scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&a.cfg.APIAddr, "addr", a.cfg.APIAddr, "API listen address (overrides $API_ADDR)")
	flags.BoolVar(&a.cfg.DispatchEnabled, "dispatch", a.cfg.DispatchEnabled, "deliver queued outreach (overrides $DISPATCH_ENABLED)")
	flags.StringVar(&a.cfg.DispatchContexts, "dispatch-contexts", a.cfg.DispatchContexts, "context[:channel] list to dispatch (overrides $DISPATCH_CONTEXTS)")
	flags.DurationVar(&a.cfg.DispatchInterval, "dispatch-interval", a.cfg.DispatchInterval, "time between dispatch passes (overrides $DISPATCH_INTERVAL)")
	flags.DurationVar(&a.cfg.DispatchPace, "dispatch-pace", a.cfg.DispatchPace, "minimum gap between deliveries (overrides $DISPATCH_PACE)")
	flags.StringVar(&a.cfg.MaintenanceCron, "maintenance-cron", a.cfg.MaintenanceCron, "cron expression for quota pruning (overrides $MAINTENANCE_CRON)")
	flags.StringVar(&a.cfg.RedisAddr, "redis-addr", a.cfg.RedisAddr, "Redis address for shared rate limiting (overrides $REDIS_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var targets []dispatch.Target
	if a.cfg.DispatchEnabled {
		var err error
		if targets, err = config.ParseTargets(a.cfg.DispatchContexts); err != nil {
			return err
		}
	}

	if a.cfg.UsesSQLite() {
		lock, err := lockfile.AcquireLock(a.cfg.StateDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("serve: failed to release lock", "path", lock.Path(), "error", err)
			}
		}()
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tracker, queue, err := a.services(st)
	if err != nil {
		return err
	}

	limiter, closeLimiter := a.rateLimiter(ctx)
	defer closeLimiter()

	logSvc := messaging.NewLogService()
	router := messaging.NewRouter(logSvc)
	if err := router.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := router.Stop(); err != nil {
			slog.Warn("serve: messaging shutdown", "error", err)
		}
	}()

	// With no targets the dispatcher only applies prospect replies.
	dispatcher := dispatch.New(tracker, queue, router, targets,
		dispatch.WithInterval(a.cfg.DispatchInterval),
		dispatch.WithPace(a.cfg.DispatchPace),
		dispatch.WithBatchSize(a.cfg.DispatchBatch))
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx)
	}()
	// Registered after the store and router defers so it runs first: no
	// Tick may be in flight when they close.
	defer func() {
		cancel()
		<-dispatchDone
	}()
	if len(targets) == 0 {
		slog.Info("serve: dispatch disabled, replies are still applied", "enabled", a.cfg.DispatchEnabled)
	}

	sched := scheduler.NewScheduler(ctx, tracker.Location())
	if err := sched.AddJob("prune-daily-counts", a.cfg.MaintenanceCron, func(ctx context.Context) error {
		n, err := tracker.ResetDailyCounts(ctx)
		if err == nil {
			slog.Info("serve: pruned daily counts", "rows", n)
		}
		return err
	}); err != nil {
		return err
	}
	defer sched.Stop()

	srv := api.NewServer(api.Config{
		Addr:    a.cfg.APIAddr,
		Tracker: tracker,
		Queue:   queue,
		RateLimit: ratelimit.Options{
			Limiter:             limiter,
			Window:              a.cfg.RateLimitWindow,
			MaxRequests:         a.cfg.RateLimitMax,
			KeyHeader:           a.cfg.RateLimitKeyHeader,
			TrustXForwardedFor:  a.cfg.RateLimitTrustXFF,
			AddRateLimitHeaders: true,
		},
		Webhook: logSvc.Feed().WebhookHandler,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("serve: shutdown signal received")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

// rateLimiter returns a Redis-backed limiter when REDIS_ADDR is set, otherwise
// an in-process one with a background janitor.
func (a *app) rateLimiter(ctx context.Context) (*ratelimit.Limiter, func()) {
	if a.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("serve: redis unreachable, requests fail open until it recovers", "addr", a.cfg.RedisAddr, "error", err)
		}
		slog.Info("serve: rate limiting backed by redis", "addr", a.cfg.RedisAddr)
		return ratelimit.NewLimiter(ratelimit.NewRedisStore(rdb)), func() {
			if err := rdb.Close(); err != nil {
				slog.Warn("serve: redis close", "error", err)
			}
		}
	}

	mem := ratelimit.NewMemoryStore()
	mem.StartJanitor(ctx, janitorInterval)
	return ratelimit.NewLimiter(mem), func() {}
}
