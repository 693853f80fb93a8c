package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-fulfillment/app/service"
	"github.com/vibast-solutions/ms-go-fulfillment/config"
)

var (
	workerMode bool
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Run notification related commands",
}

var notificationsDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Dispatch queued order notifications to the notification endpoint",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"notifications_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.NotificationDispatchInterval },
			func(s *service.FulfillmentService, ctx context.Context) error {
				return s.RunDispatchNotificationsBatch(ctx)
			},
		)
	},
}

var deferredCmd = &cobra.Command{
	Use:   "deferred",
	Short: "Run deferred event related commands",
}

var deferredReprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Retry deferred out-of-order webhook events",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"deferred_reprocess",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.DeferredReprocessInterval },
			func(s *service.FulfillmentService, ctx context.Context) error {
				return s.RunReprocessDeferredBatch(ctx)
			},
		)
	},
}

var idempotencyCmd = &cobra.Command{
	Use:   "idempotency",
	Short: "Run idempotency store related commands",
}

var idempotencyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired idempotency records and aged delivery records",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"idempotency_prune",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.IdempotencyPruneInterval },
			func(s *service.FulfillmentService, ctx context.Context) error {
				return s.RunPruneIdempotencyBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(deferredCmd)
	rootCmd.AddCommand(idempotencyCmd)
	notificationsCmd.AddCommand(notificationsDispatchCmd)
	deferredCmd.AddCommand(deferredReprocessCmd)
	idempotencyCmd.AddCommand(idempotencyPruneCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.FulfillmentService, ctx context.Context) error,
) {
	cfg, fulfillmentService, cleanup := mustCreateFulfillmentService()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), fulfillmentService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(fulfillmentService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	fulfillmentService *service.FulfillmentService,
	fn func(s *service.FulfillmentService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(fulfillmentService, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(fulfillmentService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
