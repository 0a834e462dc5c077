package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/qrpay/internal/core/events"
	"github.com/frahmantamala/qrpay/internal/sweeper"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that run outside the HTTP server: the expiry sweeper and the settlement event consumer.`,
}

var sweepWorkerCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the expiry sweeper",
	Long:  `Expire overdue orders, drop orphaned slots and flag a silent monitor agent on the configured schedule`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweepWorker()
	},
}

var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Consume settlement events",
	Long:  `Consume settlement events forwarded to Kafka and log them through the event bus`,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var (
	sweepOnce     bool
	sweepSchedule string
	consumerGroup string
)

func startSweepWorker() {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	logger := app.Logger

	if sweepOnce {
		res, err := app.Sweeper.Sweep(context.Background())
		if err != nil {
			logger.Error("sweep failed", "error", err)
			return
		}
		logger.Info("sweep complete",
			"expired", res.Expired,
			"orphans_purged", res.OrphansPurged,
			"monitor_down", res.MonitorDown)
		return
	}

	scheduler, err := sweeper.NewScheduler(app.Sweeper, getStringFlag(sweepSchedule, cfg.Sweeper.Schedule), logger)
	if err != nil {
		logger.Error("failed to create sweep scheduler", "error", err)
		return
	}
	scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("sweep worker is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	logger.Info("received signal, shutting down sweep worker", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	scheduler.Stop(ctx)
}

func startEventWorker() {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	logger := app.Logger

	if !cfg.Kafka.Enabled {
		logger.Error("event worker needs kafka.enabled")
		return
	}

	bus := events.NewEventBus(logger)
	bus.Subscribe(events.AllEvents, func(ctx context.Context, event events.Event) error {
		logger.Info("settlement event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"occurred_at", event.OccurredAt().Format(time.RFC3339),
			"payload", event.Payload())
		return nil
	})

	consumer := events.NewKafkaConsumer(events.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, consumerGroup), bus, logger)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("event worker started. Waiting for events...", "topic", cfg.Kafka.Topic, "group", consumerGroup)
	if err := consumer.Run(ctx); err != nil {
		logger.Error("event worker stopped", "error", err)
		return
	}
	logger.Info("event worker shutdown complete")
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func init() {
	sweepWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep pass and exit")
	sweepWorkerCmd.Flags().StringVar(&sweepSchedule, "schedule", "", "Cron schedule (overrides config)")
	eventWorkerCmd.Flags().StringVar(&consumerGroup, "group", "qrpay-events", "Kafka consumer group")

	workerCmd.AddCommand(sweepWorkerCmd)
	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
