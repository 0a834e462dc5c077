package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/core/events"
	"github.com/frahmantamala/qrpay/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Publish synthetic settlement events to check the bus and the Kafka forwarder`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test settlement event",
	Long:  `Publish a synthetic settlement event (e.g. order.paid) to the event bus and, when enabled, to Kafka`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent(args[0])
	},
}

var (
	eventOrderID string
	eventPrice   string
)

func publishTestEvent(eventType string) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Setup(logger.Options{
		Env:    os.Getenv("APP_ENV"),
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})

	cents, err := strconv.ParseInt(eventPrice, 10, 64)
	if err != nil {
		log.Error("price must be integer cents", "price", eventPrice)
		return
	}

	bus := events.NewEventBus(log)
	bus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
		log.Info("test handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	forwarder := attachForwarder(cfg, bus)
	if forwarder != nil {
		defer forwarder.Close()
	}

	event := events.NewSettlementEvent(eventType, events.OrderSnapshot{
		OrderID:         eventOrderID,
		MerchantOrderID: "cli-" + eventOrderID,
		PaymentType:     1,
		PriceCents:      cents,
		SlotCents:       cents,
	})

	log.Info("publishing test event", "event_type", eventType, "event_id", event.ID)

	if err := bus.PublishSync(context.Background(), event); err != nil {
		log.Error("failed to publish event", "error", err)
		return
	}
	log.Info("test event published successfully")
}

func attachForwarder(cfg *internal.Config, bus *events.EventBus) *events.KafkaForwarder {
	if !cfg.Kafka.Enabled {
		return nil
	}
	f := events.NewKafkaForwarder(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger.LoggerWrapper())
	f.Attach(bus)
	return f
}

func init() {
	publishEventCmd.Flags().StringVar(&eventOrderID, "order-id", "cli-test", "Order id carried by the event")
	publishEventCmd.Flags().StringVar(&eventPrice, "price-cents", "100", "Price in cents carried by the event")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
