package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardvault/storefront/internal"
	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/core/events"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Re-emit domain events for downstream consumers that missed them`,
}

var replayEventCmd = &cobra.Command{
	Use:   "replay [payment-id]",
	Short: "Republish the terminal event of one reconciliation",
	Long:  `Rebuild order.created or reconciliation.failed from stored state and publish it through the event bus (and Kafka when enabled)`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return replayEvent(cmd.Context(), args[0])
	},
}

func replayEvent(ctx context.Context, paymentID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	lg := setupLogger(cfg)
	if !cfg.Kafka.Enabled {
		lg.Warn("kafka forwarding disabled, event will only reach in-process handlers")
	}

	p, err := buildPipeline(cfg, lg)
	if err != nil {
		return err
	}
	defer p.Close()

	record, err := p.Records.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if record == nil {
		return internal.ErrRecordNotFound
	}

	var event events.Event
	switch record.Status {
	case reconciliationDatamodel.StatusSucceeded:
		o, err := p.Orders.GetByPaymentID(ctx, paymentID)
		if err != nil {
			return err
		}
		if o == nil {
			return fmt.Errorf("record %s succeeded but no order is stored", paymentID)
		}
		event = events.NewOrderCreatedEvent(o.ID, o.PaymentID, o.ExternalReference, o.CustomerEmail, o.TotalAmount, o.Currency)
	case reconciliationDatamodel.StatusFailed, reconciliationDatamodel.StatusFailedRetryable:
		event = events.NewReconciliationFailedEvent(paymentID, record.ReasonCode, record.Reason, record.Retryable)
	default:
		return errors.New("reconciliation is still in progress, nothing to replay")
	}

	if err := p.Bus.PublishSync(ctx, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType(), err)
	}

	lg.Info("event replayed", "payment_id", paymentID, "event_type", event.EventType(), "event_id", event.EventID())
	return nil
}

func init() {
	eventCmd.AddCommand(replayEventCmd)
}
