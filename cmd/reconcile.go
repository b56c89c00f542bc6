package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardvault/storefront/internal/observability"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Operator reconciliation commands",
	Long:  `Drive a single payment through reconciliation or list reconciliations that need attention.`,
}

var reconcileRunCmd = &cobra.Command{
	Use:   "run [payment-id]",
	Short: "Reconcile one payment now",
	Long:  `Look the payment up at the gateway and reconcile it. The idempotency guard still applies, so an already handled payment is skipped.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd.Context(), args[0])
	},
}

var reconcilePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List stuck and manual-review reconciliations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listPending(cmd.Context())
	},
}

var pendingOlderThan time.Duration

func runReconcile(ctx context.Context, paymentID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	lg := setupLogger(cfg)

	shutdown, err := observability.InitTracing(cfg.Observability.Tracing, lg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	p, err := buildPipeline(cfg, lg)
	if err != nil {
		return err
	}
	defer p.Close()

	res := p.Reconciler.Reconcile(ctx, paymentID)

	out := map[string]interface{}{
		"payment_id": res.PaymentID,
		"outcome":    res.Outcome,
	}
	if res.OrderID != "" {
		out["order_id"] = res.OrderID
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return printJSON(out)
}

func listPending(ctx context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	lg := setupLogger(cfg)

	p, err := buildPipeline(cfg, lg)
	if err != nil {
		return err
	}
	defer p.Close()

	items, err := p.Report.Pending(ctx, pendingOlderThan, time.Now())
	if err != nil {
		return err
	}
	summary, err := p.Report.Summary(ctx)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"older_than": pendingOlderThan.String(),
		"pending":    items,
		"summary":    summary,
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	return nil
}

func init() {
	reconcilePendingCmd.Flags().DurationVar(&pendingOlderThan, "older-than", 10*time.Minute, "only list in_progress records not updated for this long")

	reconcileCmd.AddCommand(reconcileRunCmd)
	reconcileCmd.AddCommand(reconcilePendingCmd)
}
