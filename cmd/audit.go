package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/reconciliation"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the reconciliation audit log",
}

var auditShowCmd = &cobra.Command{
	Use:   "show [payment-id]",
	Short: "Print the record and audit trail for one payment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		paymentID := args[0]
		record, err := p.Records.Get(cmd.Context(), paymentID)
		if err != nil {
			return err
		}
		entries, err := p.Audit.Trail(cmd.Context(), paymentID)
		if err != nil {
			return err
		}
		if record == nil && len(entries) == 0 {
			return internal.ErrRecordNotFound
		}

		resp := reconciliation.AuditTrailResponse{
			PaymentID: paymentID,
			Entries:   reconciliation.ToAuditEntryResponses(entries),
		}
		if record != nil {
			r := reconciliation.ToRecordResponse(record)
			resp.Record = &r
		}
		return printJSON(resp)
	},
}

func init() {
	auditCmd.AddCommand(auditShowCmd)
}
