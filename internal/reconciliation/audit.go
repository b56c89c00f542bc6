package reconciliation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
)

type AuditRepositoryAPI interface {
	Append(ctx context.Context, entry *reconciliationDatamodel.AuditEntry) error
	ListByPayment(ctx context.Context, paymentID string) ([]reconciliationDatamodel.AuditEntry, error)
}

// Entry is one audit record before persistence.
type Entry struct {
	PaymentID string
	Outcome   reconciliationDatamodel.Outcome
	ErrorCode string
	Message   string
	OrderID   string
	Details   map[string]interface{}
}

// AuditLog is append-only. Write failures are logged and swallowed: losing an
// audit row must not change what happened to stock or orders.
type AuditLog struct {
	repo   AuditRepositoryAPI
	logger *slog.Logger
}

func NewAuditLog(repo AuditRepositoryAPI, logger *slog.Logger) *AuditLog {
	return &AuditLog{
		repo:   repo,
		logger: logger,
	}
}

func (a *AuditLog) Record(ctx context.Context, e Entry) {
	row := &reconciliationDatamodel.AuditEntry{
		ID:         uuid.NewString(),
		PaymentID:  e.PaymentID,
		Outcome:    e.Outcome,
		ErrorCode:  e.ErrorCode,
		Message:    e.Message,
		OccurredAt: time.Now().UTC(),
	}
	if e.OrderID != "" {
		orderID := e.OrderID
		row.OrderID = &orderID
	}
	if len(e.Details) > 0 {
		if raw, err := json.Marshal(e.Details); err == nil {
			row.Details = datatypes.JSON(raw)
		} else {
			a.logger.Warn("audit details not serializable", "payment_id", e.PaymentID, "error", err)
		}
	}

	if err := a.repo.Append(ctx, row); err != nil {
		a.logger.Error("failed to append audit entry",
			"payment_id", e.PaymentID,
			"outcome", e.Outcome,
			"error", err)
		return
	}

	a.logger.Info("reconciliation audited",
		"payment_id", e.PaymentID,
		"outcome", e.Outcome,
		"error_code", e.ErrorCode,
		"order_id", e.OrderID)
}

func (a *AuditLog) Trail(ctx context.Context, paymentID string) ([]reconciliationDatamodel.AuditEntry, error) {
	return a.repo.ListByPayment(ctx, paymentID)
}
