package reconciliation

import (
	"encoding/json"
	"time"

	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
)

type RecordResponse struct {
	PaymentID   string     `json:"payment_id"`
	Status      string     `json:"status"`
	Retryable   bool       `json:"retryable"`
	ReasonCode  string     `json:"reason_code,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	OrderID     *string    `json:"order_id,omitempty"`
	Attempts    int        `json:"attempts"`
	StartedAt   time.Time  `json:"started_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type AuditEntryResponse struct {
	ID         string          `json:"id"`
	Outcome    string          `json:"outcome"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Message    string          `json:"message,omitempty"`
	OrderID    *string         `json:"order_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type AuditTrailResponse struct {
	PaymentID string               `json:"payment_id"`
	Record    *RecordResponse      `json:"record,omitempty"`
	Entries   []AuditEntryResponse `json:"entries"`
}

func ToRecordResponse(r *reconciliationDatamodel.Record) RecordResponse {
	return RecordResponse{
		PaymentID:   r.PaymentID,
		Status:      string(r.Status),
		Retryable:   r.Retryable,
		ReasonCode:  r.ReasonCode,
		Reason:      r.Reason,
		OrderID:     r.OrderID,
		Attempts:    r.Attempts,
		StartedAt:   r.StartedAt,
		ProcessedAt: r.ProcessedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func ToAuditEntryResponses(entries []reconciliationDatamodel.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp := AuditEntryResponse{
			ID:         e.ID,
			Outcome:    string(e.Outcome),
			ErrorCode:  e.ErrorCode,
			Message:    e.Message,
			OrderID:    e.OrderID,
			OccurredAt: e.OccurredAt,
		}
		if len(e.Details) > 0 {
			resp.Details = json.RawMessage(e.Details)
		}
		out = append(out, resp)
	}
	return out
}
