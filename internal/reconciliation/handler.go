package reconciliation

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/core/common/validation"
	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/transport"
)

type RecordReaderAPI interface {
	Get(ctx context.Context, paymentID string) (*reconciliationDatamodel.Record, error)
	List(ctx context.Context, status reconciliationDatamodel.Status, limit int) ([]reconciliationDatamodel.Record, error)
}

type TrailAPI interface {
	Trail(ctx context.Context, paymentID string) ([]reconciliationDatamodel.AuditEntry, error)
}

type Handler struct {
	*transport.BaseHandler
	Records RecordReaderAPI
	Audit   TrailAPI
}

func NewHandler(baseHandler *transport.BaseHandler, records RecordReaderAPI, audit TrailAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Records:     records,
		Audit:       audit,
	}
}

var statuses = []string{
	string(reconciliationDatamodel.StatusInProgress),
	string(reconciliationDatamodel.StatusSucceeded),
	string(reconciliationDatamodel.StatusFailed),
	string(reconciliationDatamodel.StatusFailedRetryable),
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.WriteError(w, internal.NewValidationFieldError("limit", "limit must be a number", internal.ErrCodeValidationFailed))
			return
		}
		limit = n
	}

	v := validation.NewValidator()
	if status != "" {
		v.Field("status", status).OneOf(statuses, internal.ErrCodeValidationFailed)
	}
	v.Field("limit", limit).MinInt(1, internal.ErrCodeValidationFailed).MaxInt(500, internal.ErrCodeValidationFailed)
	if appErr := v.Validate(); appErr != nil {
		h.WriteError(w, appErr)
		return
	}

	records, err := h.Records.List(r.Context(), reconciliationDatamodel.Status(status), limit)
	if err != nil {
		h.WriteError(w, internal.NewInternalError("failed to list reconciliations", err))
		return
	}

	resp := make([]RecordResponse, 0, len(records))
	for i := range records {
		resp = append(resp, ToRecordResponse(&records[i]))
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		h.WriteError(w, internal.NewValidationFieldError("payment_id", "payment id is required", internal.ErrCodeValidationFailed))
		return
	}

	record, err := h.Records.Get(r.Context(), paymentID)
	if err != nil {
		h.WriteError(w, internal.NewInternalError("failed to load reconciliation", err))
		return
	}
	entries, err := h.Audit.Trail(r.Context(), paymentID)
	if err != nil {
		h.WriteError(w, internal.NewInternalError("failed to load audit trail", err))
		return
	}
	if record == nil && len(entries) == 0 {
		h.WriteError(w, internal.ErrRecordNotFound)
		return
	}

	resp := AuditTrailResponse{
		PaymentID: paymentID,
		Entries:   ToAuditEntryResponses(entries),
	}
	if record != nil {
		rr := ToRecordResponse(record)
		resp.Record = &rr
	}
	h.WriteJSON(w, http.StatusOK, resp)
}
