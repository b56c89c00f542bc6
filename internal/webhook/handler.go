package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	paymentgatewaytypes "github.com/cardvault/storefront/internal/core/datamodel/paymentgateway"
	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/observability"
	"github.com/cardvault/storefront/internal/reconciliation"
	"github.com/cardvault/storefront/internal/transport"
)

const maxBodyBytes = 64 << 10

type SubmitterAPI interface {
	Submit(ctx context.Context, paymentID string) Mode
}

type AuditAPI interface {
	Record(ctx context.Context, e reconciliation.Entry)
}

type Handler struct {
	*transport.BaseHandler
	dispatcher SubmitterAPI
	audit      AuditAPI
}

func NewHandler(baseHandler *transport.BaseHandler, dispatcher SubmitterAPI, audit AuditAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		dispatcher:  dispatcher,
		audit:       audit,
	}
}

type AckResponse struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
}

// HandlePaymentNotification always acknowledges. Whatever happens after the
// id is extracted is recorded in the audit log, never in the response.
func (h *Handler) HandlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	n, err := parseNotification(r)
	if err != nil {
		observability.RecordWebhookNotification("malformed")
		h.Logger.Warn("malformed payment notification", "error", err)
		h.audit.Record(r.Context(), reconciliation.Entry{
			PaymentID: n.paymentID,
			Outcome:   reconciliationDatamodel.OutcomeRejectedMalformed,
			Message:   err.Error(),
		})
		h.WriteJSON(w, http.StatusOK, AckResponse{Status: "ignored"})
		return
	}

	if !n.isPayment() {
		observability.RecordWebhookNotification("unsupported_topic")
		h.Logger.Info("ignoring notification topic", "topic", n.topic, "id", n.paymentID)
		h.audit.Record(r.Context(), reconciliation.Entry{
			PaymentID: n.paymentID,
			Outcome:   reconciliationDatamodel.OutcomeSkippedUnsupportedTopic,
			Message:   "unsupported topic " + n.topic,
			Details:   map[string]interface{}{"topic": n.topic},
		})
		h.WriteJSON(w, http.StatusOK, AckResponse{Status: "ignored"})
		return
	}

	mode := h.dispatcher.Submit(r.Context(), n.paymentID)
	observability.RecordWebhookNotification(string(mode))
	h.Logger.Info("payment notification accepted",
		"payment_id", n.paymentID,
		"mode", mode)

	h.WriteJSON(w, http.StatusOK, AckResponse{Status: "received", PaymentID: n.paymentID})
}

type notification struct {
	topic     string
	paymentID string
}

func (n notification) isPayment() bool {
	return n.topic == "payment" || strings.HasPrefix(n.topic, "payment.")
}

type malformedError string

func (e malformedError) Error() string { return string(e) }

// parseNotification accepts the JSON body form and the query-string form.
// Only the topic and the payment id are read; everything else is untrusted.
func parseNotification(r *http.Request) (notification, error) {
	q := r.URL.Query()
	n := notification{
		topic:     firstNonEmpty(q.Get("type"), q.Get("topic")),
		paymentID: strings.TrimSpace(firstNonEmpty(q.Get("data.id"), q.Get("id"))),
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return n, malformedError("unreadable body")
	}
	if len(body) > maxBodyBytes {
		return n, malformedError("body too large")
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		var payload paymentgatewaytypes.Notification
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			if n.paymentID == "" {
				return n, malformedError("invalid json body")
			}
		} else {
			if t := firstNonEmpty(payload.Type, payload.Topic); t != "" {
				n.topic = t
			}
			if id := payload.Data.ID.String(); id != "" {
				n.paymentID = id
			}
			if n.topic == "" && strings.HasPrefix(payload.Action, "payment.") {
				n.topic = "payment"
			}
		}
	}

	n.topic = strings.ToLower(strings.TrimSpace(n.topic))
	if n.topic == "" {
		return n, malformedError("missing notification type")
	}
	if n.paymentID == "" {
		return n, malformedError("missing payment id")
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
