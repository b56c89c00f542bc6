package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderCreated         = "order.created"
	EventTypeReconciliationFailed = "reconciliation.failed"
	EventTypeManualReviewRequired = "reconciliation.manual_review_required"
)

type OrderCreatedEvent struct {
	BaseEvent
	OrderID           string  `json:"order_id"`
	PaymentID         string  `json:"payment_id"`
	ExternalReference string  `json:"external_reference"`
	CustomerEmail     string  `json:"customer_email"`
	TotalAmount       float64 `json:"total_amount"`
	Currency          string  `json:"currency"`
}

func NewOrderCreatedEvent(orderID, paymentID, externalRef, email string, total float64, currency string) *OrderCreatedEvent {
	return &OrderCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":           orderID,
				"payment_id":         paymentID,
				"external_reference": externalRef,
				"customer_email":     email,
				"total_amount":       total,
				"currency":           currency,
			},
		},
		OrderID:           orderID,
		PaymentID:         paymentID,
		ExternalReference: externalRef,
		CustomerEmail:     email,
		TotalAmount:       total,
		Currency:          currency,
	}
}

type ReconciliationFailedEvent struct {
	BaseEvent
	PaymentID string `json:"payment_id"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

func NewReconciliationFailedEvent(paymentID, code, reason string, retryable bool) *ReconciliationFailedEvent {
	return &ReconciliationFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeReconciliationFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id": paymentID,
				"code":       code,
				"reason":     reason,
				"retryable":  retryable,
			},
		},
		PaymentID: paymentID,
		Code:      code,
		Reason:    reason,
		Retryable: retryable,
	}
}

// ManualReviewRequiredEvent is raised when stock left the shelf but no order
// was recorded for it.
type ManualReviewRequiredEvent struct {
	BaseEvent
	PaymentID  string         `json:"payment_id"`
	Reason     string         `json:"reason"`
	Decrements map[string]int `json:"decrements"`
}

func NewManualReviewRequiredEvent(paymentID, reason string, decrements map[string]int) *ManualReviewRequiredEvent {
	return &ManualReviewRequiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeManualReviewRequired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id": paymentID,
				"reason":     reason,
				"decrements": decrements,
			},
		},
		PaymentID:  paymentID,
		Reason:     reason,
		Decrements: decrements,
	}
}
