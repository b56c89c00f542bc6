package order

import (
	"context"
	"encoding/json"
	"time"

	orderDatamodel "github.com/cardvault/storefront/internal/core/datamodel/order"
)

type RepositoryAPI interface {
	// Create inserts the order and its items atomically. A second order for
	// the same payment id returns internal.ErrOrderAlreadyExists.
	Create(ctx context.Context, order *orderDatamodel.Order) error
	GetByPaymentID(ctx context.Context, paymentID string) (*orderDatamodel.Order, error)
}

// Line is one paid line item. UnitPrice is what the customer paid;
// RecomputedUnitPrice is what the price engine says today.
type Line struct {
	ProductID           string
	CardID              string
	Variant             string
	Title               string
	Quantity            int
	UnitPrice           float64
	RecomputedUnitPrice float64
}

type Shipping struct {
	Method      string
	Cost        float64
	Address     json.RawMessage
	SaveAddress bool
	SavePhone   bool
}

// Draft carries everything the writer needs; it is built only after every
// stock decrement for the payment committed.
type Draft struct {
	PaymentID         string
	ExternalReference string
	CustomerEmail     string
	Currency          string
	CurrencyDecimals  int
	Status            string
	Lines             []Line
	GatewayFeeAmount  float64
	NetReceivedAmount float64
	TransactionAmount float64
	AmountMismatch    bool
	Shipping          Shipping
	PaidAt            *time.Time
}
