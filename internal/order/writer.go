package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/cardvault/storefront/internal"
	orderDatamodel "github.com/cardvault/storefront/internal/core/datamodel/order"
	"github.com/cardvault/storefront/internal/pricing"
)

type Writer struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewWriter(repo RepositoryAPI, logger *slog.Logger) *Writer {
	return &Writer{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LinesTotal is the sum of quantity * paid unit price, rounded once.
func LinesTotal(lines []Line, decimals int) float64 {
	var total float64
	for _, l := range lines {
		total += float64(l.Quantity) * l.UnitPrice
	}
	return pricing.Round(total, decimals)
}

// Write inserts exactly one order for the draft's payment.
func (w *Writer) Write(ctx context.Context, d Draft) (*orderDatamodel.Order, error) {
	if d.PaymentID == "" {
		return nil, internal.NewValidationError("payment id is required", internal.ErrCodeValidationFailed)
	}
	if len(d.Lines) == 0 {
		return nil, internal.NewValidationError("order needs at least one line", internal.ErrCodeInvalidQuantity)
	}

	o := w.build(d)
	if err := w.repo.Create(ctx, o); err != nil {
		if errors.Is(err, internal.ErrOrderAlreadyExists) {
			w.logger.Warn("order already exists for payment", "payment_id", d.PaymentID)
			return nil, err
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	w.logger.Info("order created",
		"order_id", o.ID,
		"payment_id", o.PaymentID,
		"total_amount", o.TotalAmount,
		"items", len(o.Items))
	return o, nil
}

func (w *Writer) build(d Draft) *orderDatamodel.Order {
	id := uuid.NewString()
	items := make([]orderDatamodel.Item, 0, len(d.Lines))
	for _, l := range d.Lines {
		items = append(items, orderDatamodel.Item{
			OrderID:             id,
			ProductID:           l.ProductID,
			CardID:              l.CardID,
			Variant:             l.Variant,
			Title:               l.Title,
			Quantity:            l.Quantity,
			UnitPrice:           l.UnitPrice,
			RecomputedUnitPrice: l.RecomputedUnitPrice,
			LineTotal:           pricing.Round(float64(l.Quantity)*l.UnitPrice, d.CurrencyDecimals),
		})
	}

	status := d.Status
	if status == "" {
		status = orderDatamodel.StatusApproved
	}

	var address datatypes.JSON
	if len(d.Shipping.Address) > 0 {
		address = datatypes.JSON(d.Shipping.Address)
	}

	return &orderDatamodel.Order{
		ID:                id,
		PaymentID:         d.PaymentID,
		ExternalReference: d.ExternalReference,
		CustomerEmail:     d.CustomerEmail,
		TotalAmount:       LinesTotal(d.Lines, d.CurrencyDecimals),
		Currency:          d.Currency,
		GatewayFeeAmount:  d.GatewayFeeAmount,
		NetReceivedAmount: d.NetReceivedAmount,
		TransactionAmount: d.TransactionAmount,
		AmountMismatch:    d.AmountMismatch,
		ShippingMethod:    d.Shipping.Method,
		ShippingCost:      d.Shipping.Cost,
		ShippingAddress:   address,
		SaveAddress:       d.Shipping.SaveAddress,
		SavePhone:         d.Shipping.SavePhone,
		Status:            status,
		CreatedAt:         w.now(),
		PaidAt:            d.PaidAt,
		Items:             items,
	}
}

func (w *Writer) GetByPaymentID(ctx context.Context, paymentID string) (*orderDatamodel.Order, error) {
	return w.repo.GetByPaymentID(ctx, paymentID)
}
