package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cardvault/storefront/internal"
	paymentgatewaytypes "github.com/cardvault/storefront/internal/core/datamodel/paymentgateway"
	"github.com/cardvault/storefront/internal/observability"
	"github.com/cardvault/storefront/internal/paymentgateway"
)

// PaymentFetcher retrieves the authoritative payment by id.
type PaymentFetcher interface {
	FetchPayment(ctx context.Context, paymentID string) (*paymentgatewaytypes.Payment, error)
}

// Verifier turns an untrusted "payment X changed" claim into a trusted,
// approved payment or a taxonomy error. Nothing in the notification body
// other than the id is ever consulted.
type Verifier struct {
	fetcher     PaymentFetcher
	collectorID string
	logger      *slog.Logger
}

func NewVerifier(fetcher PaymentFetcher, collectorID string, logger *slog.Logger) *Verifier {
	return &Verifier{
		fetcher:     fetcher,
		collectorID: strings.TrimSpace(collectorID),
		logger:      logger,
	}
}

func (v *Verifier) Verify(ctx context.Context, paymentID string) (*paymentgatewaytypes.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, internal.ErrInvalidPayment.WithDetails(map[string]string{"reason": "empty payment id"})
	}

	start := time.Now()
	payment, err := v.fetcher.FetchPayment(ctx, paymentID)
	switch {
	case errors.Is(err, paymentgateway.ErrPaymentNotFound):
		observability.RecordGatewayLookup("not_found", time.Since(start))
		v.logger.Warn("notification for unknown payment", "payment_id", paymentID)
		return nil, internal.ErrInvalidPayment.WithCause(err)
	case err != nil:
		observability.RecordGatewayLookup("error", time.Since(start))
		return nil, internal.ErrUpstreamLookupFailure.WithCause(err)
	}
	observability.RecordGatewayLookup("ok", time.Since(start))

	if payment == nil || payment.ID.String() == "" {
		v.logger.Warn("gateway returned a payment without id", "payment_id", paymentID)
		return nil, internal.ErrInvalidPayment.WithDetails(map[string]string{"reason": "payment without id"})
	}
	if payment.ID.String() != paymentID {
		v.logger.Warn("gateway returned a different payment", "payment_id", paymentID, "returned_id", payment.ID.String())
		return nil, internal.ErrInvalidPayment.WithDetails(map[string]string{"reason": "payment id mismatch"})
	}
	if v.collectorID != "" && payment.CollectorID.String() != v.collectorID {
		v.logger.Warn("payment belongs to another collector",
			"payment_id", paymentID,
			"collector_id", payment.CollectorID.String())
		return nil, internal.ErrInvalidPayment.WithDetails(map[string]string{"reason": "collector mismatch"})
	}

	status := paymentgatewaytypes.NormalizeStatus(payment.Status)
	if status != paymentgatewaytypes.PaymentStatusApproved {
		return payment, internal.ErrNoActionNeeded.WithDetails(map[string]string{
			"status":        payment.Status,
			"status_detail": payment.StatusDetail,
		})
	}

	return payment, nil
}
