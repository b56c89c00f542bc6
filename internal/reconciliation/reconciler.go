package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/core/datamodel/inventory"
	orderDatamodel "github.com/cardvault/storefront/internal/core/datamodel/order"
	paymentgatewaytypes "github.com/cardvault/storefront/internal/core/datamodel/paymentgateway"
	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/core/events"
	ledger "github.com/cardvault/storefront/internal/inventory"
	"github.com/cardvault/storefront/internal/observability"
	"github.com/cardvault/storefront/internal/order"
	"github.com/cardvault/storefront/internal/pricing"
	"github.com/cardvault/storefront/pkg/logger"
)

type LedgerAPI interface {
	Get(ctx context.Context, key ledger.Key) (*inventory.Unit, error)
	DecrementBatch(ctx context.Context, lines []ledger.Line) (map[ledger.Key]int, error)
}

type OrderWriterAPI interface {
	Write(ctx context.Context, d order.Draft) (*orderDatamodel.Order, error)
}

type PricerAPI interface {
	ListedPrice(ctx context.Context, marketPriceUSD float64) (float64, error)
	Currency() string
	CurrencyDecimals() int
}

// Result is what one reconciliation attempt ended in.
type Result struct {
	PaymentID string
	Outcome   reconciliationDatamodel.Outcome
	OrderID   string
	Err       error
}

// finishTimeout bounds the writes that close an attempt: the order after a
// committed decrement, the record state and the audit entry.
const finishTimeout = 10 * time.Second

// detach keeps the caller's values but not its cancellation. A record left
// in_progress by an ack timeout or a client disconnect would swallow every
// redelivery, and committed stock must always end up in an order.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

// Reconciler drives one payment through verify, claim, decrement, write and
// audit. It never returns an error to its caller; every outcome is audited.
type Reconciler struct {
	verifier *Verifier
	guard    *Guard
	ledger   LedgerAPI
	orders   OrderWriterAPI
	pricer   PricerAPI
	audit    *AuditLog
	events   events.Publisher
	logger   *slog.Logger
}

type Dependencies struct {
	Verifier *Verifier
	Guard    *Guard
	Ledger   LedgerAPI
	Orders   OrderWriterAPI
	Pricer   PricerAPI
	Audit    *AuditLog
	Events   events.Publisher
	Logger   *slog.Logger
}

func NewReconciler(deps Dependencies) *Reconciler {
	return &Reconciler{
		verifier: deps.Verifier,
		guard:    deps.Guard,
		ledger:   deps.Ledger,
		orders:   deps.Orders,
		pricer:   deps.Pricer,
		audit:    deps.Audit,
		events:   deps.Events,
		logger:   deps.Logger,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, paymentID string) Result {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "reconciliation.Reconcile",
		trace.WithAttributes(attribute.String("payment_id", paymentID)))
	defer span.End()

	res := r.reconcile(ctx, paymentID)

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	if res.Err != nil && res.Outcome != reconciliationDatamodel.OutcomeNoActionNeeded &&
		res.Outcome != reconciliationDatamodel.OutcomeDuplicateSkipped {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Outcome))
	}
	observability.RecordReconciliation(string(res.Outcome), time.Since(start))
	return res
}

func (r *Reconciler) reconcile(ctx context.Context, paymentID string) Result {
	log := logger.FromOr(ctx, r.logger).With("payment_id", paymentID)

	payment, err := r.verifier.Verify(ctx, paymentID)
	if err != nil {
		return r.rejectUnverified(ctx, paymentID, err)
	}

	decision, err := r.guard.Begin(ctx, paymentID)
	if err != nil {
		// nothing was claimed, so a redelivery starts cleanly
		log.Error("idempotency guard unavailable", "error", err)
		return r.finish(ctx, Entry{
			PaymentID: paymentID,
			Outcome:   reconciliationDatamodel.OutcomeFailed,
			ErrorCode: string(internal.ErrCodeStorageFailure),
			Message:   err.Error(),
		}, err)
	}
	if !decision.Proceed {
		details := map[string]interface{}{}
		if decision.Existing != nil {
			details["status"] = decision.Existing.Status
			details["attempts"] = decision.Existing.Attempts
			if decision.Existing.OrderID != nil {
				details["order_id"] = *decision.Existing.OrderID
			}
		}
		return r.finish(ctx, Entry{
			PaymentID: paymentID,
			Outcome:   reconciliationDatamodel.OutcomeDuplicateSkipped,
			ErrorCode: string(internal.ErrCodeAlreadyHandled),
			Message:   "payment already claimed",
			Details:   details,
		}, internal.ErrAlreadyHandled)
	}

	log.Info("reconciliation claimed", "attempt", decision.Attempt)
	return r.process(ctx, payment, decision.Attempt)
}

func (r *Reconciler) rejectUnverified(ctx context.Context, paymentID string, err error) Result {
	entry := Entry{PaymentID: paymentID, ErrorCode: string(internal.CodeOf(err)), Message: err.Error()}
	if appErr, ok := internal.IsAppError(err); ok {
		if d, ok := appErr.Details.(map[string]string); ok {
			entry.Details = map[string]interface{}{}
			for k, v := range d {
				entry.Details[k] = v
			}
		}
	}

	switch {
	case errors.Is(err, internal.ErrNoActionNeeded):
		entry.Outcome = reconciliationDatamodel.OutcomeNoActionNeeded
	case errors.Is(err, internal.ErrUpstreamLookupFailure):
		entry.Outcome = reconciliationDatamodel.OutcomeUpstreamLookupFailure
		r.logger.Error("payment lookup failed", "payment_id", paymentID, "error", err)
		r.publish(ctx, events.NewReconciliationFailedEvent(paymentID, entry.ErrorCode, err.Error(), true))
	default:
		entry.Outcome = reconciliationDatamodel.OutcomeInvalidPayment
		r.logger.Warn("suspicious notification", "payment_id", paymentID, "error", err)
	}
	return r.finish(ctx, entry, err)
}

func (r *Reconciler) process(ctx context.Context, payment *paymentgatewaytypes.Payment, attempt int) Result {
	paymentID := payment.ID.String()
	log := logger.FromOr(ctx, r.logger).With("payment_id", paymentID, "attempt", attempt)
	decimals := r.pricer.CurrencyDecimals()

	lines, err := r.buildLines(ctx, payment)
	if err != nil {
		return r.failTerminal(ctx, paymentID, reconciliationDatamodel.OutcomeInvalidPayment, internal.ErrCodeInvalidPayment, err, nil)
	}

	shipping := paymentgatewaytypes.ParseShipping(payment.Metadata)
	if shipping.State == paymentgatewaytypes.ShippingMalformed {
		log.Warn("shipping metadata malformed, continuing without it")
	}

	itemsTotal := order.LinesTotal(lines, decimals)
	expected := pricing.Round(itemsTotal+shipping.Cost, decimals)
	mismatch := math.Abs(expected-pricing.Round(payment.TransactionAmount, decimals)) > unitTolerance(decimals)
	if mismatch {
		log.Warn("paid amount differs from line items",
			"items_total", itemsTotal,
			"shipping_cost", shipping.Cost,
			"transaction_amount", payment.TransactionAmount)
		r.audit.Record(ctx, Entry{
			PaymentID: paymentID,
			Outcome:   reconciliationDatamodel.OutcomeAmountMismatch,
			Message:   "transaction amount does not match items plus shipping",
			Details: map[string]interface{}{
				"items_total":        itemsTotal,
				"shipping_cost":      shipping.Cost,
				"expected_amount":    expected,
				"transaction_amount": payment.TransactionAmount,
			},
		})
	}

	requests := make([]ledger.Line, 0, len(lines))
	for _, l := range lines {
		requests = append(requests, ledger.Line{
			Key:      ledger.Key{CardID: l.CardID, Variant: inventory.Variant(l.Variant)},
			Quantity: l.Quantity,
		})
	}

	dctx, span := observability.Tracer().Start(ctx, "inventory.DecrementBatch")
	remaining, err := r.ledger.DecrementBatch(dctx, requests)
	if err != nil {
		span.RecordError(err)
		span.End()
		if ledger.IsInsufficientStock(err) {
			return r.failTerminal(ctx, paymentID, reconciliationDatamodel.OutcomeInsufficientStock, internal.ErrCodeInsufficientStock, err, nil)
		}
		// the batch transaction rolled back, so nothing changed
		return r.failRetryable(ctx, paymentID, err)
	}
	span.End()

	decrements := make(map[string]int, len(requests))
	for _, req := range requests {
		decrements[req.Key.String()] += req.Quantity
	}

	// stock has left the shelf; from here on nothing may be cut short
	fctx, cancel := detach(ctx)
	defer cancel()

	draft := order.Draft{
		PaymentID:         paymentID,
		ExternalReference: payment.ExternalReference,
		CustomerEmail:     payment.Payer.Email,
		Currency:          currencyOf(payment, r.pricer.Currency()),
		CurrencyDecimals:  decimals,
		Status:            string(paymentgatewaytypes.PaymentStatusApproved),
		Lines:             lines,
		GatewayFeeAmount:  payment.TotalFees(),
		NetReceivedAmount: payment.TransactionDetails.NetReceivedAmount,
		TransactionAmount: payment.TransactionAmount,
		AmountMismatch:    mismatch,
		PaidAt:            payment.DateApproved,
	}
	if shipping.State == paymentgatewaytypes.ShippingPresent {
		draft.Shipping = order.Shipping{
			Method:      shipping.Method,
			Cost:        shipping.Cost,
			Address:     shipping.Address,
			SaveAddress: shipping.SaveAddress,
			SavePhone:   shipping.SavePhone,
		}
	}

	octx, ospan := observability.Tracer().Start(fctx, "order.Write")
	created, err := r.orders.Write(octx, draft)
	if err != nil {
		ospan.RecordError(err)
		ospan.End()
		log.Error("order write failed after stock decrement",
			"error", err,
			"decrements", decrements)
		r.publish(fctx, events.NewManualReviewRequiredEvent(paymentID, err.Error(), decrements))
		return r.failTerminal(fctx, paymentID,
			reconciliationDatamodel.OutcomeOrderWriteFailedAfterDecrement,
			internal.ErrCodeOrderWriteFailure,
			internal.ErrOrderWriteFailure.WithCause(err),
			map[string]interface{}{"decrements": decrements})
	}
	ospan.End()

	if err := r.guard.Succeed(fctx, paymentID, created.ID); err != nil {
		// the record stays in_progress and shows up in the pending report
		log.Error("failed to close reconciliation record", "order_id", created.ID, "error", err)
	}

	details := map[string]interface{}{
		"total_amount":    created.TotalAmount,
		"decrements":      decrements,
		"remaining":       remainingByKey(remaining),
		"shipping":        shipping.State.String(),
		"amount_mismatch": mismatch,
	}
	r.publish(fctx, events.NewOrderCreatedEvent(created.ID, paymentID, created.ExternalReference,
		created.CustomerEmail, created.TotalAmount, created.Currency))

	return r.finish(fctx, Entry{
		PaymentID: paymentID,
		Outcome:   reconciliationDatamodel.OutcomeSucceeded,
		OrderID:   created.ID,
		Message:   "order created",
		Details:   details,
	}, nil)
}

// buildLines converts gateway items into order lines and records price drift
// against the listed price the engine would produce today. The paid price is
// always kept.
func (r *Reconciler) buildLines(ctx context.Context, payment *paymentgatewaytypes.Payment) ([]order.Line, error) {
	items := payment.AdditionalInfo.Items
	if len(items) == 0 {
		return nil, fmt.Errorf("approved payment carries no line items")
	}

	decimals := r.pricer.CurrencyDecimals()
	lines := make([]order.Line, 0, len(items))
	var drift []map[string]interface{}
	for _, item := range items {
		qty := float64(item.Quantity)
		if qty <= 0 || qty != math.Trunc(qty) {
			return nil, fmt.Errorf("item %q has invalid quantity %v", item.ID, qty)
		}
		if item.UnitPrice < 0 {
			return nil, fmt.Errorf("item %q has negative unit price", item.ID)
		}

		key := ledger.ParseProductID(item.ID)
		if key.CardID == "" {
			return nil, fmt.Errorf("item without product id")
		}

		paid := pricing.Round(float64(item.UnitPrice), decimals)
		recomputed := r.recomputePrice(ctx, key)
		if recomputed > 0 && recomputed != paid {
			drift = append(drift, map[string]interface{}{
				"product_id": item.ID,
				"paid":       paid,
				"recomputed": recomputed,
			})
		}

		lines = append(lines, order.Line{
			ProductID:           item.ID,
			CardID:              key.CardID,
			Variant:             string(key.Variant),
			Title:               item.Title,
			Quantity:            int(qty),
			UnitPrice:           paid,
			RecomputedUnitPrice: recomputed,
		})
	}

	if len(drift) > 0 {
		r.audit.Record(ctx, Entry{
			PaymentID: payment.ID.String(),
			Outcome:   reconciliationDatamodel.OutcomePriceDrift,
			Message:   "paid unit prices differ from current listed prices",
			Details:   map[string]interface{}{"lines": drift},
		})
	}
	return lines, nil
}

// recomputePrice returns 0 when no comparison is possible.
func (r *Reconciler) recomputePrice(ctx context.Context, key ledger.Key) float64 {
	unit, err := r.ledger.Get(ctx, key)
	if err != nil || unit == nil {
		return 0
	}
	if unit.MarketPriceUSD <= 0 {
		return unit.ListedPrice
	}
	price, err := r.pricer.ListedPrice(ctx, unit.MarketPriceUSD)
	if err != nil {
		r.logger.Warn("price recomputation failed", "card_id", key.CardID, "variant", key.Variant, "error", err)
		return 0
	}
	return price
}

func (r *Reconciler) failTerminal(ctx context.Context, paymentID string, outcome reconciliationDatamodel.Outcome, code internal.ErrorCode, cause error, details map[string]interface{}) Result {
	ctx, cancel := detach(ctx)
	defer cancel()

	if err := r.guard.Fail(ctx, paymentID, string(code), cause.Error(), false); err != nil {
		r.logger.Error("failed to close reconciliation record", "payment_id", paymentID, "error", err)
	}
	if outcome != reconciliationDatamodel.OutcomeOrderWriteFailedAfterDecrement {
		r.publish(ctx, events.NewReconciliationFailedEvent(paymentID, string(code), cause.Error(), false))
	}
	return r.finish(ctx, Entry{
		PaymentID: paymentID,
		Outcome:   outcome,
		ErrorCode: string(code),
		Message:   cause.Error(),
		Details:   details,
	}, cause)
}

func (r *Reconciler) failRetryable(ctx context.Context, paymentID string, cause error) Result {
	ctx, cancel := detach(ctx)
	defer cancel()

	r.logger.Error("reconciliation failed before any side effect", "payment_id", paymentID, "error", cause)
	if err := r.guard.Fail(ctx, paymentID, string(internal.ErrCodeStorageFailure), cause.Error(), true); err != nil {
		r.logger.Error("failed to release reconciliation record", "payment_id", paymentID, "error", err)
	}
	r.publish(ctx, events.NewReconciliationFailedEvent(paymentID, string(internal.ErrCodeStorageFailure), cause.Error(), true))
	return r.finish(ctx, Entry{
		PaymentID: paymentID,
		Outcome:   reconciliationDatamodel.OutcomeFailedRetryable,
		ErrorCode: string(internal.ErrCodeStorageFailure),
		Message:   cause.Error(),
	}, cause)
}

func (r *Reconciler) finish(ctx context.Context, e Entry, err error) Result {
	ctx, cancel := detach(ctx)
	defer cancel()

	r.audit.Record(ctx, e)
	return Result{
		PaymentID: e.PaymentID,
		Outcome:   e.Outcome,
		OrderID:   e.OrderID,
		Err:       err,
	}
}

func (r *Reconciler) publish(ctx context.Context, event events.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func currencyOf(p *paymentgatewaytypes.Payment, fallback string) string {
	if p.CurrencyID != "" {
		return p.CurrencyID
	}
	return fallback
}

// unitTolerance is half of the smallest currency unit.
func unitTolerance(decimals int) float64 {
	return math.Pow10(-decimals) / 2
}

func remainingByKey(m map[ledger.Key]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k.String()] = v
	}
	return out
}
