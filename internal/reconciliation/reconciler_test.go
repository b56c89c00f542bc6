package reconciliation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/cardvault/storefront/internal"
	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
	orderDatamodel "github.com/cardvault/storefront/internal/core/datamodel/order"
	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/core/events"
	"github.com/cardvault/storefront/internal/inventory"
	inventoryPostgres "github.com/cardvault/storefront/internal/inventory/postgres"
	"github.com/cardvault/storefront/internal/order"
	orderPostgres "github.com/cardvault/storefront/internal/order/postgres"
	"github.com/cardvault/storefront/internal/reconciliation"
	reconciliationPostgres "github.com/cardvault/storefront/internal/reconciliation/postgres"
)

// flakyLedger fails the first n batch decrements with a storage error.
type flakyLedger struct {
	reconciliation.LedgerAPI
	mu       sync.Mutex
	failures int
}

func (f *flakyLedger) DecrementBatch(ctx context.Context, lines []inventory.Line) (map[inventory.Key]int, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	f.mu.Unlock()
	return f.LedgerAPI.DecrementBatch(ctx, lines)
}

// cancellingLedger cancels the caller's context right before the batch
// decrement, the way an ack timeout or a client disconnect would.
type cancellingLedger struct {
	reconciliation.LedgerAPI
	cancel context.CancelFunc
}

func (c *cancellingLedger) DecrementBatch(ctx context.Context, lines []inventory.Line) (map[inventory.Key]int, error) {
	c.cancel()
	return c.LedgerAPI.DecrementBatch(ctx, lines)
}

type brokenWriter struct{}

func (brokenWriter) Write(context.Context, order.Draft) (*orderDatamodel.Order, error) {
	return nil, errors.New("disk full")
}

var _ = Describe("Reconciler", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		gateway   *fakeGateway
		ledger    *inventory.Ledger
		records   reconciliation.RecordRepositoryAPI
		audit     *reconciliation.AuditLog
		publisher *recordingPublisher
		deps      reconciliation.Dependencies

		tidecaller = inventory.Key{CardID: "tfc-1", Variant: inventoryDatamodel.VariantNormal}
		stormfoil  = inventory.Key{CardID: "tfc-9", Variant: inventoryDatamodel.VariantFoil}
	)

	seed := func(key inventory.Key, available int, listed float64) {
		Expect(ledger.Upsert(ctx, &inventoryDatamodel.Unit{
			CardID:      key.CardID,
			Variant:     key.Variant,
			Available:   available,
			ListedPrice: listed,
		})).To(Succeed())
	}

	availableOf := func(key inventory.Key) int {
		unit, err := ledger.Get(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		return unit.Available
	}

	orderCount := func() int64 {
		var n int64
		Expect(db.Model(&orderDatamodel.Order{}).Count(&n).Error).To(Succeed())
		return n
	}

	recordOf := func(paymentID string) *reconciliationDatamodel.Record {
		rec, err := records.Get(ctx, paymentID)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec).NotTo(BeNil())
		return rec
	}

	outcomesOf := func(paymentID string) []reconciliationDatamodel.Outcome {
		entries, err := audit.Trail(ctx, paymentID)
		Expect(err).NotTo(HaveOccurred())
		out := make([]reconciliationDatamodel.Outcome, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Outcome)
		}
		return out
	}

	build := func() *reconciliation.Reconciler {
		return reconciliation.NewReconciler(deps)
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB()
		gateway = newFakeGateway()
		ledger = inventory.NewLedger(inventoryPostgres.NewInventoryRepository(db), testLogger)
		records = reconciliationPostgres.NewRecordRepository(db)
		audit = reconciliation.NewAuditLog(reconciliationPostgres.NewAuditRepository(db), testLogger)
		publisher = &recordingPublisher{}

		deps = reconciliation.Dependencies{
			Verifier: reconciliation.NewVerifier(gateway, "999", testLogger),
			Guard:    reconciliation.NewGuard(records, testLogger),
			Ledger:   ledger,
			Orders:   order.NewWriter(orderPostgres.NewOrderRepository(db), testLogger),
			Pricer:   &fakePricer{listed: map[float64]float64{}},
			Audit:    audit,
			Events:   publisher,
			Logger:   testLogger,
		}
	})

	Context("an approved payment", func() {
		BeforeEach(func() {
			seed(tidecaller, 5, 1000)
			gateway.put(approvedPayment("pay_123", 2000, paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000}))
		})

		It("creates the order and decrements stock", func() {
			// When
			res := build().Reconcile(ctx, "pay_123")

			// Then
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeSucceeded))
			Expect(res.OrderID).NotTo(BeEmpty())
			Expect(availableOf(tidecaller)).To(Equal(3))

			created, err := orderPostgres.NewOrderRepository(db).GetByPaymentID(ctx, "pay_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(created.TotalAmount).To(Equal(2000.0))
			Expect(created.Currency).To(Equal("CLP"))
			Expect(created.AmountMismatch).To(BeFalse())
			Expect(created.Items).To(HaveLen(1))
			Expect(created.Items[0].Quantity).To(Equal(2))
			Expect(created.Items[0].CardID).To(Equal("tfc-1"))

			rec := recordOf("pay_123")
			Expect(rec.Status).To(Equal(reconciliationDatamodel.StatusSucceeded))
			Expect(*rec.OrderID).To(Equal(res.OrderID))
			Expect(outcomesOf("pay_123")).To(Equal([]reconciliationDatamodel.Outcome{reconciliationDatamodel.OutcomeSucceeded}))
			Expect(publisher.types()).To(ContainElement(events.EventTypeOrderCreated))
		})

		It("skips a redelivery without touching stock", func() {
			// Given
			r := build()
			first := r.Reconcile(ctx, "pay_123")
			Expect(first.Outcome).To(Equal(reconciliationDatamodel.OutcomeSucceeded))

			// When
			second := r.Reconcile(ctx, "pay_123")

			// Then
			Expect(second.Outcome).To(Equal(reconciliationDatamodel.OutcomeDuplicateSkipped))
			Expect(errors.Is(second.Err, internal.ErrAlreadyHandled)).To(BeTrue())
			Expect(availableOf(tidecaller)).To(Equal(3))
			Expect(orderCount()).To(Equal(int64(1)))
		})

		It("creates one order when the same notification arrives concurrently", func() {
			// Given
			r := build()
			const deliveries = 8
			results := make([]reconciliation.Result, deliveries)

			// When
			var wg sync.WaitGroup
			for i := 0; i < deliveries; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					results[i] = r.Reconcile(ctx, "pay_123")
				}(i)
			}
			wg.Wait()

			// Then
			succeeded := 0
			for _, res := range results {
				if res.Outcome == reconciliationDatamodel.OutcomeSucceeded {
					succeeded++
					continue
				}
				Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeDuplicateSkipped))
			}
			Expect(succeeded).To(Equal(1))
			Expect(orderCount()).To(Equal(int64(1)))
			Expect(availableOf(tidecaller)).To(Equal(3))
		})

		It("flags a paid amount that does not match the items", func() {
			gateway.put(approvedPayment("pay_123", 2500, paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000}))

			res := build().Reconcile(ctx, "pay_123")

			Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeSucceeded))
			created, err := orderPostgres.NewOrderRepository(db).GetByPaymentID(ctx, "pay_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(created.AmountMismatch).To(BeTrue())
			Expect(created.TotalAmount).To(Equal(2000.0))
			Expect(outcomesOf("pay_123")).To(ContainElement(reconciliationDatamodel.OutcomeAmountMismatch))
		})

		It("counts shipping from metadata toward the paid amount", func() {
			p := approvedPayment("pay_123", 2500, paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000})
			p.Metadata = json.RawMessage(`{"shipping_method":"courier","shipping_cost":500,"shipping_address":{"city":"Valparaiso"}}`)
			gateway.put(p)

			res := build().Reconcile(ctx, "pay_123")

			Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeSucceeded))
			created, err := orderPostgres.NewOrderRepository(db).GetByPaymentID(ctx, "pay_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(created.AmountMismatch).To(BeFalse())
			Expect(created.ShippingMethod).To(Equal("courier"))
			Expect(created.ShippingCost).To(Equal(500.0))
			Expect(string(created.ShippingAddress)).To(MatchJSON(`{"city":"Valparaiso"}`))
		})

		It("records price drift but keeps the paid price", func() {
			// Given
			Expect(ledger.Upsert(ctx, &inventoryDatamodel.Unit{
				CardID:         tidecaller.CardID,
				Variant:        tidecaller.Variant,
				Available:      5,
				MarketPriceUSD: 1.5,
				ListedPrice:    1000,
			})).To(Succeed())
			deps.Pricer = &fakePricer{listed: map[float64]float64{1.5: 1200}}

			// When
			res := build().Reconcile(ctx, "pay_123")

			// Then
			Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeSucceeded))
			created, err := orderPostgres.NewOrderRepository(db).GetByPaymentID(ctx, "pay_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Items[0].UnitPrice).To(Equal(1000.0))
			Expect(created.Items[0].RecomputedUnitPrice).To(Equal(1200.0))
			Expect(created.TotalAmount).To(Equal(2000.0))
			Expect(outcomesOf("pay_123")).To(ContainElement(reconciliationDatamodel.OutcomePriceDrift))
		})
	})

	It("lets exactly one of two payments take the last unit", func() {
		// Given
		seed(stormfoil, 1, 5000)
		gateway.put(approvedPayment("pay_a", 5000, paymentItem{id: "tfc-9:foil", quantity: 1, price: 5000}))
		gateway.put(approvedPayment("pay_b", 5000, paymentItem{id: "tfc-9:foil", quantity: 1, price: 5000}))
		r := build()

		// When
		var (
			wg   sync.WaitGroup
			resA reconciliation.Result
			resB reconciliation.Result
		)
		wg.Add(2)
		go func() { defer GinkgoRecover(); defer wg.Done(); resA = r.Reconcile(ctx, "pay_a") }()
		go func() { defer GinkgoRecover(); defer wg.Done(); resB = r.Reconcile(ctx, "pay_b") }()
		wg.Wait()

		// Then
		Expect([]reconciliationDatamodel.Outcome{resA.Outcome, resB.Outcome}).To(ConsistOf(
			reconciliationDatamodel.OutcomeSucceeded,
			reconciliationDatamodel.OutcomeInsufficientStock,
		))
		Expect(availableOf(stormfoil)).To(Equal(0))
		Expect(orderCount()).To(Equal(int64(1)))

		loser := resA
		if resB.Outcome == reconciliationDatamodel.OutcomeInsufficientStock {
			loser = resB
		}
		Expect(errors.Is(loser.Err, internal.ErrInsufficientStock)).To(BeTrue())
		rec := recordOf(loser.PaymentID)
		Expect(rec.Status).To(Equal(reconciliationDatamodel.StatusFailed))
		Expect(rec.ReasonCode).To(Equal(string(internal.ErrCodeInsufficientStock)))
		Expect(publisher.types()).To(ContainElement(events.EventTypeReconciliationFailed))
	})

	It("leaves every unit untouched when one line of a batch is short", func() {
		// Given
		seed(tidecaller, 5, 1000)
		seed(stormfoil, 1, 5000)
		gateway.put(approvedPayment("pay_batch", 12000,
			paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000},
			paymentItem{id: "tfc-9:foil", quantity: 2, price: 5000}))

		// When
		res := build().Reconcile(ctx, "pay_batch")

		// Then
		Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeInsufficientStock))
		Expect(availableOf(tidecaller)).To(Equal(5))
		Expect(availableOf(stormfoil)).To(Equal(1))
		Expect(orderCount()).To(BeZero())
	})

	It("does not act on a payment that is not approved", func() {
		seed(tidecaller, 5, 1000)
		p := approvedPayment("pay_pending", 2000, paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000})
		p.Status = "in_process"
		gateway.put(p)

		res := build().Reconcile(ctx, "pay_pending")

		Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeNoActionNeeded))
		Expect(availableOf(tidecaller)).To(Equal(5))
		rec, err := records.Get(ctx, "pay_pending")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec).To(BeNil())
		Expect(outcomesOf("pay_pending")).To(Equal([]reconciliationDatamodel.Outcome{reconciliationDatamodel.OutcomeNoActionNeeded}))
	})

	It("rejects a payment the gateway does not know", func() {
		res := build().Reconcile(ctx, "pay_forged")

		Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeInvalidPayment))
		Expect(errors.Is(res.Err, internal.ErrInvalidPayment)).To(BeTrue())
		Expect(orderCount()).To(BeZero())
	})

	It("rejects an approved payment collected by another account", func() {
		seed(tidecaller, 5, 1000)
		p := approvedPayment("pay_foreign", 2000, paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000})
		p.CollectorID = "123"
		gateway.put(p)

		res := build().Reconcile(ctx, "pay_foreign")

		Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeInvalidPayment))
		Expect(availableOf(tidecaller)).To(Equal(5))
		Expect(orderCount()).To(BeZero())
	})

	It("leaves nothing claimed when the gateway is down", func() {
		gateway.err = errors.New("dial tcp: connection refused")

		res := build().Reconcile(ctx, "pay_123")

		Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeUpstreamLookupFailure))
		Expect(errors.Is(res.Err, internal.ErrUpstreamLookupFailure)).To(BeTrue())
		rec, err := records.Get(ctx, "pay_123")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec).To(BeNil())
	})

	It("fails terminally on an approved payment without usable items", func() {
		gateway.put(approvedPayment("pay_empty", 1000, paymentItem{id: "tfc-1:normal", quantity: 1.5, price: 1000}))

		res := build().Reconcile(ctx, "pay_empty")

		Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeInvalidPayment))
		Expect(recordOf("pay_empty").Status).To(Equal(reconciliationDatamodel.StatusFailed))
	})

	It("retries a storage failure on the next delivery", func() {
		// Given
		seed(tidecaller, 5, 1000)
		gateway.put(approvedPayment("pay_123", 2000, paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000}))
		deps.Ledger = &flakyLedger{LedgerAPI: ledger, failures: 1}
		r := build()

		// When
		first := r.Reconcile(ctx, "pay_123")

		// Then
		Expect(first.Outcome).To(Equal(reconciliationDatamodel.OutcomeFailedRetryable))
		rec := recordOf("pay_123")
		Expect(rec.Status).To(Equal(reconciliationDatamodel.StatusFailedRetryable))
		Expect(rec.Retryable).To(BeTrue())
		Expect(availableOf(tidecaller)).To(Equal(5))

		// When
		second := r.Reconcile(ctx, "pay_123")

		// Then
		Expect(second.Outcome).To(Equal(reconciliationDatamodel.OutcomeSucceeded))
		rec = recordOf("pay_123")
		Expect(rec.Status).To(Equal(reconciliationDatamodel.StatusSucceeded))
		Expect(rec.Attempts).To(Equal(2))
		Expect(availableOf(tidecaller)).To(Equal(3))
	})

	It("releases the claim when the caller gives up mid reconciliation", func() {
		// Given
		seed(tidecaller, 5, 1000)
		gateway.put(approvedPayment("pay_123", 2000, paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000}))
		acked, cancel := context.WithCancel(ctx)
		defer cancel()
		deps.Ledger = &cancellingLedger{LedgerAPI: ledger, cancel: cancel}

		// When
		first := build().Reconcile(acked, "pay_123")

		// Then
		Expect(first.Outcome).To(Equal(reconciliationDatamodel.OutcomeFailedRetryable))
		Expect(errors.Is(first.Err, context.Canceled)).To(BeTrue())
		Expect(recordOf("pay_123").Status).To(Equal(reconciliationDatamodel.StatusFailedRetryable))
		Expect(outcomesOf("pay_123")).To(ContainElement(reconciliationDatamodel.OutcomeFailedRetryable))
		Expect(availableOf(tidecaller)).To(Equal(5))

		// When
		deps.Ledger = ledger
		second := build().Reconcile(ctx, "pay_123")

		// Then
		Expect(second.Outcome).To(Equal(reconciliationDatamodel.OutcomeSucceeded))
		rec := recordOf("pay_123")
		Expect(rec.Status).To(Equal(reconciliationDatamodel.StatusSucceeded))
		Expect(rec.Attempts).To(Equal(2))
		Expect(availableOf(tidecaller)).To(Equal(3))
		Expect(orderCount()).To(Equal(int64(1)))
	})

	It("audits stock that moved when the order could not be written", func() {
		// Given
		seed(tidecaller, 5, 1000)
		gateway.put(approvedPayment("pay_123", 2000, paymentItem{id: "tfc-1:normal", quantity: 2, price: 1000}))
		deps.Orders = brokenWriter{}

		// When
		res := build().Reconcile(ctx, "pay_123")

		// Then
		Expect(res.Outcome).To(Equal(reconciliationDatamodel.OutcomeOrderWriteFailedAfterDecrement))
		Expect(errors.Is(res.Err, internal.ErrOrderWriteFailure)).To(BeTrue())
		Expect(availableOf(tidecaller)).To(Equal(3))

		rec := recordOf("pay_123")
		Expect(rec.Status).To(Equal(reconciliationDatamodel.StatusFailed))
		Expect(rec.ReasonCode).To(Equal(string(internal.ErrCodeOrderWriteFailure)))

		entries, err := audit.Trail(ctx, "pay_123")
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(string(entries[0].Details)).To(MatchJSON(`{"decrements":{"tfc-1:normal":2}}`))
		Expect(publisher.types()).To(ContainElement(events.EventTypeManualReviewRequired))

		// a redelivery must not decrement again
		again := build().Reconcile(ctx, "pay_123")
		Expect(again.Outcome).To(Equal(reconciliationDatamodel.OutcomeDuplicateSkipped))
		Expect(availableOf(tidecaller)).To(Equal(3))
	})
})
