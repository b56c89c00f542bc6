package reconciliation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/reconciliation"
	reconciliationPostgres "github.com/cardvault/storefront/internal/reconciliation/postgres"
	"github.com/cardvault/storefront/internal/transport"
)

var _ = Describe("Handler", func() {
	var (
		router  chi.Router
		records reconciliation.RecordRepositoryAPI
		audit   *reconciliation.AuditLog
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		db := newTestDB()
		records = reconciliationPostgres.NewRecordRepository(db)
		audit = reconciliation.NewAuditLog(reconciliationPostgres.NewAuditRepository(db), testLogger)
		handler := reconciliation.NewHandler(transport.NewBaseHandler(testLogger), records, audit)

		router = chi.NewRouter()
		router.Get("/reconciliations", handler.List)
		router.Get("/reconciliations/{paymentID}/audit", handler.GetAudit)

		guard := reconciliation.NewGuard(records, testLogger)
		_, err := guard.Begin(ctx, "pay_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(guard.Succeed(ctx, "pay_1", "order-1")).To(Succeed())
		_, err = guard.Begin(ctx, "pay_2")
		Expect(err).NotTo(HaveOccurred())
		audit.Record(ctx, reconciliation.Entry{
			PaymentID: "pay_1",
			Outcome:   reconciliationDatamodel.OutcomeSucceeded,
			OrderID:   "order-1",
			Details:   map[string]interface{}{"decrements": map[string]int{"tfc-1:normal": 2}},
		})
	})

	It("filters records by status", func() {
		// When
		req := httptest.NewRequest(http.MethodGet, "/reconciliations?status=in_progress", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		var body []reconciliation.RecordResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveLen(1))
		Expect(body[0].PaymentID).To(Equal("pay_2"))
	})

	It("rejects an unknown status", func() {
		req := httptest.NewRequest(http.MethodGet, "/reconciliations?status=lost", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns the audit trail with the record", func() {
		req := httptest.NewRequest(http.MethodGet, "/reconciliations/pay_1/audit", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body reconciliation.AuditTrailResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Record).NotTo(BeNil())
		Expect(body.Record.Status).To(Equal("succeeded"))
		Expect(*body.Record.OrderID).To(Equal("order-1"))
		Expect(body.Entries).To(HaveLen(1))
		Expect(string(body.Entries[0].Details)).To(MatchJSON(`{"decrements":{"tfc-1:normal":2}}`))
	})

	It("answers 404 for a payment never seen", func() {
		req := httptest.NewRequest(http.MethodGet, "/reconciliations/pay_unknown/audit", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})
