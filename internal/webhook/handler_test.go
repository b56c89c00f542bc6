package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	reconciliationDatamodel "github.com/cardvault/storefront/internal/core/datamodel/reconciliation"
	"github.com/cardvault/storefront/internal/reconciliation"
	"github.com/cardvault/storefront/internal/transport"
	"github.com/cardvault/storefront/internal/webhook"
)

type fakeSubmitter struct {
	ids []string
}

func (f *fakeSubmitter) Submit(_ context.Context, paymentID string) webhook.Mode {
	f.ids = append(f.ids, paymentID)
	return webhook.ModeQueued
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []reconciliation.Entry
}

func (f *fakeAudit) Record(_ context.Context, e reconciliation.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

var _ = Describe("Handler", func() {
	var (
		submitter *fakeSubmitter
		audit     *fakeAudit
		handler   *webhook.Handler
	)

	BeforeEach(func() {
		submitter = &fakeSubmitter{}
		audit = &fakeAudit{}
		handler = webhook.NewHandler(transport.NewBaseHandler(testLogger), submitter, audit)
	})

	post := func(target, body string) (*httptest.ResponseRecorder, webhook.AckResponse) {
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.HandlePaymentNotification(rec, req)

		var ack webhook.AckResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
		return rec, ack
	}

	It("submits the payment id from the json body", func() {
		// When
		rec, ack := post("/api/v1/webhooks/payments", `{"type":"payment","action":"payment.updated","data":{"id":"pay_123"}}`)

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(ack.Status).To(Equal("received"))
		Expect(ack.PaymentID).To(Equal("pay_123"))
		Expect(submitter.ids).To(Equal([]string{"pay_123"}))
		Expect(audit.entries).To(BeEmpty())
	})

	It("accepts a numeric id", func() {
		_, ack := post("/api/v1/webhooks/payments", `{"type":"payment","data":{"id":98765}}`)

		Expect(ack.PaymentID).To(Equal("98765"))
	})

	DescribeTable("accepts the query string forms",
		func(target string) {
			rec, ack := post(target, "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(ack.Status).To(Equal("received"))
			Expect(submitter.ids).To(Equal([]string{"pay_9"}))
		},
		Entry("topic and id", "/api/v1/webhooks/payments?topic=payment&id=pay_9"),
		Entry("type and data.id", "/api/v1/webhooks/payments?type=payment&data.id=pay_9"),
	)

	It("never trusts anything but the id in the body", func() {
		_, ack := post("/api/v1/webhooks/payments", `{"type":"payment","data":{"id":"pay_1","status":"approved","amount":1}}`)

		Expect(ack.Status).To(Equal("received"))
		Expect(submitter.ids).To(Equal([]string{"pay_1"}))
	})

	It("acknowledges and audits unsupported topics", func() {
		rec, ack := post("/api/v1/webhooks/payments?topic=merchant_order&id=mo_1", "")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(ack.Status).To(Equal("ignored"))
		Expect(submitter.ids).To(BeEmpty())
		Expect(audit.entries).To(HaveLen(1))
		Expect(audit.entries[0].Outcome).To(Equal(reconciliationDatamodel.OutcomeSkippedUnsupportedTopic))
	})

	DescribeTable("acknowledges and audits malformed notifications",
		func(target, body string) {
			rec, ack := post(target, body)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(ack.Status).To(Equal("ignored"))
			Expect(submitter.ids).To(BeEmpty())
			Expect(audit.entries).To(HaveLen(1))
			Expect(audit.entries[0].Outcome).To(Equal(reconciliationDatamodel.OutcomeRejectedMalformed))
		},
		Entry("not json", "/api/v1/webhooks/payments", `{"type":`),
		Entry("missing id", "/api/v1/webhooks/payments", `{"type":"payment","data":{}}`),
		Entry("missing type", "/api/v1/webhooks/payments", `{"data":{"id":"pay_1"}}`),
		Entry("empty request", "/api/v1/webhooks/payments", ``),
	)
})
