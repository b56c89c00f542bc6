package pricing_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cardvault/storefront/internal"
	pricingDatamodel "github.com/cardvault/storefront/internal/core/datamodel/pricing"
	"github.com/cardvault/storefront/internal/pricing"
	"github.com/cardvault/storefront/internal/transport"
)

var _ = Describe("Handler", func() {
	var handler *pricing.Handler

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		repo := &fakeParamRepo{sets: map[string]*pricingDatamodel.ParameterSet{}}
		service := pricing.NewService(repo, internal.PricingConfig{Currency: "CLP", ExchangeRate: 950}, logger)
		handler = pricing.NewHandler(transport.NewBaseHandler(logger), service)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/pricing/quote", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		handler.Quote(rec, req)
		return rec
	}

	It("returns the breakdown", func() {
		rec := post(`{"market_price": 2}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var resp pricing.QuoteResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Currency).To(Equal("CLP"))
		Expect(resp.Breakdown.FinalPrice).To(Equal(1900.0))
	})

	It("rejects an out of range fee override", func() {
		rec := post(`{"market_price": 2, "overrides": {"gateway_fee_rate": 1}}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects unknown fields", func() {
		rec := post(`{"price": 2}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})
})
