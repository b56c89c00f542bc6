package inventory_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
	"github.com/cardvault/storefront/internal/inventory"
	"github.com/cardvault/storefront/internal/inventory/postgres"
	"github.com/cardvault/storefront/internal/transport"
)

var _ = Describe("Handler", func() {
	var router chi.Router

	BeforeEach(func() {
		ledger := inventory.NewLedger(postgres.NewInventoryRepository(newTestDB()), testLogger)
		Expect(ledger.Upsert(context.Background(), &inventoryDatamodel.Unit{
			CardID: "tfc-1", Variant: inventoryDatamodel.VariantFoil, Available: 1,
		})).To(Succeed())

		h := inventory.NewHandler(transport.NewBaseHandler(testLogger), ledger)
		router = chi.NewRouter()
		router.Get("/inventory/{cardID}/{variant}", h.GetUnit)
		router.Post("/inventory/{cardID}/{variant}/restock", h.Restock)
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	It("restocks and returns the unit", func() {
		rec := do(http.MethodPost, "/inventory/tfc-1/foil/restock", `{"quantity": 4}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var resp inventory.UnitResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Available).To(Equal(5))
	})

	It("rejects unknown variants", func() {
		rec := do(http.MethodPost, "/inventory/tfc-1/holo/restock", `{"quantity": 4}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects a zero quantity", func() {
		rec := do(http.MethodPost, "/inventory/tfc-1/foil/restock", `{"quantity": 0}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("reports missing units", func() {
		rec := do(http.MethodGet, "/inventory/tfc-9/normal", "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})
