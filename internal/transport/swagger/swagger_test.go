package swagger_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cardvault/storefront/api"
	"github.com/cardvault/storefront/internal/transport/swagger"
)

func TestSwagger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Swagger Suite")
}

var _ = Describe("OpenAPI document", func() {
	It("is a valid document covering the webhook and admin paths", func() {
		doc, err := swagger.Load(context.Background(), api.OpenAPISpec)

		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Paths.Value("/webhooks/payments")).NotTo(BeNil())
		Expect(doc.Paths.Value("/admin/reconciliations/{paymentID}/audit")).NotTo(BeNil())
		Expect(doc.Paths.Value("/admin/inventory/{cardID}/{variant}/restock")).NotTo(BeNil())
	})

	It("rejects a broken document", func() {
		_, err := swagger.Load(context.Background(), []byte("openapi: 3.0.3\npaths: [\n"))

		Expect(err).To(HaveOccurred())
	})

	It("serves the raw document", func() {
		rec := httptest.NewRecorder()
		swagger.SpecHandler(api.OpenAPISpec).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, swagger.SpecPath, nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("/webhooks/payments"))
	})
})
