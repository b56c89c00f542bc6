package pricing_test

import (
	"context"
	"errors"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cardvault/storefront/internal"
	pricingDatamodel "github.com/cardvault/storefront/internal/core/datamodel/pricing"
	"github.com/cardvault/storefront/internal/pricing"
)

type fakeParamRepo struct {
	sets map[string]*pricingDatamodel.ParameterSet
	err  error
}

func (f *fakeParamRepo) GetByName(_ context.Context, name string) (*pricingDatamodel.ParameterSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sets[name], nil
}

func (f *fakeParamRepo) Upsert(_ context.Context, set *pricingDatamodel.ParameterSet) error {
	f.sets[set.Name] = set
	return nil
}

var _ = Describe("Service", func() {
	var (
		repo    *fakeParamRepo
		service *pricing.Service
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = &fakeParamRepo{sets: map[string]*pricingDatamodel.ParameterSet{}}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = pricing.NewService(repo, internal.PricingConfig{
			DefaultSet:     "default",
			Currency:       "CLP",
			ExchangeRate:   1,
			GatewayFeeRate: 0,
		}, logger)
	})

	Context("when the default set is not stored", func() {
		It("falls back to configured values", func() {
			b, err := service.Quote(ctx, 100, "", pricing.Overrides{})
			Expect(err).NotTo(HaveOccurred())
			Expect(b.FinalPrice).To(Equal(100.0))
		})
	})

	Context("when the default set is stored", func() {
		BeforeEach(func() {
			repo.sets["default"] = &pricingDatamodel.ParameterSet{Name: "default", ExchangeRate: 2, MarginRate: 0.5}
		})

		It("prefers the stored values", func() {
			b, err := service.Quote(ctx, 100, "", pricing.Overrides{})
			Expect(err).NotTo(HaveOccurred())
			Expect(b.FinalPrice).To(Equal(300.0))
		})

		It("applies per-call overrides on top", func() {
			rate := 3.0
			b, err := service.Quote(ctx, 100, "default", pricing.Overrides{ExchangeRate: &rate})
			Expect(err).NotTo(HaveOccurred())
			Expect(b.FinalPrice).To(Equal(450.0))
		})
	})

	It("reports an unknown named set", func() {
		_, err := service.Quote(ctx, 100, "black-friday", pricing.Overrides{})
		Expect(errors.Is(err, internal.ErrPriceParamsNotFound)).To(BeTrue())
	})

	It("turns invalid overrides into a validation error", func() {
		fee := 1.5
		_, err := service.Quote(ctx, 100, "", pricing.Overrides{GatewayFeeRate: &fee})
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidRate))
	})

	It("wraps storage failures", func() {
		repo.err = errors.New("connection reset")
		_, err := service.ListedPrice(ctx, 10)
		Expect(err).To(HaveOccurred())
		Expect(internal.CodeOf(err)).To(Equal(internal.ErrCodeInternal))
	})
})
