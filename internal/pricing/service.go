package pricing

import (
	"context"
	"log/slog"

	"github.com/cardvault/storefront/internal"
	pricingDatamodel "github.com/cardvault/storefront/internal/core/datamodel/pricing"
)

type RepositoryAPI interface {
	// GetByName returns (nil, nil) when the set does not exist.
	GetByName(ctx context.Context, name string) (*pricingDatamodel.ParameterSet, error)
	Upsert(ctx context.Context, set *pricingDatamodel.ParameterSet) error
}

// Service resolves parameter sets and runs the engine. Stored sets win over
// the configured fallback; per-call overrides win over both.
type Service struct {
	repo       RepositoryAPI
	defaultSet string
	fallback   Params
	currency   string
	logger     *slog.Logger
}

func NewService(repo RepositoryAPI, cfg internal.PricingConfig, logger *slog.Logger) *Service {
	name := cfg.DefaultSet
	if name == "" {
		name = "default"
	}
	return &Service{
		repo:       repo,
		defaultSet: name,
		currency:   cfg.Currency,
		fallback: Params{
			SourceTaxRate:      cfg.SourceTaxRate,
			ShippingCost:       cfg.ShippingCost,
			DestinationVATRate: cfg.DestinationVAT,
			ExchangeRate:       cfg.ExchangeRate,
			MarginRate:         cfg.MarginRate,
			GatewayFeeRate:     cfg.GatewayFeeRate,
			CurrencyDecimals:   cfg.CurrencyDecimals,
		},
		logger: logger,
	}
}

func (s *Service) Currency() string {
	return s.currency
}

func (s *Service) CurrencyDecimals() int {
	return s.fallback.CurrencyDecimals
}

// ResolveParams loads the named set (the default set when name is empty).
// An unknown non-default name is an error; a missing default set falls back
// to configuration.
func (s *Service) ResolveParams(ctx context.Context, name string, overrides Overrides) (Params, error) {
	explicit := name != "" && name != s.defaultSet
	if name == "" {
		name = s.defaultSet
	}

	params := s.fallback
	set, err := s.repo.GetByName(ctx, name)
	if err != nil {
		s.logger.Error("failed to load price parameters", "set", name, "error", err)
		return Params{}, internal.NewInternalError("failed to load price parameters", err)
	}
	switch {
	case set != nil:
		params = FromDataModel(set, s.fallback.CurrencyDecimals)
	case explicit:
		return Params{}, internal.ErrPriceParamsNotFound
	default:
		s.logger.Debug("price parameter set not stored, using configured defaults", "set", name)
	}

	return overrides.Apply(params), nil
}

// Quote prices a market value with the named set and overrides.
func (s *Service) Quote(ctx context.Context, basePrice float64, setName string, overrides Overrides) (Breakdown, error) {
	params, err := s.ResolveParams(ctx, setName, overrides)
	if err != nil {
		return Breakdown{}, err
	}

	b, err := Compute(basePrice, params)
	if err != nil {
		return Breakdown{}, internal.NewValidationError(err.Error(), internal.ErrCodeInvalidRate)
	}
	return b, nil
}

// ListedPrice is the final price for a market value under the default set.
func (s *Service) ListedPrice(ctx context.Context, marketPriceUSD float64) (float64, error) {
	b, err := s.Quote(ctx, marketPriceUSD, "", Overrides{})
	if err != nil {
		return 0, err
	}
	return b.FinalPrice, nil
}

func (s *Service) SaveParams(ctx context.Context, name string, p Params) error {
	if err := p.Validate(); err != nil {
		return internal.NewValidationError(err.Error(), internal.ErrCodeInvalidRate)
	}
	return s.repo.Upsert(ctx, ToDataModel(name, p))
}
