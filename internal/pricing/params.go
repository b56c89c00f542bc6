package pricing

import (
	pricingDatamodel "github.com/cardvault/storefront/internal/core/datamodel/pricing"
)

// Overrides replaces individual stored parameters for a single call.
type Overrides struct {
	SourceTaxRate      *float64 `json:"source_tax_rate,omitempty"`
	ShippingCost       *float64 `json:"shipping_cost,omitempty"`
	DestinationVATRate *float64 `json:"destination_vat_rate,omitempty"`
	ExchangeRate       *float64 `json:"exchange_rate,omitempty"`
	MarginRate         *float64 `json:"margin_rate,omitempty"`
	GatewayFeeRate     *float64 `json:"gateway_fee_rate,omitempty"`
}

func (o Overrides) Apply(p Params) Params {
	if o.SourceTaxRate != nil {
		p.SourceTaxRate = *o.SourceTaxRate
	}
	if o.ShippingCost != nil {
		p.ShippingCost = *o.ShippingCost
	}
	if o.DestinationVATRate != nil {
		p.DestinationVATRate = *o.DestinationVATRate
	}
	if o.ExchangeRate != nil {
		p.ExchangeRate = *o.ExchangeRate
	}
	if o.MarginRate != nil {
		p.MarginRate = *o.MarginRate
	}
	if o.GatewayFeeRate != nil {
		p.GatewayFeeRate = *o.GatewayFeeRate
	}
	return p
}

func FromDataModel(set *pricingDatamodel.ParameterSet, decimals int) Params {
	return Params{
		SourceTaxRate:      set.SourceTaxRate,
		ShippingCost:       set.ShippingCost,
		DestinationVATRate: set.DestinationVATRate,
		ExchangeRate:       set.ExchangeRate,
		MarginRate:         set.MarginRate,
		GatewayFeeRate:     set.GatewayFeeRate,
		CurrencyDecimals:   decimals,
	}
}

func ToDataModel(name string, p Params) *pricingDatamodel.ParameterSet {
	return &pricingDatamodel.ParameterSet{
		Name:               name,
		SourceTaxRate:      p.SourceTaxRate,
		ShippingCost:       p.ShippingCost,
		DestinationVATRate: p.DestinationVATRate,
		ExchangeRate:       p.ExchangeRate,
		MarginRate:         p.MarginRate,
		GatewayFeeRate:     p.GatewayFeeRate,
	}
}
