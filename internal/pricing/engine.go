package pricing

import (
	"fmt"
	"math"
)

// Params are the inputs of one price computation. Rates are fractions
// (0.19 for 19%).
type Params struct {
	SourceTaxRate      float64 `json:"source_tax_rate"`
	ShippingCost       float64 `json:"shipping_cost"`
	DestinationVATRate float64 `json:"destination_vat_rate"`
	ExchangeRate       float64 `json:"exchange_rate"`
	MarginRate         float64 `json:"margin_rate"`
	GatewayFeeRate     float64 `json:"gateway_fee_rate"`
	CurrencyDecimals   int     `json:"currency_decimals"`
}

func (p Params) Validate() error {
	switch {
	case p.SourceTaxRate < 0:
		return fmt.Errorf("source_tax_rate must not be negative")
	case p.ShippingCost < 0:
		return fmt.Errorf("shipping_cost must not be negative")
	case p.DestinationVATRate < 0:
		return fmt.Errorf("destination_vat_rate must not be negative")
	case p.ExchangeRate <= 0:
		return fmt.Errorf("exchange_rate must be positive")
	case p.MarginRate < 0:
		return fmt.Errorf("margin_rate must not be negative")
	case p.GatewayFeeRate < 0 || p.GatewayFeeRate >= 1:
		return fmt.Errorf("gateway_fee_rate must be in [0, 1)")
	case p.CurrencyDecimals < 0 || p.CurrencyDecimals > 4:
		return fmt.Errorf("currency_decimals must be between 0 and 4")
	}
	return nil
}

// Breakdown is the full, deterministic result of Compute. The first block is
// in the source currency, the rest in the destination currency.
type Breakdown struct {
	BasePrice      float64 `json:"base_price"`
	SourceTax      float64 `json:"source_tax"`
	Shipping       float64 `json:"shipping"`
	CostWithoutVAT float64 `json:"cost_without_vat"`
	VAT            float64 `json:"vat"`
	CostWithVAT    float64 `json:"cost_with_vat"`

	TotalCost      float64 `json:"total_cost"`
	Margin         float64 `json:"margin"`
	CostWithMargin float64 `json:"cost_with_margin"`
	GatewayFee     float64 `json:"gateway_fee"`
	FinalPrice     float64 `json:"final_price"`
}

// Compute turns a market price into a listed price:
//
//	cost      = base * (1 + sourceTax) + shipping
//	withVAT   = cost * (1 + vat)
//	total     = withVAT * exchangeRate
//	margined  = total * (1 + margin)
//	final     = round(margined / (1 - gatewayFee))
//
// The fee is grossed up so that after the gateway keeps its share the
// margined amount remains. Only FinalPrice is rounded.
func Compute(basePrice float64, p Params) (Breakdown, error) {
	if basePrice < 0 || math.IsNaN(basePrice) || math.IsInf(basePrice, 0) {
		return Breakdown{}, fmt.Errorf("base price must be a non-negative number")
	}
	if err := p.Validate(); err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{BasePrice: basePrice}
	b.SourceTax = basePrice * p.SourceTaxRate
	b.Shipping = p.ShippingCost
	b.CostWithoutVAT = basePrice + b.SourceTax + b.Shipping
	b.VAT = b.CostWithoutVAT * p.DestinationVATRate
	b.CostWithVAT = b.CostWithoutVAT + b.VAT

	b.TotalCost = b.CostWithVAT * p.ExchangeRate
	b.Margin = b.TotalCost * p.MarginRate
	b.CostWithMargin = b.TotalCost + b.Margin

	gross := b.CostWithMargin / (1 - p.GatewayFeeRate)
	b.FinalPrice = Round(gross, p.CurrencyDecimals)
	b.GatewayFee = b.FinalPrice - b.CostWithMargin

	return b, nil
}

// Round rounds half away from zero to the currency's smallest unit.
func Round(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
