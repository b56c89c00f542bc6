package pricing

import "time"

// ParameterSet is a named, stored set of pricing inputs.
type ParameterSet struct {
	Name               string    `gorm:"column:name;primaryKey" json:"name"`
	SourceTaxRate      float64   `gorm:"column:source_tax_rate" json:"source_tax_rate"`
	ShippingCost       float64   `gorm:"column:shipping_cost" json:"shipping_cost"`
	DestinationVATRate float64   `gorm:"column:destination_vat_rate" json:"destination_vat_rate"`
	ExchangeRate       float64   `gorm:"column:exchange_rate" json:"exchange_rate"`
	MarginRate         float64   `gorm:"column:margin_rate" json:"margin_rate"`
	GatewayFeeRate     float64   `gorm:"column:gateway_fee_rate" json:"gateway_fee_rate"`
	UpdatedAt          time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (ParameterSet) TableName() string {
	return "price_parameters"
}
