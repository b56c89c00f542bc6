package order

import (
	"time"

	"gorm.io/datatypes"
)

const StatusApproved = "approved"

type Order struct {
	ID                string         `gorm:"column:id;primaryKey"`
	PaymentID         string         `gorm:"column:payment_id;not null;uniqueIndex"`
	ExternalReference string         `gorm:"column:external_reference"`
	CustomerEmail     string         `gorm:"column:customer_email"`
	TotalAmount       float64        `gorm:"column:total_amount;not null"`
	Currency          string         `gorm:"column:currency;not null"`
	GatewayFeeAmount  float64        `gorm:"column:gateway_fee_amount"`
	NetReceivedAmount float64        `gorm:"column:net_received_amount"`
	TransactionAmount float64        `gorm:"column:transaction_amount"`
	AmountMismatch    bool           `gorm:"column:amount_mismatch;not null;default:false"`
	ShippingMethod    string         `gorm:"column:shipping_method"`
	ShippingCost      float64        `gorm:"column:shipping_cost"`
	ShippingAddress   datatypes.JSON `gorm:"column:shipping_address"`
	SaveAddress       bool           `gorm:"column:save_address"`
	SavePhone         bool           `gorm:"column:save_phone"`
	Status            string         `gorm:"column:status;not null"`
	CreatedAt         time.Time      `gorm:"column:created_at"`
	PaidAt            *time.Time     `gorm:"column:paid_at"`
	Items             []Item         `gorm:"foreignKey:OrderID;references:ID"`
}

func (Order) TableName() string {
	return "orders"
}

type Item struct {
	ID                  int64   `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID             string  `gorm:"column:order_id;not null;index"`
	ProductID           string  `gorm:"column:product_id;not null"`
	CardID              string  `gorm:"column:card_id;not null"`
	Variant             string  `gorm:"column:variant;not null"`
	Title               string  `gorm:"column:title"`
	Quantity            int     `gorm:"column:quantity;not null"`
	UnitPrice           float64 `gorm:"column:unit_price;not null"`
	RecomputedUnitPrice float64 `gorm:"column:recomputed_unit_price"`
	LineTotal           float64 `gorm:"column:line_total;not null"`
}

func (Item) TableName() string {
	return "order_items"
}
