package inventory

import "time"

type Variant string

const (
	VariantNormal Variant = "normal"
	VariantFoil   Variant = "foil"
)

func (v Variant) Valid() bool {
	return v == VariantNormal || v == VariantFoil
}

func Variants() []string {
	return []string{string(VariantNormal), string(VariantFoil)}
}

// Unit is one sellable (card, variant) stock row. Available is only ever
// changed through the ledger's conditional update statements.
type Unit struct {
	CardID         string    `gorm:"column:card_id;primaryKey"`
	Variant        Variant   `gorm:"column:variant;primaryKey"`
	Available      int       `gorm:"column:available;not null;default:0"`
	MarketPriceUSD float64   `gorm:"column:market_price_usd;not null;default:0"`
	ListedPrice    float64   `gorm:"column:listed_price;not null;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Unit) TableName() string {
	return "inventory_units"
}

// Key identifies a unit; String renders it as "cardID:variant".
type Key struct {
	CardID  string
	Variant Variant
}

func (k Key) String() string {
	return k.CardID + ":" + string(k.Variant)
}
