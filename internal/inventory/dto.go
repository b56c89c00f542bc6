package inventory

import (
	"time"

	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
)

type RestockRequest struct {
	Quantity int `json:"quantity"`
}

type UnitResponse struct {
	CardID         string    `json:"card_id"`
	Variant        string    `json:"variant"`
	Available      int       `json:"available"`
	MarketPriceUSD float64   `json:"market_price_usd"`
	ListedPrice    float64   `json:"listed_price"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func ToResponse(u *inventoryDatamodel.Unit) UnitResponse {
	return UnitResponse{
		CardID:         u.CardID,
		Variant:        string(u.Variant),
		Available:      u.Available,
		MarketPriceUSD: u.MarketPriceUSD,
		ListedPrice:    u.ListedPrice,
		UpdatedAt:      u.UpdatedAt,
	}
}
