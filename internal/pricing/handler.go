package pricing

import (
	"context"
	"net/http"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/core/common/validation"
	"github.com/cardvault/storefront/internal/transport"
)

type ServiceAPI interface {
	Quote(ctx context.Context, basePrice float64, setName string, overrides Overrides) (Breakdown, error)
	Currency() string
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := h.DecodeJSON(w, r, &req); err != nil {
		h.WriteError(w, err)
		return
	}

	if appErr := validateQuote(req); appErr != nil {
		h.WriteError(w, appErr)
		return
	}

	breakdown, err := h.Service.Quote(r.Context(), req.MarketPrice, req.ParameterSet, req.Overrides)
	if err != nil {
		h.WriteError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, QuoteResponse{
		Currency:  h.Service.Currency(),
		Breakdown: breakdown,
	})
}

func validateQuote(req QuoteRequest) *internal.AppError {
	v := validation.NewValidator()
	v.Field("market_price", req.MarketPrice).RangeFloat(0, 1e9, internal.ErrCodeInvalidPrice)
	v.Field("overrides.gateway_fee_rate", req.Overrides.GatewayFeeRate).RangeFloat(0, 1, internal.ErrCodeInvalidRate)
	v.Field("overrides.margin_rate", req.Overrides.MarginRate).RangeFloat(0, 10, internal.ErrCodeInvalidRate)
	v.Field("overrides.exchange_rate", req.Overrides.ExchangeRate).RangeFloat(1e-9, 1e9, internal.ErrCodeInvalidRate)
	return v.Validate()
}
