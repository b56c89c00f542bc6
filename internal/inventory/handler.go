package inventory

import (
	"context"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/cardvault/storefront/internal"
	"github.com/cardvault/storefront/internal/core/common/validation"
	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
	"github.com/cardvault/storefront/internal/transport"
)

type ServiceAPI interface {
	Restock(ctx context.Context, key Key, quantity int) (int, error)
	Get(ctx context.Context, key Key) (*inventoryDatamodel.Unit, error)
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

func (h *Handler) keyFromPath(r *http.Request) (Key, *internal.AppError) {
	cardID := chi.URLParam(r, "cardID")
	variant := chi.URLParam(r, "variant")

	v := validation.NewValidator()
	v.Field("card_id", cardID).Required().MaxLength(128)
	v.Field("variant", variant).Required().OneOf(inventoryDatamodel.Variants(), internal.ErrCodeInvalidVariant)
	if appErr := v.Validate(); appErr != nil {
		return Key{}, appErr
	}
	return Key{CardID: cardID, Variant: inventoryDatamodel.Variant(variant)}, nil
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	key, appErr := h.keyFromPath(r)
	if appErr != nil {
		h.WriteError(w, appErr)
		return
	}

	var req RestockRequest
	if err := h.DecodeJSON(w, r, &req); err != nil {
		h.WriteError(w, err)
		return
	}
	if appErr := validation.ValidateRestockQuantity(req.Quantity); appErr != nil {
		h.WriteError(w, appErr)
		return
	}

	if _, err := h.Service.Restock(r.Context(), key, req.Quantity); err != nil {
		h.WriteError(w, err)
		return
	}

	unit, err := h.Service.Get(r.Context(), key)
	if err != nil {
		h.WriteError(w, err)
		return
	}

	h.Logger.Info("restock applied",
		"card_id", key.CardID,
		"variant", key.Variant,
		"quantity", req.Quantity,
		"operator", internal.SubjectFromContext(r.Context()))
	h.WriteJSON(w, http.StatusOK, ToResponse(unit))
}

func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	key, appErr := h.keyFromPath(r)
	if appErr != nil {
		h.WriteError(w, appErr)
		return
	}

	unit, err := h.Service.Get(r.Context(), key)
	if err != nil {
		h.WriteError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToResponse(unit))
}
