package order

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Handler wires the order service to HTTP.
type Handler struct {
	Svc *Service
}

// Add creates an order from a root cart.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Cart common.Key `json:"cart"`
		Params
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	o, err := h.Svc.Add(r.Context(), payload.Cart, payload.Params)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": o})
}

// Update applies a partial update to an order not yet in checkout.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindOrder, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	var params Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	o, err := h.Svc.Update(r.Context(), key, params)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.load(w, r)
	if err != nil {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Svc.List(r.Context())
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": orders})
}

// CanCheckout reports whether checkout may start, with findings.
func (h *Handler) CanCheckout(w http.ResponseWriter, r *http.Request) {
	o, err := h.load(w, r)
	if err != nil {
		return
	}
	findings := h.Svc.CanCheckout(r.Context(), o)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"approved": len(common.BlockingOnly(findings)) == 0,
		"findings": findings,
	}})
}

// CheckoutStart freezes the cart and hands back provider start data.
func (h *Handler) CheckoutStart(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindOrder, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	o, startData, err := h.Svc.CheckoutStart(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"order":      o,
		"start_data": startData,
	}})
}

// CanOrder reports whether the order may be placed, with findings.
func (h *Handler) CanOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.load(w, r)
	if err != nil {
		return
	}
	findings := h.Svc.CanOrder(r.Context(), o)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"approved": len(common.BlockingOnly(findings)) == 0,
		"findings": findings,
	}})
}

// CheckoutOrder places the order with the payment provider.
func (h *Handler) CheckoutOrder(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindOrder, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	o, err := h.Svc.CheckoutOrder(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// SetPaid marks an ordered order as paid.
func (h *Handler) SetPaid(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindOrder, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	o, err := h.Svc.SetPaid(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// SetRTS marks an ordered order as ready to ship.
func (h *Handler) SetRTS(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindOrder, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	o, err := h.Svc.SetRTS(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*Order, error) {
	key, err := common.KeyFromID(KindOrder, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return nil, err
	}
	o, err := h.Svc.Get(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return nil, err
	}
	return o, nil
}
