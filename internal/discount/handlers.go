package discount

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Handler wires the discount service to HTTP.
type Handler struct {
	Svc *Service
}

func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindDiscount, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	d, err := h.Svc.GetDiscount(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": d})
}

func (h *Handler) UpsertDiscount(w http.ResponseWriter, r *http.Request) {
	var d Discount
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	created := d.Key.IsZero()
	saved, err := h.Svc.UpsertDiscount(r.Context(), &d)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	common.JSON(w, status, map[string]any{"data": saved})
}

func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindDiscount, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	if err := h.Svc.DeleteDiscount(r.Context(), key); err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetCondition(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindCondition, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	cond, err := h.Svc.GetCondition(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": cond})
}

func (h *Handler) UpsertCondition(w http.ResponseWriter, r *http.Request) {
	var cond Condition
	if err := json.NewDecoder(r.Body).Decode(&cond); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	created := cond.Key.IsZero()
	saved, err := h.Svc.UpsertCondition(r.Context(), &cond)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	common.JSON(w, status, map[string]any{"data": saved})
}

func (h *Handler) DeleteCondition(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindCondition, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	if err := h.Svc.DeleteCondition(r.Context(), key); err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateSubCode mints one personalised code under a parent condition.
func (h *Handler) GenerateSubCode(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindCondition, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	cond, err := h.Svc.GenerateSubCode(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": cond})
}

// Search resolves a discount by code or by key.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	key, err := optionalKey(r.URL.Query().Get("key"), KindDiscount)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	d, err := h.Svc.Search(r.Context(), code, key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": d})
}

// Apply applies a discount to the given cart.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Cart common.Key  `json:"cart" validate:"required"`
		Code string      `json:"code"`
		Key  *common.Key `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	if err := common.ValidateStruct(&payload); err != nil {
		common.JSONAppError(w, err)
		return
	}
	d, err := h.Svc.Apply(r.Context(), payload.Cart, payload.Code, payload.Key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": d})
}

// Remove detaches a discount from the given cart.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Cart     common.Key `json:"cart"`
		Discount common.Key `json:"discount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	if err := h.Svc.Remove(r.Context(), payload.Cart, payload.Discount); err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Automatic lists the discounts that apply without a code.
func (h *Handler) Automatic(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Svc.AutomaticDiscounts(r.Context())
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ds})
}

func optionalKey(raw, kind string) (*common.Key, error) {
	if raw == "" {
		return nil, nil
	}
	key, err := common.KeyFromID(kind, raw)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
