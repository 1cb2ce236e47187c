package cart

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Handler wires the cart service to HTTP.
type Handler struct {
	Svc *Service
}

// Basket returns the caller's basket root, creating it lazily.
func (h *Handler) Basket(w http.ResponseWriter, r *http.Request) {
	node, err := h.Svc.EnsureBasket(r.Context())
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": node})
}

// List returns the caller's root carts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	roots, err := h.Svc.CartList(r.Context())
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": roots})
}

// Get returns one node with computed totals.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindNode, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	node, err := h.Svc.GetNode(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": node})
}

// Children lists the direct children of a node.
func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindNode, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	children, err := h.Svc.Children(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": children})
}

// Add creates a node.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Parent *common.Key `json:"parent"`
		NodeParams
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	node, err := h.Svc.CartAdd(r.Context(), payload.Parent, payload.NodeParams)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": node})
}

// Update applies a partial update to a node.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindNode, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	var params NodeParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	node, err := h.Svc.CartUpdate(r.Context(), key, params)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": node})
}

// Remove deletes a node and its subtree.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindNode, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	if err := h.Svc.Remove(r.Context(), key); err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddArticle creates or mutates an article line.
func (h *Handler) AddArticle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Article  common.Key   `json:"article" validate:"required"`
		Parent   common.Key   `json:"parent" validate:"required"`
		Quantity int          `json:"quantity" validate:"gte=0"`
		Mode     QuantityMode `json:"quantity_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	if err := common.ValidateStruct(&payload); err != nil {
		common.JSONAppError(w, err)
		return
	}
	if payload.Mode == "" {
		payload.Mode = ModeReplace
	}
	leaf, err := h.Svc.AddOrUpdateArticle(r.Context(), payload.Article, payload.Parent, payload.Quantity, payload.Mode)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	if leaf == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": leaf})
}

// MoveArticle re-parents an article line.
func (h *Handler) MoveArticle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Article common.Key `json:"article" validate:"required"`
		From    common.Key `json:"from" validate:"required"`
		To      common.Key `json:"to" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	if err := common.ValidateStruct(&payload); err != nil {
		common.JSONAppError(w, err)
		return
	}
	leaf, err := h.Svc.MoveArticle(r.Context(), payload.Article, payload.From, payload.To)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": leaf})
}

// RemoveArticle deletes an article line.
func (h *Handler) RemoveArticle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Article common.Key `json:"article"`
		Parent  common.Key `json:"parent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	if err := h.Svc.RemoveArticle(r.Context(), payload.Article, payload.Parent); err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
