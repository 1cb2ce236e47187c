package shipping

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Handler wires the shipping service to HTTP.
type Handler struct {
	Svc *Service
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindShipping, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	m, err := h.Svc.Get(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": m})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	methods, err := h.Svc.List(r.Context())
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": methods})
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var m Method
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	created := m.Key.IsZero()
	saved, err := h.Svc.Upsert(r.Context(), &m)
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
