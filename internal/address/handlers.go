package address

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
)

// Handler wires the address service to HTTP.
type Handler struct {
	Svc *Service
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindAddress, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	addr, err := h.Svc.Get(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": addr})
}

// List returns the caller's addresses, optionally filtered by type.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess.UserKey == nil {
		common.JSONAppError(w, common.NotAuthorized("sign in to list addresses"))
		return
	}
	addressType := Type(r.URL.Query().Get("type"))
	addrs, err := h.Svc.ListForCustomer(r.Context(), *sess.UserKey, addressType)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": addrs})
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var addr Address
	if err := json.NewDecoder(r.Body).Decode(&addr); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	created := addr.Key.IsZero()
	saved, err := h.Svc.Upsert(r.Context(), &addr)
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

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindAddress, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	if err := h.Svc.Delete(r.Context(), key); err != nil {
		common.JSONAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
