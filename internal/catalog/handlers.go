package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Handler wires the catalog service to HTTP.
type Handler struct {
	Svc *Service
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := common.KeyFromID(KindArticle, chi.URLParam(r, "id"))
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	article, err := h.Svc.Get(r.Context(), key)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": article})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	articles, err := h.Svc.List(r.Context(), limit, offset)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": articles})
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var article Article
	if err := json.NewDecoder(r.Body).Decode(&article); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidArgument, "malformed request body", nil)
		return
	}
	created := article.Key.IsZero()
	saved, err := h.Svc.Upsert(r.Context(), &article)
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
	key, err := common.KeyFromID(KindArticle, chi.URLParam(r, "id"))
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
