// Package objects exposes the generic permission-aware listing surface
// shared by every queryable entity kind.
package objects

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandialabs/scot4-api-sub002/internal/perm"
	"github.com/sandialabs/scot4-api-sub002/internal/platform/httpx"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// Handler serves generic list and fetch endpoints.
type Handler struct {
	logger *slog.Logger
	engine *perm.QueryEngine
	perms  perm.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *perm.QueryEngine, perms perm.Middleware) *Handler {
	return &Handler{logger: logger, engine: engine, perms: perms}
}

// MountRoutes registers the generic object routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{type}", h.list)
	r.With(h.perms.RequireObjectPermission(perm.KindRead)).Get("/{type}/{id}", h.get)
}

// Query parameters reserved for paging and ordering; everything else is
// treated as a field filter.
var reservedParams = map[string]struct{}{
	"sort": {}, "skip": {}, "limit": {},
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sc := perm.SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	typeName := chi.URLParam(r, "type")
	query := r.URL.Query()
	filters := make(map[string]string)
	for key, vals := range query {
		if _, reserved := reservedParams[key]; reserved || len(vals) == 0 {
			continue
		}
		filters[key] = vals[0]
	}

	skip, _ := strconv.Atoi(query.Get("skip"))
	limit, _ := strconv.Atoi(query.Get("limit"))
	window := shared.NewListWindow(skip, limit)

	rows, total, err := h.engine.QueryWithFilters(r.Context(), typeName, sc, filters, query.Get("sort"), window)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	httpx.JSON(w, http.StatusOK, map[string]any{
		"result": rows,
		"total":  total,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	row, err := h.engine.GetByID(r.Context(), typeName, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}
