package perm

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sandialabs/scot4-api-sub002/internal/platform/httpx"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// Handler exposes the grant lifecycle and effective-permission lookups.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *Resolver
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		resolver: resolver,
		validate: validator.New(),
	}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/effective/{type}/{id}", h.effective)
	r.Post("/grant", h.grant)
	r.Post("/revoke", h.revoke)
	r.Put("/{type}/{id}", h.set)
	r.Post("/copy", h.copy)
}

type grantRequest struct {
	RoleID     int64  `json:"role_id" validate:"required"`
	TargetType string `json:"target_type" validate:"required"`
	TargetID   int64  `json:"target_id" validate:"min=0"`
	Permission string `json:"permission" validate:"required"`
}

type setRequest struct {
	Read   []int64 `json:"read"`
	Modify []int64 `json:"modify"`
	Delete []int64 `json:"delete"`
}

type copyRequest struct {
	SourceType string `json:"source_type" validate:"required"`
	SourceID   int64  `json:"source_id" validate:"required"`
	DestType   string `json:"dest_type" validate:"required"`
	DestID     int64  `json:"dest_id" validate:"required"`
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	sc := SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	t, id, err := targetFromURL(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	kinds, err := h.resolver.Resolve(r.Context(), *sc, t, id)
	if err != nil {
		h.logger.Error("resolve effective permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"target_type": t,
		"target_id":   id,
		"permissions": kinds.Slice(),
	})
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	sc := SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	g, err := h.decodeGrant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Grant(r.Context(), *sc, g); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	sc := SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	g, err := h.decodeGrant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	// Revoking an absent grant reports 404, a successful revoke 204.
	if err := h.service.Revoke(r.Context(), *sc, g); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	sc := SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	t, id, err := targetFromURL(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	desired := map[Kind][]int64{
		KindRead:   req.Read,
		KindModify: req.Modify,
		KindDelete: req.Delete,
	}
	if err := h.service.Set(r.Context(), *sc, t, id, desired); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) copy(w http.ResponseWriter, r *http.Request) {
	sc := SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req copyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	srcType, err := ParseTargetType(req.SourceType)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dstType, err := ParseTargetType(req.DestType)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	// Copying permissions requires modify on the destination object.
	allowed, err := h.resolver.CanAccess(r.Context(), *sc, dstType, req.DestID, KindModify)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !allowed {
		httpx.RespondError(w, shared.ErrAuthorization)
		return
	}
	if err := h.service.CopyObjectPermissions(r.Context(), srcType, req.SourceID, dstType, req.DestID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeGrant(r *http.Request) (Grant, error) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return Grant{}, shared.ErrValidation
	}
	if err := h.validate.Struct(req); err != nil {
		return Grant{}, shared.ErrValidation
	}
	t, err := ParseTargetType(req.TargetType)
	if err != nil {
		return Grant{}, err
	}
	kind, err := ParseKind(req.Permission)
	if err != nil {
		return Grant{}, err
	}
	return Grant{RoleID: req.RoleID, TargetType: t, TargetID: req.TargetID, Kind: kind}, nil
}

func targetFromURL(r *http.Request) (TargetType, int64, error) {
	t, err := ParseTargetType(chi.URLParam(r, "type"))
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return "", 0, shared.ErrValidation
	}
	return t, id, nil
}
