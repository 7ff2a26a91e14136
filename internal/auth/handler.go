package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sandialabs/scot4-api-sub002/internal/perm"
	"github.com/sandialabs/scot4-api-sub002/internal/platform/httpx"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountPublicRoutes registers the routes reachable without a
// credential.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/login", h.login)
}

// MountRoutes registers the routes behind the authentication
// middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/logout", h.logout)
	r.Get("/whoami", h.whoami)
	r.Get("/apikeys", h.listKeys)
	r.Post("/apikeys", h.createKey)
	r.Delete("/apikeys/{id}", h.revokeKey)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	token, user, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"username": user.Username,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.service.Logout(r.Context(), token); err != nil {
		h.logger.Warn("logout", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	sc := perm.SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"username":  sc.Username,
		"superuser": sc.Superuser,
		"role_ids":  sc.RoleIDs,
	})
}

type createKeyRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"dive,gt=0"`
}

func (h *Handler) createKey(w http.ResponseWriter, r *http.Request) {
	sc := perm.SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req createKeyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	key, secret, err := h.service.CreateAPIKey(r.Context(), sc.Username, req.RoleIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"key":    key,
		"secret": secret,
	})
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	sc := perm.SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	keys, err := h.service.ListAPIKeys(r.Context(), sc.Username)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if keys == nil {
		keys = []APIKey{}
	}
	httpx.JSON(w, http.StatusOK, keys)
}

func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request) {
	sc := perm.SecurityFromContext(r.Context())
	if sc == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.service.RevokeAPIKey(r.Context(), sc.Username, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
