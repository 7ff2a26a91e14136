package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sandialabs/scot4-api-sub002/internal/auth"
	"github.com/sandialabs/scot4-api-sub002/internal/objects"
	"github.com/sandialabs/scot4-api-sub002/internal/observability"
	"github.com/sandialabs/scot4-api-sub002/internal/perm"
	"github.com/sandialabs/scot4-api-sub002/internal/roles"
	"github.com/sandialabs/scot4-api-sub002/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *auth.Handler
	AuthMiddleware auth.Middleware
	RolesHandler   *roles.Handler
	PermHandler    *perm.Handler
	PermMiddleware perm.Middleware
	ObjectsHandler *objects.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		params.AuthHandler.MountPublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(params.AuthMiddleware.Authenticate)

			r.Route("/auth", params.AuthHandler.MountRoutes)
			r.Route("/roles", func(r chi.Router) {
				r.Use(params.PermMiddleware.RequireSuperuser)
				params.RolesHandler.MountRoutes(r)
			})
			r.Route("/permissions", params.PermHandler.MountRoutes)

			// Generic entity routes go last so the literal prefixes above
			// win over the {type} parameter.
			params.ObjectsHandler.MountRoutes(r)
		})
	})

	return r
}
