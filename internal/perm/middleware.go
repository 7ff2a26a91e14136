package perm

import (
	"log/slog"
	"net/http"

	"github.com/sandialabs/scot4-api-sub002/internal/platform/httpx"
)

// DenialCounter records denied access checks for observability.
type DenialCounter interface {
	CountDenial(targetType, kind string)
}

// Middleware wires permission checks into HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
	Metrics  DenialCounter
}

// RequireObjectPermission gates a route carrying {type}/{id} URL params
// on the caller holding the required permission. A denied read is
// reported as 404 so inaccessible objects do not leak their existence;
// denied writes report 403.
func (m Middleware) RequireObjectPermission(required Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
			allowed, err := m.Resolver.CanAccess(r.Context(), *sc, t, id, required)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("object permission check", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed {
				if m.Metrics != nil {
					m.Metrics.CountDenial(string(t), string(required))
				}
				if required == KindRead {
					httpx.Problem(w, http.StatusNotFound, "Not Found", "")
				} else {
					httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperuser gates administrative routes.
func (m Middleware) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := SecurityFromContext(r.Context())
		if sc == nil || !sc.Superuser {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
