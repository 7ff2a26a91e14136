package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandialabs/scot4-api-sub002/internal/perm"
	"github.com/sandialabs/scot4-api-sub002/internal/platform/httpx"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// RoleEnsurer maps identity-provider group names onto roles, creating
// them when auto-creation is enabled.
type RoleEnsurer interface {
	EnsureRoleID(ctx context.Context, name string) (int64, error)
}

// Middleware authenticates requests and installs the caller's security
// context. Three credential forms are accepted: "Bearer <token>"
// sessions, "apikey <id>.<secret>" keys, and, when TrustProxyHeaders
// is set, Remote-User/Remote-Groups headers from a fronting
// authentication proxy.
type Middleware struct {
	Service           *Service
	Roles             RoleEnsurer
	Logger            *slog.Logger
	TrustProxyHeaders bool
}

// Authenticate rejects requests without a valid credential and stores
// the resolved security context on the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := m.resolve(r)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(perm.ContextWithSecurity(r.Context(), sc)))
	})
}

func (m Middleware) resolve(r *http.Request) (*perm.SecurityContext, error) {
	ctx := r.Context()

	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			user, err := m.Service.ResolveToken(ctx, token)
			if err != nil {
				return nil, err
			}
			return m.Service.SecurityContextFor(ctx, user, nil)
		}
		if presented, ok := strings.CutPrefix(header, "apikey "); ok {
			user, roleScope, err := m.Service.AuthenticateAPIKey(ctx, presented)
			if err != nil {
				return nil, err
			}
			return m.Service.SecurityContextFor(ctx, user, roleScope)
		}
	}

	if m.TrustProxyHeaders {
		if username := r.Header.Get("Remote-User"); username != "" {
			return m.proxyContext(ctx, username, r.Header.Get("Remote-Groups"))
		}
	}
	return nil, shared.ErrInvalidCredentials
}

// proxyContext builds a context for a proxy-authenticated principal.
// Groups from the proxy map onto roles by name, auto-created when the
// role service allows it.
func (m Middleware) proxyContext(ctx context.Context, username, groups string) (*perm.SecurityContext, error) {
	var roleIDs []int64
	if m.Roles != nil {
		for _, group := range strings.Split(groups, ",") {
			group = strings.TrimSpace(group)
			if group == "" {
				continue
			}
			id, err := m.Roles.EnsureRoleID(ctx, group)
			if err != nil {
				m.Logger.Warn("map proxy group", slog.String("group", group), slog.Any("error", err))
				continue
			}
			roleIDs = append(roleIDs, id)
		}
	}
	superuser := m.Service.cfg.SuperuserName != "" && username == m.Service.cfg.SuperuserName
	return &perm.SecurityContext{
		Username:       username,
		Superuser:      superuser,
		RoleIDs:        roleIDs,
		EveryoneRoleID: m.Service.cfg.EveryoneRoleID,
	}, nil
}
