package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sandialabs/scot4-api-sub002/internal/perm"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// Config carries the identity knobs the service needs.
type Config struct {
	// EveryoneRoleID is propagated into every security context so the
	// implicit role participates in permission resolution.
	EveryoneRoleID *int64
	// SuperuserName marks one account as superuser regardless of its
	// database flag. Empty disables the override.
	SuperuserName string
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions *SessionStore
	cfg      Config
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *SessionStore, cfg Config, logger *slog.Logger) *Service {
	return &Service{repo: repo, sessions: sessions, cfg: cfg, logger: logger}
}

// Authenticate validates username/password credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("touch last login", slog.Any("error", err))
	}
	return user, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (string, *User, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := s.sessions.Create(ctx, user.Username)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Logout invalidates a bearer token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Destroy(ctx, token)
}

// ResolveToken maps a bearer token back to its user.
func (s *Service) ResolveToken(ctx context.Context, token string) (*User, error) {
	username, ok, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.ErrInvalidCredentials
	}
	user, err := s.repo.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// SecurityContextFor builds the caller's security context. roleFilter
// narrows the user's roles (API keys are scoped this way); nil keeps
// them all.
func (s *Service) SecurityContextFor(ctx context.Context, user *User, roleFilter []int64) (*perm.SecurityContext, error) {
	roleIDs, err := s.repo.UserRoleIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	superuser := user.IsSuperuser || (s.cfg.SuperuserName != "" && user.Username == s.cfg.SuperuserName)
	if len(roleFilter) > 0 {
		allowed := make(map[int64]struct{}, len(roleIDs))
		for _, id := range roleIDs {
			allowed[id] = struct{}{}
		}
		scoped := make([]int64, 0, len(roleFilter))
		for _, id := range roleFilter {
			if _, ok := allowed[id]; ok {
				scoped = append(scoped, id)
			}
		}
		roleIDs = scoped
		// A role-scoped key never carries superuser authority.
		superuser = false
	}
	return &perm.SecurityContext{
		Username:       user.Username,
		Superuser:      superuser,
		RoleIDs:        roleIDs,
		EveryoneRoleID: s.cfg.EveryoneRoleID,
	}, nil
}

// CreateAPIKey mints a key for the owner. The returned plaintext
// secret is shown exactly once.
func (s *Service) CreateAPIKey(ctx context.Context, owner string, roleIDs []int64) (APIKey, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return APIKey{}, "", fmt.Errorf("auth: generate api key secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return APIKey{}, "", err
	}
	key := APIKey{
		ID:         uuid.New(),
		Owner:      owner,
		SecretHash: string(hash),
		Active:     true,
		RoleIDs:    roleIDs,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return APIKey{}, "", err
	}
	return key, key.ID.String() + "." + secret, nil
}

// ListAPIKeys returns the owner's keys, hashes excluded via JSON tags.
func (s *Service) ListAPIKeys(ctx context.Context, owner string) ([]APIKey, error) {
	return s.repo.ListAPIKeys(ctx, owner)
}

// RevokeAPIKey deletes one of the owner's keys.
func (s *Service) RevokeAPIKey(ctx context.Context, owner string, id uuid.UUID) error {
	return s.repo.DeleteAPIKey(ctx, owner, id)
}

// AuthenticateAPIKey validates a presented "id.secret" credential and
// returns the key's owning user plus the key's role scope.
func (s *Service) AuthenticateAPIKey(ctx context.Context, presented string) (*User, []int64, error) {
	idPart, secret, found := strings.Cut(presented, ".")
	if !found {
		return nil, nil, shared.ErrInvalidCredentials
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return nil, nil, shared.ErrInvalidCredentials
	}
	key, err := s.repo.FindAPIKey(ctx, id)
	if err != nil {
		return nil, nil, shared.ErrInvalidCredentials
	}
	if !key.Active {
		return nil, nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return nil, nil, shared.ErrInvalidCredentials
	}
	user, err := s.repo.FindUserByUsername(ctx, key.Owner)
	if err != nil || !user.IsActive {
		return nil, nil, shared.ErrInvalidCredentials
	}
	if err := s.repo.TouchAPIKey(ctx, key.ID); err != nil {
		s.logger.Warn("touch api key", slog.Any("error", err))
	}
	return user, key.RoleIDs, nil
}

// userPreferences is the persisted shape of a user's preferences
// document.
type userPreferences struct {
	DefaultPermissions map[string]map[string][]int64 `json:"default_permissions"`
}

// OwnerDefaultPermissions implements perm.PreferenceSource by reading
// the user's stored default-permission overrides.
func (s *Service) OwnerDefaultPermissions(ctx context.Context, owner string) (perm.DefaultPermissions, error) {
	raw, err := s.repo.UserPreferences(ctx, owner)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var prefs userPreferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		s.logger.Warn("malformed preferences document", slog.String("owner", owner), slog.Any("error", err))
		return nil, nil
	}
	if len(prefs.DefaultPermissions) == 0 {
		return nil, nil
	}
	out := make(perm.DefaultPermissions, len(prefs.DefaultPermissions))
	for typeName, byKind := range prefs.DefaultPermissions {
		kinds := make(map[perm.Kind][]int64, len(byKind))
		for rawKind, roleIDs := range byKind {
			kind, err := perm.ParseKind(rawKind)
			if err != nil {
				continue
			}
			kinds[kind] = roleIDs
		}
		out[typeName] = kinds
	}
	return out, nil
}

var _ perm.PreferenceSource = (*Service)(nil)
