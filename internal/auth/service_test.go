package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sandialabs/scot4-api-sub002/internal/perm"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

type memoryRepo struct {
	users map[string]*User
	roles map[int64][]int64
	keys  map[uuid.UUID]*APIKey
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users: make(map[string]*User),
		roles: make(map[int64][]int64),
		keys:  make(map[uuid.UUID]*APIKey),
	}
}

func (m *memoryRepo) addUser(username, password string, active bool, roleIDs ...int64) *User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	u := &User{
		ID:           int64(len(m.users) + 1),
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     active,
	}
	m.users[username] = u
	m.roles[u.ID] = roleIDs
	return u
}

func (m *memoryRepo) FindUserByUsername(_ context.Context, username string) (*User, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (m *memoryRepo) UserRoleIDs(_ context.Context, userID int64) ([]int64, error) {
	return m.roles[userID], nil
}

func (m *memoryRepo) AssignRole(_ context.Context, userID, roleID int64) error {
	m.roles[userID] = append(m.roles[userID], roleID)
	return nil
}

func (m *memoryRepo) TouchLastLogin(context.Context, int64) error { return nil }

func (m *memoryRepo) UserPreferences(_ context.Context, username string) (json.RawMessage, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u.Preferences, nil
}

func (m *memoryRepo) FindAPIKey(_ context.Context, id uuid.UUID) (*APIKey, error) {
	k, ok := m.keys[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return k, nil
}

func (m *memoryRepo) CreateAPIKey(_ context.Context, key APIKey) error {
	m.keys[key.ID] = &key
	return nil
}

func (m *memoryRepo) ListAPIKeys(_ context.Context, owner string) ([]APIKey, error) {
	var out []APIKey
	for _, k := range m.keys {
		if k.Owner == owner {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (m *memoryRepo) DeleteAPIKey(_ context.Context, owner string, id uuid.UUID) error {
	k, ok := m.keys[id]
	if !ok || k.Owner != owner {
		return shared.ErrNotFound
	}
	delete(m.keys, id)
	return nil
}

func (m *memoryRepo) TouchAPIKey(context.Context, uuid.UUID) error { return nil }

var _ Repository = (*memoryRepo)(nil)

func newTestService(repo Repository, cfg Config) *Service {
	return NewService(repo, nil, cfg, slog.Default())
}

func int64p(v int64) *int64 { return &v }

func TestAuthenticate(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser("analyst", "hunter2", true)
	repo.addUser("ghost", "boo", false)
	svc := newTestService(repo, Config{})
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, "analyst", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "analyst", user.Username)

	_, err = svc.Authenticate(ctx, "analyst", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "hunter2")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	// Deactivated accounts fail even with the right password.
	_, err = svc.Authenticate(ctx, "ghost", "boo")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestSecurityContextCarriesRoles(t *testing.T) {
	repo := newMemoryRepo()
	user := repo.addUser("analyst", "hunter2", true, 2, 3)
	svc := newTestService(repo, Config{EveryoneRoleID: int64p(1)})

	sc, err := svc.SecurityContextFor(context.Background(), user, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, sc.RoleIDs)
	require.False(t, sc.Superuser)
	require.Equal(t, []int64{2, 3, 1}, sc.EffectiveRoleIDs())
}

func TestSecurityContextSuperuserOverride(t *testing.T) {
	repo := newMemoryRepo()
	user := repo.addUser("scot-admin", "pw", true)
	svc := newTestService(repo, Config{SuperuserName: "scot-admin"})

	sc, err := svc.SecurityContextFor(context.Background(), user, nil)
	require.NoError(t, err)
	require.True(t, sc.Superuser)
}

func TestSecurityContextRoleScopeDropsSuperuser(t *testing.T) {
	repo := newMemoryRepo()
	user := repo.addUser("root", "pw", true, 2, 3)
	user.IsSuperuser = true
	svc := newTestService(repo, Config{})

	// The filter keeps only roles the user actually holds.
	sc, err := svc.SecurityContextFor(context.Background(), user, []int64{3, 9})
	require.NoError(t, err)
	require.Equal(t, []int64{3}, sc.RoleIDs)
	require.False(t, sc.Superuser)
}

func TestAPIKeyLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser("analyst", "hunter2", true, 2)
	svc := newTestService(repo, Config{})
	ctx := context.Background()

	key, plaintext, err := svc.CreateAPIKey(ctx, "analyst", []int64{2})
	require.NoError(t, err)
	require.Contains(t, plaintext, key.ID.String()+".")

	user, roleScope, err := svc.AuthenticateAPIKey(ctx, plaintext)
	require.NoError(t, err)
	require.Equal(t, "analyst", user.Username)
	require.Equal(t, []int64{2}, roleScope)

	require.NoError(t, svc.RevokeAPIKey(ctx, "analyst", key.ID))
	_, _, err = svc.AuthenticateAPIKey(ctx, plaintext)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateAPIKeyRejectsMalformed(t *testing.T) {
	svc := newTestService(newMemoryRepo(), Config{})
	ctx := context.Background()

	for _, presented := range []string{
		"no-dot-here",
		"not-a-uuid.secret",
		uuid.NewString() + ".unknown",
	} {
		_, _, err := svc.AuthenticateAPIKey(ctx, presented)
		require.ErrorIs(t, err, shared.ErrInvalidCredentials, presented)
	}
}

func TestAuthenticateAPIKeyWrongSecret(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser("analyst", "hunter2", true)
	svc := newTestService(repo, Config{})
	ctx := context.Background()

	key, _, err := svc.CreateAPIKey(ctx, "analyst", nil)
	require.NoError(t, err)

	_, _, err = svc.AuthenticateAPIKey(ctx, key.ID.String()+".forged")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestOwnerDefaultPermissions(t *testing.T) {
	repo := newMemoryRepo()
	user := repo.addUser("analyst", "hunter2", true)
	user.Preferences = json.RawMessage(`{
		"default_permissions": {
			"event":   {"read": [2], "modify": [2], "bogus": [9]},
			"default": {"read": [1]}
		}
	}`)
	svc := newTestService(repo, Config{})
	ctx := context.Background()

	prefs, err := svc.OwnerDefaultPermissions(ctx, "analyst")
	require.NoError(t, err)
	roles, ok := prefs.RolesFor(perm.TargetEvent, perm.KindRead)
	require.True(t, ok)
	require.Equal(t, []int64{2}, roles)
	// Unknown kinds in the document are skipped, not fatal.
	_, ok = prefs["event"][perm.Kind("bogus")]
	require.False(t, ok)
	// The default key backs types without their own entry.
	roles, ok = prefs.RolesFor(perm.TargetIncident, perm.KindRead)
	require.True(t, ok)
	require.Equal(t, []int64{1}, roles)

	// No stored user and malformed documents both degrade to nil.
	prefs, err = svc.OwnerDefaultPermissions(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, prefs)

	user.Preferences = json.RawMessage(`{not json`)
	prefs, err = svc.OwnerDefaultPermissions(ctx, "analyst")
	require.NoError(t, err)
	require.Nil(t, prefs)
}
