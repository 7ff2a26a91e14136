package perm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

type memoryStore struct {
	grants  map[string]Grant
	targets map[string]struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		grants:  make(map[string]Grant),
		targets: make(map[string]struct{}),
	}
}

func grantKey(g Grant) string {
	return fmt.Sprintf("%d:%s:%d:%s", g.RoleID, g.TargetType, g.TargetID, g.Kind)
}

func (m *memoryStore) addTarget(t TargetType, id int64) {
	m.targets[fmt.Sprintf("%s:%d", t, id)] = struct{}{}
}

func (m *memoryStore) KindsFor(_ context.Context, roleIDs []int64, t TargetType, id *int64) (KindSet, error) {
	kinds := KindSet{}
	for _, g := range m.grants {
		if g.TargetType != t {
			continue
		}
		if id != nil && g.TargetID != *id {
			continue
		}
		for _, roleID := range roleIDs {
			if g.RoleID == roleID {
				kinds.Add(g.Kind)
			}
		}
	}
	return kinds, nil
}

func (m *memoryStore) RolesHaveAdmin(_ context.Context, roleIDs []int64) (bool, error) {
	for _, g := range m.grants {
		if g.TargetType != TargetAdmin || g.Kind != KindAdmin {
			continue
		}
		for _, roleID := range roleIDs {
			if g.RoleID == roleID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *memoryStore) Insert(_ context.Context, g Grant) (bool, error) {
	key := grantKey(g)
	if _, ok := m.grants[key]; ok {
		return false, nil
	}
	m.grants[key] = g
	return true, nil
}

func (m *memoryStore) Delete(_ context.Context, g Grant) (bool, error) {
	key := grantKey(g)
	if _, ok := m.grants[key]; !ok {
		return false, nil
	}
	delete(m.grants, key)
	return true, nil
}

func (m *memoryStore) GrantsOn(_ context.Context, t TargetType, id int64) ([]Grant, error) {
	var out []Grant
	for _, g := range m.grants {
		if g.TargetType == t && g.TargetID == id {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memoryStore) TargetExists(_ context.Context, t TargetType, id int64) (bool, error) {
	_, ok := m.targets[fmt.Sprintf("%s:%d", t, id)]
	return ok, nil
}

func (m *memoryStore) WithTx(_ context.Context, fn func(GrantStore) error) error {
	return fn(m)
}

func (m *memoryStore) has(g Grant) bool {
	_, ok := m.grants[grantKey(g)]
	return ok
}

var _ GrantStore = (*memoryStore)(nil)

func int64p(v int64) *int64 { return &v }

type stubPrefs struct {
	defaults DefaultPermissions
}

func (p stubPrefs) OwnerDefaultPermissions(context.Context, string) (DefaultPermissions, error) {
	return p.defaults, nil
}

func TestGrantIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.addTarget(TargetEvent, 7)
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)
	ctx := context.Background()
	sc := SecurityContext{Username: "analyst", RoleIDs: []int64{2}}

	g := Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 7, Kind: KindRead}
	require.NoError(t, svc.Grant(ctx, sc, g))
	require.NoError(t, svc.Grant(ctx, sc, g))
	require.True(t, store.has(g))
	require.Len(t, store.grants, 1)
}

func TestGrantOnRoleAndAPIKeyTargets(t *testing.T) {
	store := newMemoryStore()
	store.addTarget(TargetRole, 5)
	store.addTarget(TargetAPIKey, 9)
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)
	ctx := context.Background()
	sc := SecurityContext{Username: "analyst"}

	// Roles and API keys take grants like any object; the existence
	// check must consult their tables rather than reject them outright.
	roleGrant := Grant{RoleID: 2, TargetType: TargetRole, TargetID: 5, Kind: KindRead}
	require.NoError(t, svc.Grant(ctx, sc, roleGrant))
	require.True(t, store.has(roleGrant))

	keyGrant := Grant{RoleID: 2, TargetType: TargetAPIKey, TargetID: 9, Kind: KindModify}
	require.NoError(t, svc.Grant(ctx, sc, keyGrant))
	require.True(t, store.has(keyGrant))

	err := svc.Grant(ctx, sc, Grant{RoleID: 2, TargetType: TargetRole, TargetID: 404, Kind: KindRead})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGrantRejectsMissingTarget(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)

	err := svc.Grant(context.Background(), SecurityContext{}, Grant{
		RoleID: 2, TargetType: TargetEvent, TargetID: 404, Kind: KindRead,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdminScopedGrantsRequireSuperuser(t *testing.T) {
	store := newMemoryStore()
	store.addTarget(TargetEvent, 7)
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)
	ctx := context.Background()

	adminKind := Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 7, Kind: KindAdmin}
	require.ErrorIs(t, svc.Grant(ctx, SecurityContext{}, adminKind), shared.ErrAuthorization)

	adminTarget := Grant{RoleID: 2, TargetType: TargetAdmin, TargetID: AdminTargetID, Kind: KindRead}
	require.ErrorIs(t, svc.Grant(ctx, SecurityContext{}, adminTarget), shared.ErrAuthorization)

	root := SecurityContext{Username: "root", Superuser: true}
	require.NoError(t, svc.Grant(ctx, root, adminKind))
	require.NoError(t, svc.Grant(ctx, root, Grant{RoleID: 2, TargetType: TargetAdmin, TargetID: AdminTargetID, Kind: KindAdmin}))
}

func TestRevokeMissingGrantReturnsNotFound(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)
	ctx := context.Background()
	sc := SecurityContext{Username: "analyst"}

	g := Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 7, Kind: KindRead}
	require.ErrorIs(t, svc.Revoke(ctx, sc, g), shared.ErrNotFound)

	store.addTarget(TargetEvent, 7)
	require.NoError(t, svc.Grant(ctx, sc, g))
	require.NoError(t, svc.Revoke(ctx, sc, g))
	require.ErrorIs(t, svc.Revoke(ctx, sc, g), shared.ErrNotFound)
}

func TestSetReconcilesDelta(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)
	ctx := context.Background()
	sc := SecurityContext{Username: "analyst"}

	stale := Grant{RoleID: 9, TargetType: TargetEvent, TargetID: 7, Kind: KindRead}
	_, err := store.Insert(ctx, stale)
	require.NoError(t, err)

	err = svc.Set(ctx, sc, TargetEvent, 7, map[Kind][]int64{
		KindRead:   {2, 3},
		KindModify: {2},
	})
	require.NoError(t, err)

	require.False(t, store.has(stale))
	require.True(t, store.has(Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 7, Kind: KindRead}))
	require.True(t, store.has(Grant{RoleID: 3, TargetType: TargetEvent, TargetID: 7, Kind: KindRead}))
	require.True(t, store.has(Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 7, Kind: KindModify}))
	// Modify implies delete on this tier.
	require.True(t, store.has(Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 7, Kind: KindDelete}))
	require.False(t, store.has(Grant{RoleID: 3, TargetType: TargetEvent, TargetID: 7, Kind: KindDelete}))
}

func TestSetRejectsAdminKind(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)
	ctx := context.Background()

	desired := map[Kind][]int64{KindAdmin: {2}}
	require.ErrorIs(t, svc.Set(ctx, SecurityContext{}, TargetEvent, 7, desired), shared.ErrAuthorization)
	require.ErrorIs(t, svc.Set(ctx, SecurityContext{Superuser: true}, TargetEvent, 7, desired), shared.ErrValidation)
}

func TestCopyObjectPermissionsReplicatesGrants(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)
	ctx := context.Background()

	for _, g := range []Grant{
		{RoleID: 2, TargetType: TargetAlert, TargetID: 1, Kind: KindRead},
		{RoleID: 3, TargetType: TargetAlert, TargetID: 1, Kind: KindModify},
	} {
		_, err := store.Insert(ctx, g)
		require.NoError(t, err)
	}

	require.NoError(t, svc.CopyObjectPermissions(ctx, TargetAlert, 1, TargetEvent, 9))
	require.True(t, store.has(Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 9, Kind: KindRead}))
	require.True(t, store.has(Grant{RoleID: 3, TargetType: TargetEvent, TargetID: 9, Kind: KindModify}))
}

func TestCopyObjectPermissionsFallsBackToEveryone(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{EveryoneRoleID: int64p(1)}, nil, nil, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.CopyObjectPermissions(ctx, TargetAlert, 1, TargetEvent, 9))
	for _, kind := range GrantableKinds() {
		require.True(t, store.has(Grant{RoleID: 1, TargetType: TargetEvent, TargetID: 9, Kind: kind}))
	}
}

func TestCopyObjectPermissionsNoEveryoneRoleIsNoop(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)

	require.NoError(t, svc.CopyObjectPermissions(context.Background(), TargetAlert, 1, TargetEvent, 9))
	require.Empty(t, store.grants)
}

func TestCreateOwnerPermissionsMergesDefaults(t *testing.T) {
	store := newMemoryStore()
	prefs := stubPrefs{defaults: DefaultPermissions{
		"event": {KindRead: {5}},
	}}
	cfg := ServiceConfig{
		EveryoneRoleID: int64p(1),
		SystemDefaults: DefaultPermissions{
			"default": {KindModify: {3}},
		},
	}
	svc := NewService(store, cfg, nil, nil, nil, prefs, nil)

	require.NoError(t, svc.CreateOwnerPermissions(context.Background(), "analyst", TargetEvent, 7))

	// Owner preference wins for read.
	require.True(t, store.has(Grant{RoleID: 5, TargetType: TargetEvent, TargetID: 7, Kind: KindRead}))
	// System default covers modify, which drags delete along.
	require.True(t, store.has(Grant{RoleID: 3, TargetType: TargetEvent, TargetID: 7, Kind: KindModify}))
	require.True(t, store.has(Grant{RoleID: 3, TargetType: TargetEvent, TargetID: 7, Kind: KindDelete}))
	// Delete has no explicit default, so everyone picks it up.
	require.True(t, store.has(Grant{RoleID: 1, TargetType: TargetEvent, TargetID: 7, Kind: KindDelete}))
	// Read was covered by the owner preference, no everyone row there.
	require.False(t, store.has(Grant{RoleID: 1, TargetType: TargetEvent, TargetID: 7, Kind: KindRead}))
}

func TestCreateOwnerPermissionsEveryoneFallback(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{EveryoneRoleID: int64p(1)}, nil, nil, nil, nil, nil)

	require.NoError(t, svc.CreateOwnerPermissions(context.Background(), "analyst", TargetEvent, 7))
	for _, kind := range GrantableKinds() {
		require.True(t, store.has(Grant{RoleID: 1, TargetType: TargetEvent, TargetID: 7, Kind: kind}))
	}
}

func TestParseDefaultPermissions(t *testing.T) {
	parsed, err := ParseDefaultPermissions(`{"event": {"read": [2]}, "default": {"read": [1], "modify": [1]}}`)
	require.NoError(t, err)

	roles, ok := parsed.RolesFor(TargetEvent, KindRead)
	require.True(t, ok)
	require.Equal(t, []int64{2}, roles)
	roles, ok = parsed.RolesFor(TargetIncident, KindModify)
	require.True(t, ok)
	require.Equal(t, []int64{1}, roles)

	parsed, err = ParseDefaultPermissions("  ")
	require.NoError(t, err)
	require.Nil(t, parsed)

	_, err = ParseDefaultPermissions(`{"event": {"bogus": [2]}}`)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = ParseDefaultPermissions(`{not json`)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateOwnerPermissionsUsesConfiguredDefaults(t *testing.T) {
	store := newMemoryStore()
	defaults, err := ParseDefaultPermissions(`{"default": {"read": [4]}}`)
	require.NoError(t, err)
	svc := NewService(store, ServiceConfig{SystemDefaults: defaults}, nil, nil, nil, nil, nil)

	require.NoError(t, svc.CreateOwnerPermissions(context.Background(), "analyst", TargetEvent, 7))
	require.True(t, store.has(Grant{RoleID: 4, TargetType: TargetEvent, TargetID: 7, Kind: KindRead}))
}

func TestCreateWithPermissionsSkipsImpliedDelete(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, ServiceConfig{}, nil, nil, nil, nil, nil)
	ctx := context.Background()
	sc := SecurityContext{Username: "analyst"}

	err := svc.CreateWithPermissions(ctx, sc, TargetEvent, 7, map[Kind][]int64{
		KindModify: {2},
	})
	require.NoError(t, err)
	require.True(t, store.has(Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 7, Kind: KindModify}))
	require.False(t, store.has(Grant{RoleID: 2, TargetType: TargetEvent, TargetID: 7, Kind: KindDelete}))

	err = svc.CreateWithPermissions(ctx, sc, TargetEvent, 7, map[Kind][]int64{KindAdmin: {2}})
	require.ErrorIs(t, err, shared.ErrValidation)
}
