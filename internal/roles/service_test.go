package roles

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

type memoryRepo struct {
	nextID int64
	roles  map[int64]Role
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{roles: make(map[int64]Role)}
}

func (m *memoryRepo) ListRoles(context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryRepo) GetRole(_ context.Context, id int64) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *memoryRepo) GetRoleByFoldedName(_ context.Context, folded string) (Role, error) {
	for _, r := range m.roles {
		if foldName(r.Name) == folded {
			return r, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (m *memoryRepo) CreateRole(_ context.Context, name, _, description string) (Role, error) {
	m.nextID++
	r := Role{ID: m.nextID, Name: name, Description: description}
	m.roles[r.ID] = r
	return r, nil
}

func (m *memoryRepo) UpdateRole(_ context.Context, id int64, name, _, description string) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	r.Name = name
	r.Description = description
	m.roles[id] = r
	return r, nil
}

func (m *memoryRepo) DeleteRole(_ context.Context, id int64) error {
	if _, ok := m.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

var _ RepositoryPort = (*memoryRepo)(nil)

func foldName(name string) string {
	folded := make([]rune, 0, len(name))
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		folded = append(folded, r)
	}
	return string(folded)
}

func newTestService(repo *memoryRepo, autoCreate bool) *Service {
	return NewService(repo, nil, slog.Default(), autoCreate)
}

func TestCreateRejectsCaseInsensitiveDuplicate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, false)
	ctx := context.Background()

	created, err := svc.Create(ctx, "admin", "IR_Team", "analysts")
	require.NoError(t, err)
	require.Equal(t, "IR_Team", created.Name)

	_, err = svc.Create(ctx, "admin", "ir_team", "again")
	require.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = svc.Create(ctx, "admin", "  ", "blank")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetByNameFoldsCase(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, false)
	ctx := context.Background()

	created, err := svc.Create(ctx, "admin", "Watchers", "")
	require.NoError(t, err)

	found, err := svc.GetByName(ctx, "WATCHERS")
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)
}

func TestUpdateAllowsRenameButNotCollision(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, false)
	ctx := context.Background()

	a, err := svc.Create(ctx, "admin", "alpha", "")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "admin", "beta", "")
	require.NoError(t, err)

	// Re-describing under the same name is fine.
	updated, err := svc.Update(ctx, "admin", a.ID, "Alpha", "first letter")
	require.NoError(t, err)
	require.Equal(t, "Alpha", updated.Name)

	_, err = svc.Update(ctx, "admin", b.ID, "ALPHA", "")
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestDeleteMissingRole(t *testing.T) {
	svc := newTestService(newMemoryRepo(), false)
	require.ErrorIs(t, svc.Delete(context.Background(), "admin", 99), shared.ErrNotFound)
}

func TestEnsureRoleAutoCreates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, true)
	ctx := context.Background()

	role, err := svc.EnsureRole(ctx, "soc-oncall")
	require.NoError(t, err)
	require.Equal(t, "soc-oncall", role.Name)

	// Second call finds the existing role instead of creating another.
	again, err := svc.EnsureRoleID(ctx, "SOC-Oncall")
	require.NoError(t, err)
	require.Equal(t, role.ID, again)
	require.Len(t, repo.roles, 1)
}

func TestEnsureRoleWithoutAutoCreate(t *testing.T) {
	svc := newTestService(newMemoryRepo(), false)

	_, err := svc.EnsureRole(context.Background(), "unknown-group")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
