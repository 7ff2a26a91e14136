package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// RepositoryPort abstracts persistence for the service layer.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByFoldedName(ctx context.Context, folded string) (Role, error)
	CreateRole(ctx context.Context, name, folded, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, folded, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
}

// Service carries role business rules. Role names are unique
// case-insensitively; lookups and uniqueness use the folded form.
type Service struct {
	repo       RepositoryPort
	audit      *shared.AuditLogger
	logger     *slog.Logger
	autoCreate bool
	folder     cases.Caser
}

// NewService constructs a Service. autoCreate enables EnsureRole to
// create roles for identity-provider groups seen at login.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, logger *slog.Logger, autoCreate bool) *Service {
	return &Service{
		repo:       repo,
		audit:      audit,
		logger:     logger,
		autoCreate: autoCreate,
		folder:     cases.Fold(),
	}
}

func (s *Service) fold(name string) string {
	return s.folder.String(strings.TrimSpace(name))
}

// List returns all roles.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// Get returns one role by id.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// GetByName returns one role by case-insensitive name.
func (s *Service) GetByName(ctx context.Context, name string) (Role, error) {
	return s.repo.GetRoleByFoldedName(ctx, s.fold(name))
}

// Create adds a new role. Name collisions are case-insensitive.
func (s *Service) Create(ctx context.Context, actor, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("role name is required: %w", shared.ErrValidation)
	}
	folded := s.fold(name)
	if _, err := s.repo.GetRoleByFoldedName(ctx, folded); err == nil {
		return Role{}, fmt.Errorf("role %q already exists: %w", name, shared.ErrDuplicate)
	}
	role, err := s.repo.CreateRole(ctx, name, folded, description)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "role.create", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// Update renames or re-describes a role.
func (s *Service) Update(ctx context.Context, actor string, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("role name is required: %w", shared.ErrValidation)
	}
	folded := s.fold(name)
	if existing, err := s.repo.GetRoleByFoldedName(ctx, folded); err == nil && existing.ID != id {
		return Role{}, fmt.Errorf("role %q already exists: %w", name, shared.ErrDuplicate)
	}
	role, err := s.repo.UpdateRole(ctx, id, name, folded, description)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "role.update", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// Delete removes a role together with its permission grants and user
// memberships.
func (s *Service) Delete(ctx context.Context, actor string, id int64) error {
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "role.delete", id, nil)
	return nil
}

// EnsureRole returns the role matching the name, creating it when
// auto-creation is enabled. Used to map identity-provider groups onto
// roles at login without operator involvement.
func (s *Service) EnsureRole(ctx context.Context, name string) (Role, error) {
	role, err := s.repo.GetRoleByFoldedName(ctx, s.fold(name))
	if err == nil {
		return role, nil
	}
	if !s.autoCreate {
		return Role{}, err
	}
	role, err = s.repo.CreateRole(ctx, strings.TrimSpace(name), s.fold(name), "auto-created from identity provider group")
	if err != nil {
		return Role{}, err
	}
	s.logger.Info("auto-created role", slog.String("name", role.Name), slog.Int64("role_id", role.ID))
	return role, nil
}

// EnsureRoleID is EnsureRole reduced to the id, for callers that only
// need the role reference.
func (s *Service) EnsureRoleID(ctx context.Context, name string) (int64, error) {
	role, err := s.EnsureRole(ctx, name)
	if err != nil {
		return 0, err
	}
	return role.ID, nil
}

func (s *Service) record(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{Actor: actor, Action: action, TargetType: "role", TargetID: id, Meta: meta}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
