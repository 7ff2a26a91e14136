package perm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// DefaultPermissions maps a target-type name (or the "default" fallback
// key applied to all types) to the role ids receiving each kind.
type DefaultPermissions map[string]map[Kind][]int64

// RolesFor resolves the role list for one type and kind, falling back
// to the "default" key.
func (d DefaultPermissions) RolesFor(t TargetType, k Kind) ([]int64, bool) {
	if byKind, ok := d[string(t)]; ok {
		if roles, ok := byKind[k]; ok {
			return roles, true
		}
	}
	if byKind, ok := d["default"]; ok {
		if roles, ok := byKind[k]; ok {
			return roles, true
		}
	}
	return nil, false
}

// ParseDefaultPermissions decodes the site-wide default permission map
// from its JSON form, for example
// {"event": {"read": [2]}, "default": {"read": [1], "modify": [1]}}.
// An empty document yields nil; unknown kinds are a hard error since
// this is operator configuration, not user data.
func ParseDefaultPermissions(raw string) (DefaultPermissions, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var doc map[string]map[string][]int64
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("malformed default permissions document: %w", shared.ErrValidation)
	}
	out := make(DefaultPermissions, len(doc))
	for typeName, byKind := range doc {
		kinds := make(map[Kind][]int64, len(byKind))
		for rawKind, roleIDs := range byKind {
			kind, err := ParseKind(rawKind)
			if err != nil {
				return nil, err
			}
			kinds[kind] = roleIDs
		}
		out[typeName] = kinds
	}
	return out, nil
}

// AuditRecorder persists an audit record for a permission change.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Enqueuer schedules post-commit work for objects whose visibility
// changed.
type Enqueuer interface {
	EnqueueReindex(ctx context.Context, targetType string, targetID int64) error
}

// PreferenceSource looks up a user's personal default-permission
// overrides.
type PreferenceSource interface {
	OwnerDefaultPermissions(ctx context.Context, owner string) (DefaultPermissions, error)
}

// ServiceConfig carries the policy knobs for lifecycle operations.
type ServiceConfig struct {
	// EveryoneRoleID is the implicit role; nil disables the feature,
	// in which case fallback grants become no-ops.
	EveryoneRoleID *int64
	// SystemDefaults is the site-wide default permission map applied
	// at object creation.
	SystemDefaults DefaultPermissions
}

// Service implements the permission grant lifecycle: grant, revoke,
// mass-set, copy-on-promotion, and creation-time defaults.
type Service struct {
	store    GrantStore
	cfg      ServiceConfig
	audit    AuditRecorder
	enqueuer Enqueuer
	cache    *Cache
	prefs    PreferenceSource
	logger   *slog.Logger
}

// NewService constructs a Service. audit, enqueuer, cache, and prefs
// may be nil.
func NewService(store GrantStore, cfg ServiceConfig, audit AuditRecorder, enqueuer Enqueuer, cache *Cache, prefs PreferenceSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cfg: cfg, audit: audit, enqueuer: enqueuer, cache: cache, prefs: prefs, logger: logger}
}

// Grant adds one grant row. Granting an existing grant is a no-op.
// Admin-scoped grants are reserved to the superuser; all other grants
// must reference an existing object of the target type.
func (s *Service) Grant(ctx context.Context, sc SecurityContext, g Grant) error {
	if err := s.checkGrantShape(sc, g); err != nil {
		return err
	}
	if g.TargetType != TargetAdmin {
		ok, err := s.store.TargetExists(ctx, g.TargetType, g.TargetID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no %s with id %d: %w", g.TargetType, g.TargetID, shared.ErrValidation)
		}
	}
	inserted, err := s.store.Insert(ctx, g)
	if err != nil {
		return err
	}
	if inserted {
		s.afterMutation(ctx, sc.Username, "permission.grant", g.TargetType, g.TargetID, map[string]any{
			"role_id": g.RoleID, "permission": string(g.Kind),
		})
	}
	return nil
}

// Revoke removes one grant row. Revoking a grant that never existed
// returns shared.ErrNotFound so callers can report 404 against 204; it
// is a sentinel, not a failure.
func (s *Service) Revoke(ctx context.Context, sc SecurityContext, g Grant) error {
	if err := s.checkGrantShape(sc, g); err != nil {
		return err
	}
	deleted, err := s.store.Delete(ctx, g)
	if err != nil {
		return err
	}
	if !deleted {
		return shared.ErrNotFound
	}
	s.afterMutation(ctx, sc.Username, "permission.revoke", g.TargetType, g.TargetID, map[string]any{
		"role_id": g.RoleID, "permission": string(g.Kind),
	})
	return nil
}

// Set reconciles the three non-admin permission kinds on one object to
// exactly the desired role lists, granting and revoking the delta. On
// this convenience tier modify carries an implied delete for the same
// roles; the low-level Grant operation never does that.
func (s *Service) Set(ctx context.Context, sc SecurityContext, t TargetType, id int64, desired map[Kind][]int64) error {
	for kind := range desired {
		if kind == KindAdmin {
			if !sc.Superuser {
				return fmt.Errorf("admin permission cannot be mass-assigned: %w", shared.ErrAuthorization)
			}
			return fmt.Errorf("admin permission is not settable here: %w", shared.ErrValidation)
		}
		if _, err := ParseKind(string(kind)); err != nil {
			return err
		}
	}
	if t == TargetAdmin && !sc.Superuser {
		return fmt.Errorf("admin target requires superuser: %w", shared.ErrAuthorization)
	}

	want := withImpliedDelete(desired)

	err := s.store.WithTx(ctx, func(tx GrantStore) error {
		grants, err := tx.GrantsOn(ctx, t, id)
		if err != nil {
			return err
		}
		current := make(map[Kind]map[int64]struct{})
		for _, g := range grants {
			if current[g.Kind] == nil {
				current[g.Kind] = make(map[int64]struct{})
			}
			current[g.Kind][g.RoleID] = struct{}{}
		}

		for _, kind := range GrantableKinds() {
			for roleID := range current[kind] {
				if _, keep := want[kind][roleID]; !keep {
					if _, err := tx.Delete(ctx, Grant{RoleID: roleID, TargetType: t, TargetID: id, Kind: kind}); err != nil {
						return err
					}
				}
			}
			for roleID := range want[kind] {
				if _, have := current[kind][roleID]; !have {
					if _, err := tx.Insert(ctx, Grant{RoleID: roleID, TargetType: t, TargetID: id, Kind: kind}); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.afterMutation(ctx, sc.Username, "permission.set", t, id, map[string]any{"kinds": len(desired)})
	return nil
}

// CopyObjectPermissions replicates every grant on the source object
// onto the destination, used when promoting or deriving objects. A
// source without any grants falls back to granting read/modify/delete
// to the everyone role so derived objects never start unreadable; with
// the everyone role disabled the fallback is a recoverable no-op and
// the destination ends up with zero grants.
func (s *Service) CopyObjectPermissions(ctx context.Context, srcType TargetType, srcID int64, dstType TargetType, dstID int64) error {
	err := s.store.WithTx(ctx, func(tx GrantStore) error {
		grants, err := tx.GrantsOn(ctx, srcType, srcID)
		if err != nil {
			return err
		}
		if len(grants) == 0 {
			if s.cfg.EveryoneRoleID == nil {
				s.logger.Debug("permission copy fallback skipped, everyone role disabled",
					slog.String("dest_type", string(dstType)), slog.Int64("dest_id", dstID))
				return nil
			}
			for _, kind := range GrantableKinds() {
				g := Grant{RoleID: *s.cfg.EveryoneRoleID, TargetType: dstType, TargetID: dstID, Kind: kind}
				if _, err := tx.Insert(ctx, g); err != nil {
					return err
				}
			}
			return nil
		}
		for _, g := range grants {
			dup := Grant{RoleID: g.RoleID, TargetType: dstType, TargetID: dstID, Kind: g.Kind}
			if _, err := tx.Insert(ctx, dup); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.afterMutation(ctx, "", "permission.copy", dstType, dstID, map[string]any{
		"source_type": string(srcType), "source_id": srcID,
	})
	return nil
}

// CreateOwnerPermissions assigns the default access level for a newly
// created object: system-wide defaults merged under the owner's
// personal overrides, with the everyone role as the per-kind fallback.
// Modify carries an implied delete on this path.
func (s *Service) CreateOwnerPermissions(ctx context.Context, owner string, t TargetType, id int64) error {
	var ownerDefaults DefaultPermissions
	if s.prefs != nil {
		var err error
		ownerDefaults, err = s.prefs.OwnerDefaultPermissions(ctx, owner)
		if err != nil {
			return err
		}
	}

	desired := make(map[Kind][]int64, 3)
	for _, kind := range GrantableKinds() {
		roles, ok := ownerDefaults.RolesFor(t, kind)
		if !ok {
			roles, ok = s.cfg.SystemDefaults.RolesFor(t, kind)
		}
		if !ok || len(roles) == 0 {
			if s.cfg.EveryoneRoleID == nil {
				continue
			}
			roles = []int64{*s.cfg.EveryoneRoleID}
		}
		desired[kind] = roles
	}
	want := withImpliedDelete(desired)

	err := s.store.WithTx(ctx, func(tx GrantStore) error {
		for _, kind := range GrantableKinds() {
			for roleID := range want[kind] {
				if _, err := tx.Insert(ctx, Grant{RoleID: roleID, TargetType: t, TargetID: id, Kind: kind}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.afterMutation(ctx, owner, "permission.create_defaults", t, id, nil)
	return nil
}

// CreateWithPermissions assigns caller-supplied permissions at object
// creation, bypassing the owner-default merge entirely. The two paths
// are mutually exclusive for a given creation call. Admin-kind entries
// are forbidden and there is no implied delete.
func (s *Service) CreateWithPermissions(ctx context.Context, sc SecurityContext, t TargetType, id int64, desired map[Kind][]int64) error {
	for kind := range desired {
		if kind == KindAdmin {
			return fmt.Errorf("admin permission cannot be assigned at creation: %w", shared.ErrValidation)
		}
		if _, err := ParseKind(string(kind)); err != nil {
			return err
		}
	}

	err := s.store.WithTx(ctx, func(tx GrantStore) error {
		for kind, roles := range desired {
			for _, roleID := range roles {
				if _, err := tx.Insert(ctx, Grant{RoleID: roleID, TargetType: t, TargetID: id, Kind: kind}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.afterMutation(ctx, sc.Username, "permission.create_explicit", t, id, nil)
	return nil
}

func (s *Service) checkGrantShape(sc SecurityContext, g Grant) error {
	if _, err := ParseKind(string(g.Kind)); err != nil {
		return err
	}
	if _, err := ParseTargetType(string(g.TargetType)); err != nil {
		return err
	}
	if g.IsAdminScoped() && !sc.Superuser {
		return fmt.Errorf("admin-scoped grants require superuser: %w", shared.ErrAuthorization)
	}
	return nil
}

func (s *Service) afterMutation(ctx context.Context, actor string, action string, t TargetType, id int64, meta map[string]any) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	if s.audit != nil {
		log := shared.AuditLog{Actor: actor, Action: action, TargetType: string(t), TargetID: id, Meta: meta, At: time.Now()}
		if err := s.audit.Record(ctx, log); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueReindex(ctx, string(t), id); err != nil {
			s.logger.Warn("reindex enqueue failed", slog.String("target_type", string(t)), slog.Any("error", err))
		}
	}
}

func withImpliedDelete(desired map[Kind][]int64) map[Kind]map[int64]struct{} {
	want := make(map[Kind]map[int64]struct{}, len(desired)+1)
	add := func(kind Kind, roleID int64) {
		if want[kind] == nil {
			want[kind] = make(map[int64]struct{})
		}
		want[kind][roleID] = struct{}{}
	}
	for kind, roles := range desired {
		for _, roleID := range roles {
			add(kind, roleID)
			if kind == KindModify {
				add(KindDelete, roleID)
			}
		}
	}
	return want
}
