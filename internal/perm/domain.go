// Package perm implements the role/permission authorization model: the
// effective permission resolver, grant lifecycle operations, and the
// permission-restricted query builder.
package perm

import (
	"fmt"
	"sort"

	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// Kind is a permission kind.
type Kind string

const (
	KindRead   Kind = "read"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
	KindAdmin  Kind = "admin"
)

// ParseKind validates a permission kind from the wire.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindRead, KindModify, KindDelete, KindAdmin:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown permission kind %q: %w", s, shared.ErrValidation)
}

// GrantableKinds are the kinds managed by the mass-set and
// owner-default paths. Admin is deliberately excluded.
func GrantableKinds() []Kind {
	return []Kind{KindRead, KindModify, KindDelete}
}

// KindSet is a set of permission kinds.
type KindSet map[Kind]struct{}

// NewKindSet builds a set from kinds.
func NewKindSet(kinds ...Kind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// AllKinds returns the full permission set.
func AllKinds() KindSet {
	return NewKindSet(KindRead, KindModify, KindDelete, KindAdmin)
}

// Has reports membership.
func (s KindSet) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}

// Add inserts a kind.
func (s KindSet) Add(k Kind) {
	s[k] = struct{}{}
}

// Slice returns the kinds in stable order.
func (s KindSet) Slice() []Kind {
	kinds := make([]Kind, 0, len(s))
	for k := range s {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// TargetType identifies the polymorphic kind of a permission target.
type TargetType string

const (
	TargetNone          TargetType = "none"
	TargetAlert         TargetType = "alert"
	TargetAlertGroup    TargetType = "alertgroup"
	TargetEntry         TargetType = "entry"
	TargetEvent         TargetType = "event"
	TargetIncident      TargetType = "incident"
	TargetIntel         TargetType = "intel"
	TargetProduct       TargetType = "product"
	TargetDispatch      TargetType = "dispatch"
	TargetSignature     TargetType = "signature"
	TargetGuide         TargetType = "guide"
	TargetFeed          TargetType = "feed"
	TargetFile          TargetType = "file"
	TargetRole          TargetType = "role"
	TargetAPIKey        TargetType = "apikey"
	TargetAdmin         TargetType = "admin"
	TargetTag           TargetType = "tag"
	TargetSource        TargetType = "source"
	TargetEntity        TargetType = "entity"
	TargetEntityClass   TargetType = "entity_class"
	TargetEntityType    TargetType = "entity_type"
	TargetPivot         TargetType = "pivot"
	TargetSpecialMetric TargetType = "special_metric"
)

// AdminTargetID is the reserved pseudo-object id for the global admin
// grant; there is no backing row.
const AdminTargetID int64 = 0

var targetTypes = map[TargetType]struct{}{
	TargetNone: {}, TargetAlert: {}, TargetAlertGroup: {}, TargetEntry: {},
	TargetEvent: {}, TargetIncident: {}, TargetIntel: {}, TargetProduct: {},
	TargetDispatch: {}, TargetSignature: {}, TargetGuide: {}, TargetFeed: {},
	TargetFile: {}, TargetRole: {}, TargetAPIKey: {}, TargetAdmin: {},
	TargetTag: {}, TargetSource: {}, TargetEntity: {}, TargetEntityClass: {},
	TargetEntityType: {}, TargetPivot: {}, TargetSpecialMetric: {},
}

// whitelistedTargets are readable by any authenticated principal
// without permission rows. A fixed design decision, not data-driven.
var whitelistedTargets = map[TargetType]struct{}{
	TargetTag: {}, TargetSource: {}, TargetEntity: {}, TargetEntityClass: {},
	TargetEntityType: {}, TargetPivot: {}, TargetSpecialMetric: {},
}

// Whitelisted reports whether the type is globally readable.
func (t TargetType) Whitelisted() bool {
	_, ok := whitelistedTargets[t]
	return ok
}

// ParseTargetType validates a target type from the wire.
func ParseTargetType(s string) (TargetType, error) {
	if _, ok := targetTypes[TargetType(s)]; ok {
		return TargetType(s), nil
	}
	return "", fmt.Errorf("unknown target type %q: %w", s, shared.ErrValidation)
}

// Grant is one (role, target, permission) authorization record. Grants
// are created and deleted, never mutated in place.
type Grant struct {
	RoleID     int64
	TargetType TargetType
	TargetID   int64
	Kind       Kind
}

// IsAdminScoped reports whether the grant touches superuser authority:
// either the admin kind or the admin pseudo-target. Only the designated
// superuser may create or remove such grants.
func (g Grant) IsAdminScoped() bool {
	return g.Kind == KindAdmin || g.TargetType == TargetAdmin
}

// SecurityContext carries the authenticated caller's identity and the
// role set in effect for this request. The role set may be narrower
// than the user's stored roles when the credential was scoped. The
// everyone role is threaded explicitly so tests can disable the
// feature without shared state.
type SecurityContext struct {
	Username       string
	Superuser      bool
	RoleIDs        []int64
	EveryoneRoleID *int64
}

// EffectiveRoleIDs returns the caller's roles plus the implicit
// everyone role, deduplicated. With the everyone role disabled a
// principal with zero roles has no implicit grants at all.
func (sc SecurityContext) EffectiveRoleIDs() []int64 {
	seen := make(map[int64]struct{}, len(sc.RoleIDs)+1)
	out := make([]int64, 0, len(sc.RoleIDs)+1)
	for _, id := range sc.RoleIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if sc.EveryoneRoleID != nil {
		if _, ok := seen[*sc.EveryoneRoleID]; !ok {
			out = append(out, *sc.EveryoneRoleID)
		}
	}
	return out
}
