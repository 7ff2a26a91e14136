package perm

import (
	"context"
)

// Resolver computes a principal's effective permissions on a target.
type Resolver struct {
	store GrantStore
	cache *Cache
}

// NewResolver constructs a Resolver. cache may be nil to disable
// caching.
func NewResolver(store GrantStore, cache *Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Resolve returns the set of permission kinds the caller holds on one
// object. An empty set means no access; it is never an error.
func (r *Resolver) Resolve(ctx context.Context, sc SecurityContext, t TargetType, id int64) (KindSet, error) {
	return r.resolve(ctx, sc, t, &id)
}

// ResolveType returns the kinds the caller holds on any instance of the
// type, for "permission on this type in general" checks.
func (r *Resolver) ResolveType(ctx context.Context, sc SecurityContext, t TargetType) (KindSet, error) {
	return r.resolve(ctx, sc, t, nil)
}

func (r *Resolver) resolve(ctx context.Context, sc SecurityContext, t TargetType, id *int64) (KindSet, error) {
	if sc.Superuser {
		return AllKinds(), nil
	}
	base := KindSet{}
	if t.Whitelisted() {
		base.Add(KindRead)
	}
	roles := sc.EffectiveRoleIDs()
	if len(roles) == 0 {
		return base, nil
	}

	if r.cache != nil {
		if kinds, ok := r.cache.Get(ctx, roles, t, id); ok {
			return kinds, nil
		}
	}

	// The admin grant lives on a reserved pseudo-target and supersedes
	// per-object grants. Skipped when resolving the admin target itself
	// to avoid counting the same rows twice.
	if t != TargetAdmin {
		admin, err := r.store.RolesHaveAdmin(ctx, roles)
		if err != nil {
			return nil, err
		}
		if admin {
			kinds := AllKinds()
			if r.cache != nil {
				r.cache.Set(ctx, roles, t, id, kinds)
			}
			return kinds, nil
		}
	}

	kinds, err := r.store.KindsFor(ctx, roles, t, id)
	if err != nil {
		return nil, err
	}
	for k := range base {
		kinds.Add(k)
	}
	if r.cache != nil {
		r.cache.Set(ctx, roles, t, id, kinds)
	}
	return kinds, nil
}

// RolesHaveAdmin reports whether the explicit role set holds the global
// admin grant. The everyone role is deliberately not included: this
// check decides whether restricted query paths may be skipped entirely.
func (r *Resolver) RolesHaveAdmin(ctx context.Context, roleIDs []int64) (bool, error) {
	if len(roleIDs) == 0 {
		return false, nil
	}
	return r.store.RolesHaveAdmin(ctx, roleIDs)
}

// CanAccess resolves and compares against one required kind.
func (r *Resolver) CanAccess(ctx context.Context, sc SecurityContext, t TargetType, id int64, required Kind) (bool, error) {
	kinds, err := r.Resolve(ctx, sc, t, id)
	if err != nil {
		return false, err
	}
	return kinds.Has(required), nil
}
