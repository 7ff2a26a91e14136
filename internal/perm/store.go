package perm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandialabs/scot4-api-sub002/internal/entities"
	"github.com/sandialabs/scot4-api-sub002/internal/platform/db"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// GrantStore is the persistence port for permission grants.
type GrantStore interface {
	// KindsFor collects the distinct kinds granted to any of the roles
	// on the target. A nil id asks for grants on the type in general
	// (any instance).
	KindsFor(ctx context.Context, roleIDs []int64, t TargetType, id *int64) (KindSet, error)
	// RolesHaveAdmin reports whether any of the roles holds the global
	// admin grant. The caller decides whether the everyone role is
	// included in roleIDs.
	RolesHaveAdmin(ctx context.Context, roleIDs []int64) (bool, error)
	// Insert adds a grant; returns false when it already existed.
	Insert(ctx context.Context, g Grant) (bool, error)
	// Delete removes a grant; returns false when none matched.
	Delete(ctx context.Context, g Grant) (bool, error)
	// GrantsOn lists every grant on one object.
	GrantsOn(ctx context.Context, t TargetType, id int64) ([]Grant, error)
	// TargetExists checks the owning entity table for the object row.
	TargetExists(ctx context.Context, t TargetType, id int64) (bool, error)
	// WithTx runs fn against a transaction-scoped store.
	WithTx(ctx context.Context, fn func(GrantStore) error) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides PostgreSQL backed grant persistence.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	reg  *entities.Registry
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool, reg *entities.Registry) *Store {
	return &Store{pool: pool, q: pool, reg: reg}
}

// KindsFor collects distinct permission kinds held by the roles on the
// target object, or on any instance of the type when id is nil.
func (s *Store) KindsFor(ctx context.Context, roleIDs []int64, t TargetType, id *int64) (KindSet, error) {
	if len(roleIDs) == 0 {
		return KindSet{}, nil
	}
	query := `SELECT DISTINCT permission FROM permissions WHERE role_id = ANY($1) AND target_type = $2`
	args := []any{roleIDs, string(t)}
	if id != nil {
		query += ` AND target_id = $3`
		args = append(args, *id)
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("perm: kinds for roles: %w", err)
	}
	defer rows.Close()

	kinds := KindSet{}
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, err
		}
		kinds.Add(Kind(kind))
	}
	return kinds, rows.Err()
}

// RolesHaveAdmin checks the admin pseudo-target, a much smaller row set
// than the per-object grants.
func (s *Store) RolesHaveAdmin(ctx context.Context, roleIDs []int64) (bool, error) {
	if len(roleIDs) == 0 {
		return false, nil
	}
	var ok bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM permissions WHERE role_id = ANY($1) AND target_type = $2 AND permission = $3)`,
		roleIDs, string(TargetAdmin), string(KindAdmin)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("perm: roles have admin: %w", err)
	}
	return ok, nil
}

// Insert adds the grant if absent. Granting an existing grant is a
// no-op, not an error.
func (s *Store) Insert(ctx context.Context, g Grant) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`INSERT INTO permissions (role_id, target_type, target_id, permission) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		g.RoleID, string(g.TargetType), g.TargetID, string(g.Kind))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, fmt.Errorf("role %d does not exist: %w", g.RoleID, shared.ErrValidation)
		}
		return false, fmt.Errorf("perm: insert grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the grant if present.
func (s *Store) Delete(ctx context.Context, g Grant) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM permissions WHERE role_id = $1 AND target_type = $2 AND target_id = $3 AND permission = $4`,
		g.RoleID, string(g.TargetType), g.TargetID, string(g.Kind))
	if err != nil {
		return false, fmt.Errorf("perm: delete grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GrantsOn lists every grant row on one object.
func (s *Store) GrantsOn(ctx context.Context, t TargetType, id int64) ([]Grant, error) {
	rows, err := s.q.Query(ctx,
		`SELECT role_id, target_type, target_id, permission FROM permissions WHERE target_type = $1 AND target_id = $2 ORDER BY role_id, permission`,
		string(t), id)
	if err != nil {
		return nil, fmt.Errorf("perm: grants on: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var tt, kind string
		if err := rows.Scan(&g.RoleID, &tt, &g.TargetID, &kind); err != nil {
			return nil, err
		}
		g.TargetType = TargetType(tt)
		g.Kind = Kind(kind)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// auxiliaryTargets maps grantable target types that are not queryable
// entities onto their owning tables. Roles and API keys take grants
// like any object but never appear in the entity registry.
var auxiliaryTargets = map[TargetType]struct {
	Table    string
	IDColumn string
}{
	TargetRole:   {Table: "roles", IDColumn: "id"},
	TargetAPIKey: {Table: "api_keys", IDColumn: "id"},
}

// targetTable resolves the owning table for a grantable target type,
// from the entity registry or the auxiliary map. False for types with
// no backing rows (none, admin).
func targetTable(reg *entities.Registry, t TargetType) (string, string, bool) {
	if d, ok := reg.Lookup(string(t)); ok {
		return d.Table, d.IDColumn, true
	}
	if aux, ok := auxiliaryTargets[t]; ok {
		return aux.Table, aux.IDColumn, true
	}
	return "", "", false
}

// TargetExists checks the owning table for the object row. The admin
// pseudo-target has no backing row and is handled by callers.
func (s *Store) TargetExists(ctx context.Context, t TargetType, id int64) (bool, error) {
	table, idCol, ok := targetTable(s.reg, t)
	if !ok {
		return false, nil
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE ` + idCol + ` = $1)`
	if err := s.q.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("perm: target exists: %w", err)
	}
	return exists, nil
}

// WithTx runs fn against a transaction-scoped copy of the store so
// multi-statement lifecycle operations roll back in full on error.
func (s *Store) WithTx(ctx context.Context, fn func(GrantStore) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{pool: s.pool, q: tx, reg: s.reg})
	})
}
