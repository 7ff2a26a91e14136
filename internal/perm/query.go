package perm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandialabs/scot4-api-sub002/internal/entities"
	"github.com/sandialabs/scot4-api-sub002/internal/filter"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// joinStrategy selects how the permission restriction attaches to an
// entity query.
type joinStrategy int

const (
	// joinNone skips the permission join: whitelisted reference data
	// readable by any authenticated principal.
	joinNone joinStrategy = iota
	// joinStandard joins grants on the entity's own (type, id).
	joinStandard
	// joinParent joins grants on the parent object's (type, id)
	// columns: entries are readable iff their parent is.
	joinParent
)

// QueryEngine composes the filter engine with the permission join so
// list endpoints only return rows the caller may read, without
// per-entity bespoke code.
type QueryEngine struct {
	pool       *pgxpool.Pool
	reg        *entities.Registry
	builder    *filter.Builder
	resolver   *Resolver
	strategies map[string]joinStrategy
}

// NewQueryEngine constructs a QueryEngine. The strategy per entity
// kind is resolved once here rather than branched on per call site.
func NewQueryEngine(pool *pgxpool.Pool, reg *entities.Registry, resolver *Resolver) *QueryEngine {
	strategies := make(map[string]joinStrategy)
	for _, name := range reg.Names() {
		d, _ := reg.Lookup(name)
		switch {
		case d.Whitelisted:
			strategies[name] = joinNone
		case d.Parent != nil:
			strategies[name] = joinParent
		default:
			strategies[name] = joinStandard
		}
	}
	return &QueryEngine{
		pool:       pool,
		reg:        reg,
		builder:    filter.NewBuilder(),
		resolver:   resolver,
		strategies: strategies,
	}
}

// QueryWithFilters lists rows of one entity kind with caller-supplied
// filters, sorted and paginated. A nil security context means a
// trusted internal caller: no permission restriction is applied.
// Otherwise only rows readable through the caller's roles (plus the
// implicit everyone role) are returned.
func (q *QueryEngine) QueryWithFilters(ctx context.Context, typeName string, sc *SecurityContext, filters map[string]string, sortSpec string, window shared.ListWindow) ([]map[string]any, int, error) {
	return q.query(ctx, typeName, sc, KindRead, filters, sortSpec, window)
}

// GetByID fetches one row without permission restriction. Callers are
// expected to have checked access already, typically through the
// RequireObjectPermission middleware.
func (q *QueryEngine) GetByID(ctx context.Context, typeName string, id int64) (map[string]any, error) {
	rows, _, err := q.query(ctx, typeName, nil, KindRead,
		map[string]string{"id": strconv.FormatInt(id, 10)}, "", shared.ListWindow{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, shared.ErrNotFound
	}
	return rows[0], nil
}

func (q *QueryEngine) query(ctx context.Context, typeName string, sc *SecurityContext, required Kind, filters map[string]string, sortSpec string, window shared.ListWindow) ([]map[string]any, int, error) {
	d, ok := q.reg.Lookup(typeName)
	if !ok {
		return nil, 0, fmt.Errorf("unknown entity type %q: %w", typeName, shared.ErrValidation)
	}

	args := filter.NewArgs()
	conds, err := q.builder.Conditions(d, "t", filters, args)
	if err != nil {
		return nil, 0, err
	}

	join, err := q.permissionJoin(ctx, d, sc, required, args)
	if err != nil {
		return nil, 0, err
	}

	countQuery := q.countStatement(d, join, conds)
	var total int
	if err := q.pool.QueryRow(ctx, countQuery, args.Values()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("perm: count query: %w", err)
	}

	orderBy := "t." + d.IDColumn + " ASC"
	if sortSpec != "" {
		orderBy, err = q.builder.OrderBy(d, "t", sortSpec)
		if err != nil {
			return nil, 0, err
		}
	}

	query := q.listStatement(d, join, conds, orderBy, args, window)
	rows, err := q.pool.Query(ctx, query, args.Values()...)
	if err != nil {
		return nil, 0, fmt.Errorf("perm: list query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, 0, err
		}
		record := make(map[string]any, len(fields))
		for i, f := range fields {
			record[f.Name] = vals[i]
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// permissionJoin returns the INNER JOIN fragment restricting rows to
// those the caller holds the required permission on, or empty when no
// restriction applies. Callers holding the global admin grant get the
// unrestricted path up front; the join itself never short-circuits
// admin per row.
func (q *QueryEngine) permissionJoin(ctx context.Context, d *entities.Descriptor, sc *SecurityContext, required Kind, args *filter.Args) (string, error) {
	if sc == nil || sc.Superuser {
		return "", nil
	}
	if q.strategies[d.Name] == joinNone {
		return "", nil
	}
	admin, err := q.resolver.RolesHaveAdmin(ctx, sc.RoleIDs)
	if err != nil {
		return "", err
	}
	if admin {
		return "", nil
	}
	return q.joinFragment(d, sc.EffectiveRoleIDs(), required, args), nil
}

// joinFragment assembles the permission join for the descriptor's
// strategy. An empty role set still joins, yielding zero rows.
func (q *QueryEngine) joinFragment(d *entities.Descriptor, roles []int64, required Kind, args *filter.Args) string {
	if roles == nil {
		roles = []int64{}
	}
	switch q.strategies[d.Name] {
	case joinParent:
		return " INNER JOIN permissions p ON p.target_type = t." + d.Parent.TypeColumn +
			" AND p.target_id = t." + d.Parent.IDColumn +
			" AND p.permission = " + args.Add(string(required)) +
			" AND p.role_id = ANY(" + args.Add(roles) + ")"
	default:
		return " INNER JOIN permissions p ON p.target_type = " + args.Add(d.Name) +
			" AND p.target_id = t." + d.IDColumn +
			" AND p.permission = " + args.Add(string(required)) +
			" AND p.role_id = ANY(" + args.Add(roles) + ")"
	}
}

// countStatement builds the total count. The permission join can match
// a row through several qualifying grants, so the count is degrouped.
func (q *QueryEngine) countStatement(d *entities.Descriptor, join string, conds []string) string {
	return "SELECT COUNT(DISTINCT t." + d.IDColumn + ") FROM " + d.Table + " t" + join + whereClause(conds)
}

// listStatement builds the page listing, degrouped for the same reason
// as the count.
func (q *QueryEngine) listStatement(d *entities.Descriptor, join string, conds []string, orderBy string, args *filter.Args, window shared.ListWindow) string {
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = "t." + c.Name
	}
	return "SELECT DISTINCT " + strings.Join(cols, ", ") + " FROM " + d.Table + " t" + join + whereClause(conds) +
		" ORDER BY " + orderBy +
		" LIMIT " + args.Add(window.Limit) +
		" OFFSET " + args.Add(window.Skip)
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
