package perm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandialabs/scot4-api-sub002/internal/entities"
	"github.com/sandialabs/scot4-api-sub002/internal/filter"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

func newTestEngine(t *testing.T) (*QueryEngine, *entities.Registry) {
	t.Helper()
	reg := entities.DefaultRegistry()
	return NewQueryEngine(nil, reg, nil), reg
}

func descriptor(t *testing.T, reg *entities.Registry, name string) *entities.Descriptor {
	t.Helper()
	d, ok := reg.Lookup(name)
	require.True(t, ok)
	return d
}

func TestJoinStrategySelection(t *testing.T) {
	engine, _ := newTestEngine(t)

	require.Equal(t, joinNone, engine.strategies["tag"])
	require.Equal(t, joinNone, engine.strategies["source"])
	require.Equal(t, joinParent, engine.strategies["entry"])
	require.Equal(t, joinStandard, engine.strategies["event"])
	require.Equal(t, joinStandard, engine.strategies["incident"])
}

func TestJoinFragmentStandard(t *testing.T) {
	engine, reg := newTestEngine(t)
	d := descriptor(t, reg, "event")
	args := filter.NewArgs()

	join := engine.joinFragment(d, []int64{2, 1}, KindRead, args)
	require.Equal(t,
		" INNER JOIN permissions p ON p.target_type = $1 AND p.target_id = t.id AND p.permission = $2 AND p.role_id = ANY($3)",
		join)
	require.Equal(t, []any{"event", "read", []int64{2, 1}}, args.Values())
}

func TestJoinFragmentEntryJoinsThroughParent(t *testing.T) {
	engine, reg := newTestEngine(t)
	d := descriptor(t, reg, "entry")
	args := filter.NewArgs()

	// Entries are visible iff their parent object is: the join matches
	// grants on the parent's (type, id), never the entry's own row.
	join := engine.joinFragment(d, []int64{3}, KindRead, args)
	require.Equal(t,
		" INNER JOIN permissions p ON p.target_type = t.target_type AND p.target_id = t.target_id AND p.permission = $1 AND p.role_id = ANY($2)",
		join)
	require.Equal(t, []any{"read", []int64{3}}, args.Values())
}

func TestJoinFragmentEmptyRoleSet(t *testing.T) {
	engine, reg := newTestEngine(t)
	d := descriptor(t, reg, "event")
	args := filter.NewArgs()

	// No roles still joins; the empty set matches nothing.
	join := engine.joinFragment(d, nil, KindRead, args)
	require.Contains(t, join, "p.role_id = ANY($3)")
	require.Equal(t, []any{"event", "read", []int64{}}, args.Values())
}

func TestCountStatementDegroups(t *testing.T) {
	engine, reg := newTestEngine(t)
	d := descriptor(t, reg, "event")
	args := filter.NewArgs()

	join := engine.joinFragment(d, []int64{2, 3}, KindRead, args)
	// A row reachable through grants on several of the caller's roles
	// must count once.
	count := engine.countStatement(d, join, []string{"t.status = $4"})
	require.Equal(t,
		"SELECT COUNT(DISTINCT t.id) FROM events t"+join+" WHERE t.status = $4",
		count)
}

func TestListStatementDegroupsAndPaginates(t *testing.T) {
	engine, reg := newTestEngine(t)
	d := descriptor(t, reg, "event")
	args := filter.NewArgs()

	join := engine.joinFragment(d, []int64{2}, KindRead, args)
	query := engine.listStatement(d, join, nil, "t.created DESC", args, shared.ListWindow{Skip: 20, Limit: 10})

	require.Contains(t, query, "SELECT DISTINCT t.id, t.owner, t.created, t.modified, t.subject, t.status FROM events t")
	require.Contains(t, query, join)
	require.Contains(t, query, " ORDER BY t.created DESC LIMIT $4 OFFSET $5")
	require.Equal(t, []any{"event", "read", []int64{2}, 10, 20}, args.Values())
}

func TestWhitelistedTypesSkipTheJoin(t *testing.T) {
	engine, reg := newTestEngine(t)
	d := descriptor(t, reg, "tag")
	args := filter.NewArgs()

	count := engine.countStatement(d, "", nil)
	require.Equal(t, "SELECT COUNT(DISTINCT t.id) FROM tags t", count)

	query := engine.listStatement(d, "", nil, "t.id ASC", args, shared.ListWindow{Limit: 100})
	require.NotContains(t, query, "permissions")
	require.Equal(t, []any{100, 0}, args.Values())
}
