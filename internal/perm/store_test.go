package perm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandialabs/scot4-api-sub002/internal/entities"
)

func TestTargetTableCoversGrantableTypes(t *testing.T) {
	reg := entities.DefaultRegistry()

	// Registry-backed entity types resolve through their descriptor.
	table, idCol, ok := targetTable(reg, TargetEvent)
	require.True(t, ok)
	require.Equal(t, "events", table)
	require.Equal(t, "id", idCol)

	table, _, ok = targetTable(reg, TargetTag)
	require.True(t, ok)
	require.Equal(t, "tags", table)

	// Roles and API keys are grantable but live outside the entity
	// registry; they resolve through the auxiliary map.
	table, idCol, ok = targetTable(reg, TargetRole)
	require.True(t, ok)
	require.Equal(t, "roles", table)
	require.Equal(t, "id", idCol)

	table, _, ok = targetTable(reg, TargetAPIKey)
	require.True(t, ok)
	require.Equal(t, "api_keys", table)

	// No backing rows: the admin pseudo-target is exempted by callers
	// and none is never grantable.
	_, _, ok = targetTable(reg, TargetAdmin)
	require.False(t, ok)
	_, _, ok = targetTable(reg, TargetNone)
	require.False(t, ok)
}
