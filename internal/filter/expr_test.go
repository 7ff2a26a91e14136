package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

func TestParseScalar(t *testing.T) {
	expr, err := Parse("phishing")
	require.NoError(t, err)
	require.Equal(t, OpEq, expr.Op)
	require.Equal(t, "phishing", expr.Value)
	require.False(t, expr.Negate)
}

func TestParseNegatedScalar(t *testing.T) {
	expr, err := Parse("!closed")
	require.NoError(t, err)
	require.Equal(t, OpEq, expr.Op)
	require.Equal(t, "closed", expr.Value)
	require.True(t, expr.Negate)
}

func TestParseRange(t *testing.T) {
	expr, err := Parse("(2026-01-01, 2026-02-01)")
	require.NoError(t, err)
	require.Equal(t, OpRange, expr.Op)
	require.Equal(t, "2026-01-01", expr.Lo)
	require.Equal(t, "2026-02-01", expr.Hi)

	_, err = Parse("(1,2,3)")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = Parse("(1)")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestParseList(t *testing.T) {
	expr, err := Parse("![open, closed, promoted]")
	require.NoError(t, err)
	require.Equal(t, OpIn, expr.Op)
	require.True(t, expr.Negate)
	require.Equal(t, []string{"open", "closed", "promoted"}, expr.Values)

	_, err = Parse("[]")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestParseEscapedLeaders(t *testing.T) {
	// A leading backslash turns the operator characters into literals.
	expr, err := Parse(`\[literal`)
	require.NoError(t, err)
	require.Equal(t, OpEq, expr.Op)
	require.Equal(t, "[literal", expr.Value)

	expr, err = Parse(`!\!bang`)
	require.NoError(t, err)
	require.True(t, expr.Negate)
	require.Equal(t, "!bang", expr.Value)

	expr, err = Parse(`\(paren`)
	require.NoError(t, err)
	require.Equal(t, "(paren", expr.Value)
}

func TestParseSort(t *testing.T) {
	s, err := ParseSort("created")
	require.NoError(t, err)
	require.Equal(t, Sort{Field: "created"}, s)

	s, err = ParseSort("-modified")
	require.NoError(t, err)
	require.Equal(t, Sort{Field: "modified", Descending: true}, s)

	s, err = ParseSort("+id")
	require.NoError(t, err)
	require.Equal(t, Sort{Field: "id"}, s)

	_, err = ParseSort("")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = ParseSort("-")
	require.ErrorIs(t, err, shared.ErrValidation)
}
