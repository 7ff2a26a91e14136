// Package filter translates caller-supplied field filters into SQL
// predicates for a registered entity table.
package filter

import (
	"fmt"
	"strings"

	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// Op is the shape of a filter expression.
type Op int

const (
	// OpEq matches a single scalar value. On contains-eligible text
	// columns this compiles to substring matching.
	OpEq Op = iota
	// OpRange matches an inclusive two-ended range.
	OpRange
	// OpIn matches any of an explicit value list. Exact matching even
	// on contains-eligible columns.
	OpIn
)

// Expr is one parsed filter expression.
type Expr struct {
	Op     Op
	Negate bool
	Value  string
	Lo, Hi string
	Values []string
}

// Parse decodes the wire encoding of a filter value:
//
//	v        scalar
//	!v       negated scalar
//	(a,b)    range of exactly two values
//	[a,b,c]  list
//	\!v      literal value starting with '!' (same for '(' and '[')
func Parse(raw string) (Expr, error) {
	var expr Expr

	if strings.HasPrefix(raw, "!") {
		expr.Negate = true
		raw = raw[1:]
	}

	switch {
	case strings.HasPrefix(raw, `\!`), strings.HasPrefix(raw, `\(`), strings.HasPrefix(raw, `\[`):
		expr.Op = OpEq
		expr.Value = raw[1:]
	case strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")"):
		parts := splitValues(raw[1 : len(raw)-1])
		if len(parts) != 2 {
			return Expr{}, fmt.Errorf("range filter needs exactly two values, got %d: %w", len(parts), shared.ErrValidation)
		}
		expr.Op = OpRange
		expr.Lo, expr.Hi = parts[0], parts[1]
	case strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]"):
		parts := splitValues(raw[1 : len(raw)-1])
		if len(parts) == 0 {
			return Expr{}, fmt.Errorf("list filter needs at least one value: %w", shared.ErrValidation)
		}
		expr.Op = OpIn
		expr.Values = parts
	default:
		expr.Op = OpEq
		expr.Value = raw
	}

	return expr, nil
}

func splitValues(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Sort is a parsed sort specifier.
type Sort struct {
	Field      string
	Descending bool
}

// ParseSort decodes a sort specifier: a field name optionally prefixed
// with '+' (ascending, default) or '-' (descending).
func ParseSort(spec string) (Sort, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Sort{}, fmt.Errorf("empty sort specifier: %w", shared.ErrValidation)
	}
	s := Sort{Field: spec}
	switch spec[0] {
	case '-':
		s.Descending = true
		s.Field = spec[1:]
	case '+':
		s.Field = spec[1:]
	}
	if s.Field == "" {
		return Sort{}, fmt.Errorf("sort specifier %q has no field: %w", spec, shared.ErrValidation)
	}
	return s, nil
}
