package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sandialabs/scot4-api-sub002/internal/entities"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
)

// Args accumulates positional query arguments. An offset lets callers
// compose builder output with predicates of their own.
type Args struct {
	vals []any
}

// NewArgs returns an empty argument list.
func NewArgs() *Args {
	return &Args{}
}

// Add appends a value and returns its placeholder.
func (a *Args) Add(v any) string {
	a.vals = append(a.vals, v)
	return "$" + strconv.Itoa(len(a.vals))
}

// Values returns the accumulated arguments in placeholder order.
func (a *Args) Values() []any {
	return a.vals
}

// Builder compiles parsed filter expressions into SQL predicates.
type Builder struct{}

// NewBuilder returns a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Conditions compiles a field→filter map into conjunctive WHERE
// fragments against the given table alias. The tag and source keys
// compile to a subquery through the links table; keys registered as
// JSON fields compile to jsonb sub-path predicates; every other key
// must name a registered column.
func (b *Builder) Conditions(d *entities.Descriptor, alias string, filters map[string]string, args *Args) ([]string, error) {
	conds := make([]string, 0, len(filters))
	for _, field := range sortedKeys(filters) {
		raw := filters[field]
		expr, err := Parse(raw)
		if err != nil {
			return nil, err
		}

		if (field == "tag" || field == "source") && d.Linkable {
			cond, err := b.linkedCondition(d, alias, field, expr, args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
			continue
		}

		if jf, ok := d.JSONFields[field]; ok {
			cond, err := b.jsonCondition(alias, jf, expr, args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
			continue
		}

		col, ok := d.Column(field)
		if !ok {
			return nil, fmt.Errorf("unknown filter field %q for %s: %w", field, d.Name, shared.ErrValidation)
		}
		cond, err := b.columnCondition(alias+"."+col.Name, col, expr, args)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

// OrderBy validates a sort specifier against the descriptor and
// returns the ORDER BY fragment. Unknown fields are a hard error.
func (b *Builder) OrderBy(d *entities.Descriptor, alias, spec string) (string, error) {
	s, err := ParseSort(spec)
	if err != nil {
		return "", err
	}
	col, ok := d.Column(s.Field)
	if !ok {
		return "", fmt.Errorf("unknown sort field %q for %s: %w", s.Field, d.Name, shared.ErrValidation)
	}
	dir := "ASC"
	if s.Descending {
		dir = "DESC"
	}
	return alias + "." + col.Name + " " + dir, nil
}

func (b *Builder) columnCondition(ref string, col entities.Column, expr Expr, args *Args) (string, error) {
	switch expr.Op {
	case OpEq:
		return b.scalarCondition(ref, col, expr.Value, expr.Negate, args)
	case OpRange:
		return b.rangeCondition(ref, col, expr, args)
	case OpIn:
		return b.listCondition(ref, col, expr, args)
	}
	return "", fmt.Errorf("unhandled filter op %d: %w", expr.Op, shared.ErrValidation)
}

func (b *Builder) scalarCondition(ref string, col entities.Column, value string, negate bool, args *Args) (string, error) {
	if col.Contains {
		ph := args.Add(containsPattern(value))
		if negate {
			return ref + ` NOT ILIKE ` + ph + ` ESCAPE '\'`, nil
		}
		return ref + ` ILIKE ` + ph + ` ESCAPE '\'`, nil
	}
	v, cast, err := coerce(col.Kind, value)
	if err != nil {
		return "", err
	}
	ph := args.Add(v) + cast
	if negate {
		return ref + " <> " + ph, nil
	}
	return ref + " = " + ph, nil
}

func (b *Builder) rangeCondition(ref string, col entities.Column, expr Expr, args *Args) (string, error) {
	// A pair on a contains-eligible column keeps contains semantics:
	// each end of the pair is substring-matched. List input is the
	// only way to force exact matching on those columns.
	if col.Contains {
		lo := args.Add(containsPattern(expr.Lo))
		hi := args.Add(containsPattern(expr.Hi))
		cond := "(" + ref + ` ILIKE ` + lo + ` ESCAPE '\' OR ` + ref + ` ILIKE ` + hi + ` ESCAPE '\')`
		if expr.Negate {
			return "NOT " + cond, nil
		}
		return cond, nil
	}
	if col.Kind == entities.ColText {
		// Ranges over plain string columns degrade to membership.
		return b.listCondition(ref, col, Expr{Op: OpIn, Negate: expr.Negate, Values: []string{expr.Lo, expr.Hi}}, args)
	}
	lov, cast, err := coerce(col.Kind, expr.Lo)
	if err != nil {
		return "", err
	}
	hiv, _, err := coerce(col.Kind, expr.Hi)
	if err != nil {
		return "", err
	}
	lo := args.Add(lov) + cast
	hi := args.Add(hiv) + cast
	if expr.Negate {
		return ref + " NOT BETWEEN " + lo + " AND " + hi, nil
	}
	return ref + " BETWEEN " + lo + " AND " + hi, nil
}

func (b *Builder) listCondition(ref string, col entities.Column, expr Expr, args *Args) (string, error) {
	var ph string
	switch col.Kind {
	case entities.ColInt:
		vals := make([]int64, len(expr.Values))
		for i, raw := range expr.Values {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return "", fmt.Errorf("list value %q is not an integer: %w", raw, shared.ErrValidation)
			}
			vals[i] = n
		}
		ph = args.Add(vals)
	case entities.ColTime:
		ph = args.Add(expr.Values) + "::timestamptz[]"
	default:
		ph = args.Add(expr.Values)
	}
	cond := ref + " = ANY(" + ph + ")"
	if expr.Negate {
		return "NOT (" + cond + ")", nil
	}
	return cond, nil
}

func (b *Builder) jsonCondition(alias string, jf entities.JSONField, expr Expr, args *Args) (string, error) {
	ref := alias + "." + jf.Column
	path := args.Add(jf.Path) + "::text[]"
	switch expr.Op {
	case OpEq:
		v := args.Add(expr.Value)
		// Matches either a scalar at the sub-path or membership in a
		// JSON array stored there.
		cond := "(" + ref + " #>> " + path + " = " + v + " OR " + ref + " #> " + path + " @> to_jsonb(" + v + "::text))"
		if expr.Negate {
			return "NOT " + cond, nil
		}
		return cond, nil
	case OpIn:
		v := args.Add(expr.Values)
		cond := ref + " #>> " + path + " = ANY(" + v + ")"
		if expr.Negate {
			return "NOT (" + cond + ")", nil
		}
		return cond, nil
	case OpRange:
		cond := ref + " #>> " + path + " = ANY(" + args.Add([]string{expr.Lo, expr.Hi}) + ")"
		if expr.Negate {
			return "NOT (" + cond + ")", nil
		}
		return cond, nil
	}
	return "", fmt.Errorf("unhandled json filter op %d: %w", expr.Op, shared.ErrValidation)
}

// linkedCondition compiles the tag/source pseudo-fields: objects are
// matched through the generic links table on the linked entity's name.
func (b *Builder) linkedCondition(d *entities.Descriptor, alias, field string, expr Expr, args *Args) (string, error) {
	linkedTable := "tags"
	if field == "source" {
		linkedTable = "sources"
	}

	nameCol := entities.Column{Name: "name", Kind: entities.ColText, Contains: true}
	// The negation applies to the whole linkage: "!foo" means "has no
	// such tag", not "has a tag that is not foo".
	inner := expr
	inner.Negate = false
	namePred, err := b.columnCondition("lk.name", nameCol, inner, args)
	if err != nil {
		return "", err
	}

	typePh := args.Add(d.Name)
	cond := "EXISTS (SELECT 1 FROM links ln JOIN " + linkedTable + " lk ON lk.id = ln.linked_id" +
		" WHERE ln.linked_type = " + args.Add(field) +
		" AND ln.target_type = " + typePh +
		" AND ln.target_id = " + alias + "." + d.IDColumn +
		" AND " + namePred + ")"
	if expr.Negate {
		return "NOT " + cond, nil
	}
	return cond, nil
}

func coerce(kind entities.ColumnKind, raw string) (any, string, error) {
	switch kind {
	case entities.ColInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("value %q is not an integer: %w", raw, shared.ErrValidation)
		}
		return n, "", nil
	case entities.ColBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, "", fmt.Errorf("value %q is not a boolean: %w", raw, shared.ErrValidation)
		}
		return v, "", nil
	case entities.ColTime:
		return raw, "::timestamptz", nil
	default:
		return raw, "", nil
	}
}

// containsPattern escapes LIKE wildcards in the user value and wraps
// it for substring matching, so a literal '%' in the search string is
// never interpreted as a pattern.
func containsPattern(value string) string {
	return "%" + escapeLike(value) + "%"
}

func escapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic predicate order keeps generated SQL stable for
	// logging and tests.
	sort.Strings(keys)
	return keys
}
