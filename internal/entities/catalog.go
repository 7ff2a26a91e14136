// Package entities describes the closed set of queryable entity kinds.
// The registry is built once at process start and handed to the
// permission and filter layers, so type metadata never lives in
// mutable global state.
package entities

import (
	"fmt"
	"sort"
)

// ColumnKind drives how filter expressions compile for a column.
type ColumnKind int

const (
	ColInt ColumnKind = iota
	ColText
	ColTime
	ColBool
)

// Column is one filterable/sortable column of an entity table.
type Column struct {
	Name string
	Kind ColumnKind
	// Contains marks text columns that default to substring matching
	// when filtered with a single scalar value.
	Contains bool
}

// JSONField maps a filter key onto a path inside a jsonb column.
type JSONField struct {
	Column string
	Path   []string
}

// ParentScope marks entities whose read permission is inherited from
// the object they are attached to rather than their own row.
type ParentScope struct {
	TypeColumn string
	IDColumn   string
}

// Descriptor holds the query metadata for one entity kind.
type Descriptor struct {
	Name        string
	Table       string
	IDColumn    string
	Columns     []Column
	JSONFields  map[string]JSONField
	Linkable    bool
	Whitelisted bool
	Parent      *ParentScope
}

// Column looks up a column by filter key.
func (d *Descriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the select list in declaration order.
func (d *Descriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Registry is the immutable catalog of entity descriptors.
type Registry struct {
	byName map[string]*Descriptor
}

// NewRegistry builds a registry from descriptors. Duplicate names are
// a programming error.
func NewRegistry(descriptors ...*Descriptor) (*Registry, error) {
	byName := make(map[string]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		if _, ok := byName[d.Name]; ok {
			return nil, fmt.Errorf("entities: duplicate descriptor %q", d.Name)
		}
		if d.IDColumn == "" {
			d.IDColumn = "id"
		}
		byName[d.Name] = d
	}
	return &Registry{byName: byName}, nil
}

// Lookup returns the descriptor for a type name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names lists registered type names sorted for stable iteration.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stdColumns() []Column {
	return []Column{
		{Name: "id", Kind: ColInt},
		{Name: "owner", Kind: ColText},
		{Name: "created", Kind: ColTime},
		{Name: "modified", Kind: ColTime},
	}
}

func withColumns(extra ...Column) []Column {
	return append(stdColumns(), extra...)
}

// DefaultRegistry returns the catalog of every queryable entity kind.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(
		&Descriptor{
			Name: "alert", Table: "alerts", Linkable: true,
			Columns: withColumns(
				Column{Name: "subject", Kind: ColText, Contains: true},
				Column{Name: "status", Kind: ColText},
				Column{Name: "alertgroup_id", Kind: ColInt},
			),
		},
		&Descriptor{
			Name: "alertgroup", Table: "alertgroups", Linkable: true,
			Columns: withColumns(
				Column{Name: "subject", Kind: ColText, Contains: true},
				Column{Name: "open_count", Kind: ColInt},
				Column{Name: "closed_count", Kind: ColInt},
			),
		},
		&Descriptor{
			Name: "event", Table: "events", Linkable: true,
			Columns: withColumns(
				Column{Name: "subject", Kind: ColText, Contains: true},
				Column{Name: "status", Kind: ColText},
			),
		},
		&Descriptor{
			Name: "incident", Table: "incidents", Linkable: true,
			Columns: withColumns(
				Column{Name: "subject", Kind: ColText, Contains: true},
				Column{Name: "status", Kind: ColText},
				Column{Name: "occurred", Kind: ColTime},
				Column{Name: "reported", Kind: ColTime},
			),
		},
		&Descriptor{
			Name: "intel", Table: "intels", Linkable: true,
			Columns: withColumns(
				Column{Name: "subject", Kind: ColText, Contains: true},
			),
		},
		&Descriptor{
			Name: "product", Table: "products", Linkable: true,
			Columns: withColumns(
				Column{Name: "subject", Kind: ColText, Contains: true},
			),
		},
		&Descriptor{
			Name: "dispatch", Table: "dispatches", Linkable: true,
			Columns: withColumns(
				Column{Name: "subject", Kind: ColText, Contains: true},
			),
		},
		&Descriptor{
			Name: "signature", Table: "signatures", Linkable: true,
			Columns: withColumns(
				Column{Name: "name", Kind: ColText, Contains: true},
				Column{Name: "signature_type", Kind: ColText},
			),
		},
		&Descriptor{
			Name: "guide", Table: "guides", Linkable: true,
			Columns: withColumns(
				Column{Name: "subject", Kind: ColText, Contains: true},
			),
		},
		&Descriptor{
			Name: "feed", Table: "feeds",
			Columns: withColumns(
				Column{Name: "name", Kind: ColText, Contains: true},
				Column{Name: "status", Kind: ColText},
				Column{Name: "uri", Kind: ColText},
			),
		},
		&Descriptor{
			Name: "file", Table: "files",
			Columns: withColumns(
				Column{Name: "filename", Kind: ColText, Contains: true},
				Column{Name: "content_type", Kind: ColText},
				Column{Name: "size", Kind: ColInt},
			),
		},
		// Entries inherit read permission from the object they are
		// attached to, never from their own row.
		&Descriptor{
			Name: "entry", Table: "entries",
			Parent: &ParentScope{TypeColumn: "target_type", IDColumn: "target_id"},
			Columns: withColumns(
				Column{Name: "target_type", Kind: ColText},
				Column{Name: "target_id", Kind: ColInt},
				Column{Name: "entry_class", Kind: ColText},
			),
			JSONFields: map[string]JSONField{
				"task_assignee": {Column: "entry_metadata", Path: []string{"task", "assignee"}},
				"task_status":   {Column: "entry_metadata", Path: []string{"task", "status"}},
			},
		},
		// Globally readable reference data: any authenticated principal
		// may list these without permission rows.
		&Descriptor{
			Name: "tag", Table: "tags", Whitelisted: true,
			Columns: withColumns(
				Column{Name: "name", Kind: ColText, Contains: true},
				Column{Name: "description", Kind: ColText, Contains: true},
			),
		},
		&Descriptor{
			Name: "source", Table: "sources", Whitelisted: true,
			Columns: withColumns(
				Column{Name: "name", Kind: ColText, Contains: true},
				Column{Name: "description", Kind: ColText, Contains: true},
			),
		},
		&Descriptor{
			Name: "entity", Table: "entities", Whitelisted: true,
			Columns: withColumns(
				Column{Name: "value", Kind: ColText, Contains: true},
				Column{Name: "type_name", Kind: ColText},
				Column{Name: "status", Kind: ColText},
			),
		},
		&Descriptor{
			Name: "entity_class", Table: "entity_classes", Whitelisted: true,
			Columns: withColumns(
				Column{Name: "name", Kind: ColText, Contains: true},
			),
		},
		&Descriptor{
			Name: "entity_type", Table: "entity_types", Whitelisted: true,
			Columns: withColumns(
				Column{Name: "name", Kind: ColText, Contains: true},
				Column{Name: "match_order", Kind: ColInt},
			),
		},
		&Descriptor{
			Name: "pivot", Table: "pivots", Whitelisted: true,
			Columns: withColumns(
				Column{Name: "title", Kind: ColText, Contains: true},
				Column{Name: "template", Kind: ColText},
			),
		},
		&Descriptor{
			Name: "special_metric", Table: "special_metrics", Whitelisted: true,
			Columns: withColumns(
				Column{Name: "name", Kind: ColText, Contains: true},
			),
		},
	)
	if err != nil {
		// DefaultRegistry is built from literals; a failure here is a
		// programming error caught by tests.
		panic(err)
	}
	return reg
}
