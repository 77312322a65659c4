package sqlgraph

import (
	"slices"
	"strings"

	"github.com/syssam/fetchgraph/mapping"
)

// Keys of alias overrides that do not name a property.
const (
	OverrideID            = "id"
	OverrideDiscriminator = "class"
	OverrideKey           = "key"
	OverrideIndex         = "index"
	OverrideElement       = "element"
)

type selectColumn struct {
	column string
	alias  string
}

// EntityAliases maps the columns of one entity occurrence in a statement
// to result column aliases. Every property of the entity's subclasses is
// included, so any concrete class can be read from the row.
type EntityAliases struct {
	suffix        string
	keys          []string
	discriminator string
	version       string
	properties    map[string][]string
	columns       []selectColumn
}

// NewEntityAliases returns the aliases of e for a result suffix. overrides
// replaces generated aliases per property name, OverrideID and
// OverrideDiscriminator.
func NewEntityAliases(e *mapping.Entity, suffix string, overrides map[string][]string) *EntityAliases {
	index := columnIndex(entityColumns(e.Root()))
	a := &EntityAliases{
		suffix:     suffix,
		properties: make(map[string][]string),
	}
	alias := func(col string) string {
		return columnAlias(col, index[strings.ToLower(col)], suffix)
	}
	aliasAll := func(name string, cols []string) []string {
		if o, ok := overrides[name]; ok && len(o) == len(cols) {
			a.add(cols, o)
			return o
		}
		as := make([]string, len(cols))
		for i, c := range cols {
			as[i] = alias(c)
		}
		a.add(cols, as)
		return as
	}
	a.keys = aliasAll(OverrideID, e.ID.Columns)
	if d := e.Root().Discriminator; d != nil {
		a.discriminator = aliasAll(OverrideDiscriminator, []string{d.Column})[0]
	}
	if v := e.Version; v != nil {
		a.version = aliasAll(v.Name, []string{v.Column})[0]
	}
	for _, p := range e.SubclassProperties() {
		if cols := p.ColumnNames(); len(cols) > 0 {
			a.properties[p.Name] = aliasAll(p.Name, cols)
		}
	}
	return a
}

func (a *EntityAliases) add(cols, aliases []string) {
	for i, c := range cols {
		sc := selectColumn{column: c, alias: aliases[i]}
		if !slices.Contains(a.columns, sc) {
			a.columns = append(a.columns, sc)
		}
	}
}

// Suffix returns the result suffix of the entity.
func (a *EntityAliases) Suffix() string { return a.suffix }

// KeyAliases returns the aliases of the identifier columns.
func (a *EntityAliases) KeyAliases() []string { return a.keys }

// DiscriminatorAlias returns the alias of the discriminator column, or "".
func (a *EntityAliases) DiscriminatorAlias() string { return a.discriminator }

// VersionAlias returns the alias of the version column, or "".
func (a *EntityAliases) VersionAlias() string { return a.version }

// PropertyAliases returns the aliases of the columns of the named property.
// Component columns are flattened in declaration order.
func (a *EntityAliases) PropertyAliases(name string) []string { return a.properties[name] }

// SelectFragment renders the select list of the entity read from the
// table aliased tableAlias.
func (a *EntityAliases) SelectFragment(tableAlias string) string {
	return renderSelect(tableAlias, a.columns)
}

// CollectionAliases maps the columns of one collection occurrence in a
// statement to result column aliases.
type CollectionAliases struct {
	suffix   string
	keys     []string
	index    string
	elements []string
	columns  []selectColumn
	elemCols []string
}

// NewCollectionAliases returns the aliases of c for a result suffix.
// overrides replaces generated aliases for OverrideKey, OverrideIndex and
// OverrideElement.
func NewCollectionAliases(c *mapping.Collection, suffix string, overrides map[string][]string) *CollectionAliases {
	a := &CollectionAliases{suffix: suffix}
	var cols []string
	cols = append(cols, c.KeyColumns...)
	if c.IndexColumn != "" {
		cols = append(cols, c.IndexColumn)
	}
	a.elemCols = elementColumns(c)
	cols = append(cols, a.elemCols...)
	index := columnIndex(cols)
	aliasAll := func(name string, cols []string) []string {
		as, ok := overrides[name]
		if !ok || len(as) != len(cols) {
			as = make([]string, len(cols))
			for i, col := range cols {
				as[i] = columnAlias(col, index[strings.ToLower(col)], suffix)
			}
		}
		return as
	}
	a.keys = aliasAll(OverrideKey, c.KeyColumns)
	for i, k := range c.KeyColumns {
		a.columns = append(a.columns, selectColumn{column: k, alias: a.keys[i]})
	}
	if c.IndexColumn != "" {
		a.index = aliasAll(OverrideIndex, []string{c.IndexColumn})[0]
		a.columns = append(a.columns, selectColumn{column: c.IndexColumn, alias: a.index})
	}
	a.elements = aliasAll(OverrideElement, a.elemCols)
	for i, col := range a.elemCols {
		a.columns = append(a.columns, selectColumn{column: col, alias: a.elements[i]})
	}
	return a
}

// elementColumns returns the columns holding the element value: the
// element identifier of a one-to-many, the link columns of a many-to-many,
// the value column or the component columns otherwise.
func elementColumns(c *mapping.Collection) []string {
	switch {
	case c.IsOneToMany():
		return c.ElementEntity().ID.Columns
	case c.IsManyToMany():
		return c.ElementColumns
	case c.ElementComponent != nil:
		return c.ElementComponent.ColumnNames()
	default:
		return []string{c.ElementColumn}
	}
}

// Suffix returns the result suffix of the collection.
func (a *CollectionAliases) Suffix() string { return a.suffix }

// KeyAliases returns the aliases of the key columns.
func (a *CollectionAliases) KeyAliases() []string { return a.keys }

// IndexAlias returns the alias of the index column, or "".
func (a *CollectionAliases) IndexAlias() string { return a.index }

// ElementAliases returns the aliases of the element columns.
func (a *CollectionAliases) ElementAliases() []string { return a.elements }

// SelectFragment renders the select list of the collection read from the
// table aliased tableAlias.
func (a *CollectionAliases) SelectFragment(tableAlias string) string {
	return renderSelect(tableAlias, a.columns)
}

// ManyToManySelectFragment renders the select list of a many-to-many whose
// element table is joined as elementAlias: element values are read from
// the element table, so an element excluded by the join reads as NULL.
func (a *CollectionAliases) ManyToManySelectFragment(tableAlias, elementAlias string, elementColumns []string) string {
	n := len(a.columns) - len(a.elements)
	s := renderSelect(tableAlias, a.columns[:n])
	elems := make([]selectColumn, len(a.elements))
	for i := range elems {
		elems[i] = selectColumn{column: elementColumns[i], alias: a.elements[i]}
	}
	if e := renderSelect(elementAlias, elems); e != "" {
		if s != "" {
			s += ", "
		}
		s += e
	}
	return s
}

func renderSelect(tableAlias string, cols []selectColumn) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tableAlias)
		b.WriteByte('.')
		b.WriteString(c.column)
		b.WriteString(" as ")
		b.WriteString(c.alias)
	}
	return b.String()
}

// entityColumns lists the columns of an entity hierarchy in a stable order.
func entityColumns(root *mapping.Entity) []string {
	var cols []string
	cols = append(cols, root.ID.Columns...)
	if d := root.Discriminator; d != nil {
		cols = append(cols, d.Column)
	}
	if v := root.Version; v != nil {
		cols = append(cols, v.Column)
	}
	for _, p := range root.SubclassProperties() {
		cols = append(cols, p.ColumnNames()...)
	}
	return cols
}

// columnIndex numbers distinct columns from 1 in order of appearance.
func columnIndex(cols []string) map[string]int {
	index := make(map[string]int, len(cols))
	for _, c := range cols {
		c = strings.ToLower(c)
		if _, ok := index[c]; !ok {
			index[c] = len(index) + 1
		}
	}
	return index
}
