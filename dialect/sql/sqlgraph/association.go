package sqlgraph

import (
	"strings"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/mapping"
)

// JoinType is the kind of SQL join of an association.
type JoinType uint8

// Join types.
const (
	InnerJoin JoinType = iota
	LeftOuterJoin
)

// String returns the SQL keyword of the join type.
func (j JoinType) String() string {
	if j == InnerJoin {
		return "inner join"
	}
	return "left outer join"
}

// Association describes one planned join. It is created by the walker and
// not modified afterwards. Its position in a walk determines the join order
// and the suffixes of the columns it selects.
type Association struct {
	// Path is the property path from the root, e.g. "items.product".
	Path string
	// Property is the association property. It is nil for the element
	// join of a many-to-many collection.
	Property *mapping.Property
	// Entity is the entity read through the join: the target of an entity
	// association or the element of a one-to-many or many-to-many.
	Entity *mapping.Entity
	// Collection is set for collection joins.
	Collection *mapping.Collection
	// LHSTable, LHSAlias and LHSColumns describe the owning side.
	LHSTable   string
	LHSAlias   string
	LHSColumns []string
	// RHSTable, RHSAlias and RHSColumns describe the joined table.
	RHSTable   string
	RHSAlias   string
	RHSColumns []string
	// JoinType is the join kind.
	JoinType JoinType
	// On is an extra join predicate (filters, caller conditions), and
	// OnArgs its arguments.
	On     string
	OnArgs []any
	// Depth is the walk depth the join was planned at.
	Depth int
}

// IsCollection reports whether the association joins a collection.
func (a *Association) IsCollection() bool { return a.Collection != nil }

// ConsumesEntityAlias reports whether the join reads entity rows: entity
// associations and one-to-many collections.
func (a *Association) ConsumesEntityAlias() bool {
	return a.Collection == nil || a.Collection.IsOneToMany()
}

// ConsumesCollectionAlias reports whether the join reads collection rows.
func (a *Association) ConsumesCollectionAlias() bool { return a.Collection != nil }

// IsOneToOne reports whether the association is a one-to-one.
func (a *Association) IsOneToOne() bool {
	return a.Collection == nil && a.Property != nil && a.Property.OneToOne
}

// HasRestriction reports whether the join carries an extra predicate. A
// restricted collection join does not load the collection.
func (a *Association) HasRestriction() bool { return a.On != "" }

// IsManyToManyWith reports whether next is the element join of this
// many-to-many collection join.
func (a *Association) IsManyToManyWith(next *Association) bool {
	return next != nil && a.Collection != nil && a.Collection.IsManyToMany() &&
		next.Collection == nil && next.Property == nil &&
		next.LHSAlias == a.RHSAlias && next.Entity == a.Collection.ElementEntity()
}

// Owner returns the index in entityAliases of the entity owning a
// one-to-one or collection association, or -1.
func (a *Association) Owner(entityAliases []string) int {
	if !a.IsOneToOne() && !a.IsCollection() {
		return -1
	}
	for i, alias := range entityAliases {
		if alias == a.LHSAlias {
			return i
		}
	}
	return -1
}

// Key returns the foreign key of the association for duplicate detection.
func (a *Association) Key() AssociationKey {
	if a.Property != nil && a.Property.Direction() == mapping.ToParent {
		return NewAssociationKey(a.RHSTable, a.RHSColumns)
	}
	return NewAssociationKey(a.LHSTable, a.LHSColumns)
}

func (a *Association) validate() error {
	if len(a.LHSColumns) == 0 || len(a.LHSColumns) != len(a.RHSColumns) {
		return fetchgraph.NewMappingError(a.Path, "invalid join columns for association")
	}
	return nil
}

// condition renders the join condition: "lhs.a=rhs.b and ...".
func (a *Association) condition(extra string) string {
	var b strings.Builder
	for i := range a.LHSColumns {
		if i > 0 {
			b.WriteString(" and ")
		}
		b.WriteString(a.LHSAlias)
		b.WriteByte('.')
		b.WriteString(a.LHSColumns[i])
		b.WriteByte('=')
		b.WriteString(a.RHSAlias)
		b.WriteByte('.')
		b.WriteString(a.RHSColumns[i])
	}
	for _, cond := range []string{a.On, extra} {
		if cond != "" {
			b.WriteString(" and ")
			b.WriteString(cond)
		}
	}
	return b.String()
}

// AssociationKey identifies a foreign key: a table and its columns. Each
// key is joined at most once per walk.
type AssociationKey struct {
	Table   string
	Columns string
}

// NewAssociationKey returns the key of the foreign key columns of table.
func NewAssociationKey(table string, columns []string) AssociationKey {
	return AssociationKey{Table: table, Columns: strings.Join(columns, ",")}
}

// String formats the key for messages.
func (k AssociationKey) String() string {
	return k.Table + "(" + k.Columns + ")"
}
