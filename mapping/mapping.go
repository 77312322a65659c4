package mapping

import (
	"fmt"
	"strings"
)

// Kind is the kind of a property.
type Kind uint8

// Property kinds.
const (
	KindBasic Kind = iota
	KindEntity
	KindCollection
	KindComponent
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindEntity:
		return "entity"
	case KindCollection:
		return "collection"
	case KindComponent:
		return "component"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// FetchMode tells the walker how an association is fetched.
type FetchMode uint8

// Fetch modes.
const (
	// FetchDefault joins entity associations whose target is not proxied
	// and never joins collections.
	FetchDefault FetchMode = iota
	// FetchJoin always joins.
	FetchJoin
	// FetchSelect never joins; the association is loaded by its own statement.
	FetchSelect
)

// String returns the fetch mode name.
func (m FetchMode) String() string {
	switch m {
	case FetchJoin:
		return "join"
	case FetchSelect:
		return "select"
	default:
		return "default"
	}
}

// Direction is the direction of the foreign key backing an association.
type Direction uint8

// Foreign key directions.
const (
	// FromParent means the foreign key lives in the owner's table and
	// references the target.
	FromParent Direction = iota
	// ToParent means the foreign key lives in the target (or link) table and
	// references the owner.
	ToParent
)

// CollectionKind is the semantics of a collection.
type CollectionKind uint8

// Collection kinds.
const (
	Bag CollectionKind = iota
	Set
	List
	Map
	Array
)

// String returns the collection kind name.
func (k CollectionKind) String() string {
	switch k {
	case Bag:
		return "bag"
	case Set:
		return "set"
	case List:
		return "list"
	case Map:
		return "map"
	case Array:
		return "array"
	default:
		return fmt.Sprintf("collection(%d)", k)
	}
}

// Indexed reports whether elements are addressed by an index column.
func (k CollectionKind) Indexed() bool {
	return k == List || k == Map || k == Array
}

type (
	// Entity describes one persistent entity type.
	Entity struct {
		// Name is the entity name, e.g. "Order".
		Name string
		// Table is the table rows are stored in. Subclasses share the
		// table of their root.
		Table string
		// ID describes the identifier. Subclasses inherit it.
		ID *Identifier
		// Version is the optimistic lock property, if any.
		Version *Version
		// Discriminator is set on the root of a hierarchy with subclasses.
		Discriminator *Discriminator
		// DiscriminatorValue is the value identifying rows of this class.
		DiscriminatorValue any
		// Parent is the name of the superclass entity.
		Parent string
		// Properties declared on this class. Inherited properties are
		// resolved by the registry.
		Properties []*Property
		// Proxy marks the entity as lazily proxied: associations pointing
		// at it are not joined unless asked to.
		Proxy bool
		// Filters are the filter conditions applying to this entity.
		Filters []*Filter
		// NaturalID names the properties forming the natural key.
		NaturalID []string
		// MutableNaturalID marks the natural key as updatable.
		MutableNaturalID bool
		// Tuplizer overrides the registry tuplizer for this entity.
		Tuplizer Tuplizer

		parent     *Entity
		root       *Entity
		subclasses []*Entity
		props      []*Property
		propIndex  map[string]*Property
		allProps   []*Property
	}

	// Identifier describes the identifier property of an entity.
	Identifier struct {
		// Name of the identifier property.
		Name string
		// Columns holding the identifier, more than one for composite keys.
		Columns []string
		// Types of the columns. A missing entry means TypeAny.
		Types []Type
	}

	// Version describes the version property.
	Version struct {
		Name   string
		Column string
		Type   Type
	}

	// Discriminator describes the column selecting the concrete subclass.
	Discriminator struct {
		Column string
		Type   Type
	}

	// Property describes one property of an entity or a component.
	Property struct {
		// Name of the property.
		Name string
		// Kind of the property.
		Kind Kind
		// Type of a basic property.
		Type Type
		// Columns of the property in its owner's table. For a basic property
		// a single column. For a many-to-one the foreign key columns. For a
		// one-to-one, empty means the owner's identifier columns.
		Columns []string
		// Nullable reports whether the association may be absent.
		Nullable bool
		// Lazy basic properties are read only when all properties are fetched.
		Lazy bool
		// Fetch is the fetch mode of an association.
		Fetch FetchMode
		// Target is the entity name of an entity association.
		Target string
		// OneToOne marks an entity association as one-to-one.
		OneToOne bool
		// Constrained marks a one-to-one whose key references the target,
		// making the foreign key direction FromParent.
		Constrained bool
		// ReferencedColumns are the target columns the association joins on.
		// Empty means the target's identifier columns.
		ReferencedColumns []string
		// Role names the collection of a collection property.
		Role string
		// Component holds the sub-properties of a component property.
		Component *Component
	}

	// Component is an embedded value type.
	Component struct {
		Properties []*Property
	}

	// Collection describes one collection role.
	Collection struct {
		// Role is the unique role name, e.g. "Order.items".
		Role string
		// Kind of the collection.
		Kind CollectionKind
		// Owner is the owning entity name.
		Owner string
		// Table holding the collection rows: the link table of a
		// many-to-many, the element table of a one-to-many.
		Table string
		// KeyColumns reference the owner in Table.
		KeyColumns []string
		// ReferencedColumns are the owner columns the key references.
		// Empty means the owner's identifier columns.
		ReferencedColumns []string
		// IndexColumn holds the list position or map key.
		IndexColumn string
		IndexType   Type
		// ElementColumn holds basic element values.
		ElementColumn string
		ElementType   Type
		// Element is the element entity name of entity collections.
		Element string
		// OneToMany marks an entity collection stored in the element table.
		OneToMany bool
		// ElementColumns reference the element entity from a link table.
		ElementColumns []string
		// ElementReferencedColumns are the element columns referenced by
		// ElementColumns. Empty means the element's identifier columns.
		ElementReferencedColumns []string
		// ElementComponent describes composite elements.
		ElementComponent *Component
		// Fetch is the fetch mode of the collection.
		Fetch FetchMode
		// ElementFetch is the fetch mode of the element join of a many-to-many.
		ElementFetch FetchMode
		// BatchSize is the number of owners loaded per batch statement.
		BatchSize int
		// OrderBy is the native ordering of the collection table.
		OrderBy []Order
		// ManyToManyOrderBy is the ordering applied to the element table.
		ManyToManyOrderBy []Order
		// Filters restrict collection rows.
		Filters []*Filter
		// ManyToManyFilters restrict element rows of a many-to-many.
		ManyToManyFilters []*Filter

		owner   *Entity
		element *Entity
		prop    string
	}

	// Order is one ordering column.
	Order struct {
		Column string
		Desc   bool
	}
)

// IsAssociation reports whether the property points at an entity or a collection.
func (p *Property) IsAssociation() bool {
	return p.Kind == KindEntity || p.Kind == KindCollection
}

// Direction returns the direction of the foreign key behind the property.
func (p *Property) Direction() Direction {
	switch {
	case p.Kind == KindCollection:
		return ToParent
	case p.Kind == KindEntity && p.OneToOne && !p.Constrained:
		return ToParent
	default:
		return FromParent
	}
}

// Root returns the root entity of the hierarchy.
func (e *Entity) Root() *Entity {
	if e.root == nil {
		return e
	}
	return e.root
}

// Super returns the superclass entity, or nil.
func (e *Entity) Super() *Entity { return e.parent }

// Subclasses returns all direct and indirect subclasses.
func (e *Entity) Subclasses() []*Entity { return e.subclasses }

// HasSubclasses reports whether the entity has subclasses.
func (e *Entity) HasSubclasses() bool { return len(e.subclasses) > 0 }

// Includes reports whether x is e or one of its subclasses.
func (e *Entity) Includes(x *Entity) bool {
	for ; x != nil; x = x.parent {
		if x == e {
			return true
		}
	}
	return false
}

// Property returns the named property visible on the entity, including
// inherited ones.
func (e *Entity) Property(name string) (*Property, bool) {
	p, ok := e.propIndex[name]
	return p, ok
}

// AllProperties returns the properties of the entity, including inherited ones.
func (e *Entity) AllProperties() []*Property { return e.props }

// SubclassProperties returns the properties of the entity and of all its
// subclasses. A statement selecting this entity selects these columns.
func (e *Entity) SubclassProperties() []*Property { return e.allProps }

// DeclaringEntity returns the class of the hierarchy under e declaring p.
func (e *Entity) DeclaringEntity(p *Property) *Entity {
	for _, c := range append([]*Entity{e}, e.subclasses...) {
		for _, q := range c.Properties {
			if q == p {
				return c
			}
		}
	}
	for c := e.parent; c != nil; c = c.parent {
		for _, q := range c.Properties {
			if q == p {
				return c
			}
		}
	}
	return e
}

// SubclassFor returns the class of the hierarchy rooted at e whose
// discriminator value equals v. An entity without subclasses returns itself.
func (e *Entity) SubclassFor(v any) (*Entity, bool) {
	if !e.HasSubclasses() {
		return e, true
	}
	d := e.Root().Discriminator
	for _, c := range append([]*Entity{e}, e.subclasses...) {
		if c.DiscriminatorValue != nil && d.Type.Equal(c.DiscriminatorValue, v) {
			return c, true
		}
	}
	return nil, false
}

// IsVersioned reports whether the entity has a version property.
func (e *Entity) IsVersioned() bool { return e.Version != nil }

// HasImmutableNaturalID reports whether the entity has a natural key that
// cannot change.
func (e *Entity) HasImmutableNaturalID() bool {
	return len(e.NaturalID) > 0 && !e.MutableNaturalID
}

// QuerySpaces returns the tables the entity is read from.
func (e *Entity) QuerySpaces() []string { return []string{e.Table} }

// IDType returns the type of the i-th identifier column.
func (e *Entity) IDType(i int) Type {
	if i < len(e.ID.Types) {
		return e.ID.Types[i]
	}
	return TypeAny
}

// IDKey normalizes identifier column values into a comparable identifier:
// a scalar for single column identifiers, a Tuple for composite ones.
// A NULL in any column returns nil.
func (e *Entity) IDKey(values []any) (any, error) {
	if len(values) != len(e.ID.Columns) {
		return nil, fmt.Errorf("mapping: %s identifier has %d columns, got %d values", e.Name, len(e.ID.Columns), len(values))
	}
	parts := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			return nil, nil
		}
		k, err := e.IDType(i).Key(v)
		if err != nil {
			return nil, fmt.Errorf("mapping: %s identifier column %s: %w", e.Name, e.ID.Columns[i], err)
		}
		parts[i] = k
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return NewTuple(parts...)
}

// NormalizeID normalizes a caller supplied identifier. Composite
// identifiers are passed as a Tuple or as a []any.
func (e *Entity) NormalizeID(id any) (any, error) {
	return e.IDKey(e.IDValues(id))
}

// IDValues returns the column values of an identifier.
func (e *Entity) IDValues(id any) []any {
	switch id := id.(type) {
	case Tuple:
		return id.Parts()
	case []any:
		return id
	default:
		return []any{id}
	}
}

// String returns the entity name.
func (e *Entity) String() string { return e.Name }

// OwnerEntity returns the owning entity.
func (c *Collection) OwnerEntity() *Entity { return c.owner }

// ElementEntity returns the element entity of an entity collection, or nil.
func (c *Collection) ElementEntity() *Entity { return c.element }

// PropertyName returns the name of the owner property holding the collection.
func (c *Collection) PropertyName() string { return c.prop }

// IsManyToMany reports whether the collection joins its elements through
// a link table.
func (c *Collection) IsManyToMany() bool {
	return c.Element != "" && !c.OneToMany
}

// IsOneToMany reports whether elements live in the collection table.
func (c *Collection) IsOneToMany() bool {
	return c.Element != "" && c.OneToMany
}

// HasOrdering reports whether the collection has a native ordering.
func (c *Collection) HasOrdering() bool { return len(c.OrderBy) > 0 }

// HasManyToManyOrdering reports whether the element table has an ordering.
func (c *Collection) HasManyToManyOrdering() bool { return len(c.ManyToManyOrderBy) > 0 }

// OwnerKeyColumns returns the owner columns the collection key references.
func (c *Collection) OwnerKeyColumns() []string {
	if len(c.ReferencedColumns) > 0 {
		return c.ReferencedColumns
	}
	return c.owner.ID.Columns
}

// KeyProperties returns the owner properties holding the columns a key
// references, or nil when the key references the owner's identifier.
// A referenced column not mapped by a basic property yields a nil entry.
func (c *Collection) KeyProperties() []*Property {
	if len(c.ReferencedColumns) == 0 {
		return nil
	}
	props := make([]*Property, len(c.ReferencedColumns))
	for i, col := range c.ReferencedColumns {
		props[i] = c.owner.propertyByColumn(col)
	}
	return props
}

// KeyType returns the type of the i-th key column.
func (c *Collection) KeyType(i int) Type {
	if len(c.ReferencedColumns) == 0 {
		return c.owner.IDType(i)
	}
	if p := c.owner.propertyByColumn(c.ReferencedColumns[i]); p != nil {
		return p.Type
	}
	return TypeAny
}

// KeyOf normalizes collection key column values into a comparable key.
func (c *Collection) KeyOf(values []any) (any, error) {
	parts := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			return nil, nil
		}
		k, err := c.KeyType(i).Key(v)
		if err != nil {
			return nil, fmt.Errorf("mapping: %s key column %s: %w", c.Role, c.KeyColumns[i], err)
		}
		parts[i] = k
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return NewTuple(parts...)
}

// QuerySpaces returns the tables the collection is read from.
func (c *Collection) QuerySpaces() []string {
	if c.IsManyToMany() {
		return []string{c.Table, c.element.Table}
	}
	return []string{c.Table}
}

// String returns the role.
func (c *Collection) String() string { return c.Role }

func (e *Entity) propertyByColumn(column string) *Property {
	for _, p := range e.props {
		if p.Kind == KindBasic && len(p.Columns) == 1 && strings.EqualFold(p.Columns[0], column) {
			return p
		}
	}
	return nil
}

// RenderOrder renders orderings qualified by alias.
func RenderOrder(alias string, orders []Order) string {
	var b strings.Builder
	for i, o := range orders {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(alias)
		b.WriteByte('.')
		b.WriteString(o.Column)
		if o.Desc {
			b.WriteString(" desc")
		} else {
			b.WriteString(" asc")
		}
	}
	return b.String()
}

// ColumnNames returns the columns the property reads from its owner's table,
// flattening components. Collections and one-to-one associations on the
// owner's identifier read no columns of their own.
func (p *Property) ColumnNames() []string {
	switch p.Kind {
	case KindBasic, KindEntity:
		return p.Columns
	case KindComponent:
		var cols []string
		for _, sub := range p.Component.Properties {
			cols = append(cols, sub.ColumnNames()...)
		}
		return cols
	default:
		return nil
	}
}

// ColumnNames returns the columns of all properties of the component.
func (c *Component) ColumnNames() []string {
	var cols []string
	for _, p := range c.Properties {
		cols = append(cols, p.ColumnNames()...)
	}
	return cols
}
