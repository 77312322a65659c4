package mapping

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/fetchgraph"
)

// Registry holds the metadata of all entities and collections of a
// persistence unit. It is populated with Add* and sealed with Build.
// A built registry is read-only and safe for concurrent use.
type Registry struct {
	entities    map[string]*Entity
	collections map[string]*Collection
	filters     map[string]*FilterDef
	profiles    map[string]*FetchProfile
	tuplizer    Tuplizer
	built       bool
}

// NewRegistry returns an empty registry using the Record tuplizer.
func NewRegistry() *Registry {
	return &Registry{
		entities:    make(map[string]*Entity),
		collections: make(map[string]*Collection),
		filters:     make(map[string]*FilterDef),
		profiles:    make(map[string]*FetchProfile),
		tuplizer:    RecordTuplizer{},
	}
}

// SetTuplizer sets the tuplizer used for entities without their own.
func (r *Registry) SetTuplizer(t Tuplizer) *Registry {
	r.tuplizer = t
	return r
}

// AddEntity registers an entity.
func (r *Registry) AddEntity(e *Entity) error {
	if err := r.mutable(); err != nil {
		return err
	}
	if e.Name == "" {
		return fetchgraph.NewMappingError("", "entity without name")
	}
	if _, ok := r.entities[e.Name]; ok {
		return fetchgraph.NewMappingError(e.Name, "duplicate entity")
	}
	r.entities[e.Name] = e
	return nil
}

// AddCollection registers a collection role.
func (r *Registry) AddCollection(c *Collection) error {
	if err := r.mutable(); err != nil {
		return err
	}
	if c.Role == "" {
		return fetchgraph.NewMappingError("", "collection without role")
	}
	if _, ok := r.collections[c.Role]; ok {
		return fetchgraph.NewMappingError(c.Role, "duplicate collection role")
	}
	r.collections[c.Role] = c
	return nil
}

// AddFilter registers a filter definition.
func (r *Registry) AddFilter(f *FilterDef) error {
	if err := r.mutable(); err != nil {
		return err
	}
	if _, ok := r.filters[f.Name]; ok {
		return fetchgraph.NewMappingError(f.Name, "duplicate filter")
	}
	r.filters[f.Name] = f
	return nil
}

// AddFetchProfile registers a fetch profile.
func (r *Registry) AddFetchProfile(p *FetchProfile) error {
	if err := r.mutable(); err != nil {
		return err
	}
	if _, ok := r.profiles[p.Name]; ok {
		return fetchgraph.NewMappingError(p.Name, "duplicate fetch profile")
	}
	r.profiles[p.Name] = p
	return nil
}

func (r *Registry) mutable() error {
	if r.built {
		return fetchgraph.NewMappingError("", "registry is already built")
	}
	return nil
}

// Build resolves references between entities, collections, filters and
// profiles, and validates them. Join column arity is checked when a
// statement is planned.
func (r *Registry) Build() error {
	if r.built {
		return nil
	}
	for _, name := range r.entityNames() {
		if err := r.resolveHierarchy(r.entities[name], nil); err != nil {
			return err
		}
	}
	for _, name := range r.entityNames() {
		e := r.entities[name]
		r.collectProperties(e)
		if err := r.validateEntity(e); err != nil {
			return err
		}
	}
	for _, role := range r.roles() {
		if err := r.resolveCollection(r.collections[role]); err != nil {
			return err
		}
	}
	for _, name := range r.entityNames() {
		e := r.entities[name]
		for _, p := range e.Properties {
			if err := r.validateProperty(e.Name, p); err != nil {
				return err
			}
		}
	}
	for _, p := range r.profiles {
		for _, f := range p.Fetches {
			e, ok := r.entities[f.Entity]
			if !ok {
				return fetchgraph.NewMappingError(p.Name, "fetch profile references unknown entity %q", f.Entity)
			}
			if _, ok := e.Property(f.Association); !ok {
				return fetchgraph.NewMappingError(p.Name, "fetch profile references unknown association %s.%s", f.Entity, f.Association)
			}
		}
	}
	r.built = true
	return nil
}

func (r *Registry) entityNames() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) roles() []string {
	roles := make([]string, 0, len(r.collections))
	for role := range r.collections {
		roles = append(roles, role)
	}
	slices.Sort(roles)
	return roles
}

// resolveHierarchy links e to its parent and root, and inherits the
// table, identifier, version and discriminator of the root.
func (r *Registry) resolveHierarchy(e *Entity, seen []string) error {
	if e.root != nil || e.Parent == "" {
		if e.Parent == "" {
			e.root = e
		}
		return nil
	}
	if slices.Contains(seen, e.Name) {
		return fetchgraph.NewMappingError(e.Name, "inheritance cycle %s", strings.Join(append(seen, e.Name), " -> "))
	}
	parent, ok := r.entities[e.Parent]
	if !ok {
		return fetchgraph.NewMappingError(e.Name, "unknown superclass %q", e.Parent)
	}
	if err := r.resolveHierarchy(parent, append(seen, e.Name)); err != nil {
		return err
	}
	e.parent = parent
	e.root = parent.Root()
	switch {
	case e.Table == "":
		e.Table = e.root.Table
	case e.Table != e.root.Table:
		return fetchgraph.NewMappingError(e.Name, "subclass table %q differs from %q; only single table hierarchies are supported", e.Table, e.root.Table)
	}
	if e.ID == nil {
		e.ID = e.root.ID
	}
	if e.Version == nil {
		e.Version = e.root.Version
	}
	for p := parent; p != nil; p = p.parent {
		p.subclasses = append(p.subclasses, e)
	}
	return nil
}

func (r *Registry) collectProperties(e *Entity) {
	var chain []*Entity
	for c := e; c != nil; c = c.parent {
		chain = append(chain, c)
	}
	slices.Reverse(chain)
	e.props = nil
	e.propIndex = make(map[string]*Property)
	for _, c := range chain {
		for _, p := range c.Properties {
			e.props = append(e.props, p)
			e.propIndex[p.Name] = p
		}
	}
	e.allProps = slices.Clone(e.props)
	slices.SortStableFunc(e.subclasses, func(a, b *Entity) int { return strings.Compare(a.Name, b.Name) })
	for _, s := range e.subclasses {
		e.allProps = append(e.allProps, s.Properties...)
	}
}

func (r *Registry) validateEntity(e *Entity) error {
	if e.Table == "" {
		return fetchgraph.NewMappingError(e.Name, "missing table")
	}
	if e.ID == nil || len(e.ID.Columns) == 0 {
		return fetchgraph.NewMappingError(e.Name, "missing identifier")
	}
	if len(e.ID.Columns) > MaxTupleSize {
		return fetchgraph.NewMappingError(e.Name, "identifier has more than %d columns", MaxTupleSize)
	}
	if e.HasSubclasses() && e == e.root {
		if e.Discriminator == nil || e.Discriminator.Column == "" {
			return fetchgraph.NewMappingError(e.Name, "hierarchy root without discriminator")
		}
	}
	if e.parent != nil && e.DiscriminatorValue == nil {
		return fetchgraph.NewMappingError(e.Name, "subclass without discriminator value")
	}
	for _, f := range e.Filters {
		if _, ok := r.filters[f.Name]; !ok {
			return fetchgraph.NewMappingError(e.Name, "unknown filter %q", f.Name)
		}
	}
	for _, n := range e.NaturalID {
		if _, ok := e.propIndex[n]; !ok {
			return fetchgraph.NewMappingError(e.Name, "unknown natural id property %q", n)
		}
	}
	return nil
}

func (r *Registry) validateProperty(path string, p *Property) error {
	path += "." + p.Name
	switch p.Kind {
	case KindBasic:
		if len(p.Columns) != 1 {
			return fetchgraph.NewMappingError(path, "basic property must map exactly one column")
		}
	case KindEntity:
		if _, ok := r.entities[p.Target]; !ok {
			return fetchgraph.NewMappingError(path, "unknown target entity %q", p.Target)
		}
	case KindCollection:
		if _, ok := r.collections[p.Role]; !ok {
			return fetchgraph.NewMappingError(path, "unknown collection role %q", p.Role)
		}
	case KindComponent:
		if p.Component == nil {
			return fetchgraph.NewMappingError(path, "component property without component")
		}
		for _, sub := range p.Component.Properties {
			if sub.Kind == KindCollection {
				return fetchgraph.NewMappingError(path, "collections inside components are not supported")
			}
			if err := r.validateProperty(path, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) resolveCollection(c *Collection) error {
	owner, ok := r.entities[c.Owner]
	if !ok {
		return fetchgraph.NewMappingError(c.Role, "unknown owner entity %q", c.Owner)
	}
	c.owner = owner
	c.prop = c.Role
	if i := strings.LastIndexByte(c.Role, '.'); i >= 0 {
		c.prop = c.Role[i+1:]
	}
	if c.Element != "" {
		elem, ok := r.entities[c.Element]
		if !ok {
			return fetchgraph.NewMappingError(c.Role, "unknown element entity %q", c.Element)
		}
		c.element = elem
		if c.OneToMany && c.Table == "" {
			c.Table = elem.Table
		}
	}
	if c.Table == "" {
		return fetchgraph.NewMappingError(c.Role, "missing collection table")
	}
	if len(c.KeyColumns) == 0 {
		return fetchgraph.NewMappingError(c.Role, "missing key columns")
	}
	if c.Kind.Indexed() && c.IndexColumn == "" {
		return fetchgraph.NewMappingError(c.Role, "%s collection without index column", c.Kind)
	}
	switch {
	case c.Element != "":
	case c.ElementComponent != nil:
		for _, p := range c.ElementComponent.Properties {
			if err := r.validateProperty(c.Role, p); err != nil {
				return err
			}
		}
	case c.ElementColumn == "":
		return fetchgraph.NewMappingError(c.Role, "missing element column")
	}
	for _, f := range append(slices.Clone(c.Filters), c.ManyToManyFilters...) {
		if _, ok := r.filters[f.Name]; !ok {
			return fetchgraph.NewMappingError(c.Role, "unknown filter %q", f.Name)
		}
	}
	return nil
}

// Entity returns the named entity.
func (r *Registry) Entity(name string) (*Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, fetchgraph.NewMappingError(name, "unknown entity")
	}
	return e, nil
}

// Collection returns the collection of the given role.
func (r *Registry) Collection(role string) (*Collection, error) {
	c, ok := r.collections[role]
	if !ok {
		return nil, fetchgraph.NewMappingError(role, "unknown collection role")
	}
	return c, nil
}

// Entities returns all entities sorted by name.
func (r *Registry) Entities() []*Entity {
	es := make([]*Entity, 0, len(r.entities))
	for _, name := range r.entityNames() {
		es = append(es, r.entities[name])
	}
	return es
}

// Filter returns the named filter definition.
func (r *Registry) Filter(name string) (*FilterDef, bool) {
	f, ok := r.filters[name]
	return f, ok
}

// FetchProfile returns the named fetch profile.
func (r *Registry) FetchProfile(name string) (*FetchProfile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// TuplizerOf returns the tuplizer instantiating entity e.
func (r *Registry) TuplizerOf(e *Entity) Tuplizer {
	for c := e; c != nil; c = c.parent {
		if c.Tuplizer != nil {
			return c.Tuplizer
		}
	}
	return r.tuplizer
}

// EntityOf returns the entity of instance, as reported by the tuplizer.
func (r *Registry) EntityOf(instance any) (*Entity, bool) {
	if instance == nil {
		return nil, false
	}
	for _, e := range r.entities {
		if t := e.Tuplizer; t != nil {
			if name, ok := t.EntityName(instance); ok {
				return r.entities[name], r.entities[name] != nil
			}
		}
	}
	name, ok := r.tuplizer.EntityName(instance)
	if !ok {
		return nil, false
	}
	e, ok := r.entities[name]
	return e, ok
}

// IsProfileJoin reports whether an enabled fetch profile forces the
// association of entity to be join fetched.
func (r *Registry) IsProfileJoin(inf *Influencers, entity, association string) bool {
	if inf == nil {
		return false
	}
	for _, name := range inf.EnabledFetchProfiles() {
		p, ok := r.profiles[name]
		if !ok {
			continue
		}
		for _, f := range p.Fetches {
			if f.Entity == entity && f.Association == association {
				return true
			}
		}
	}
	return false
}

// Validate checks that enabled filters and profiles exist and that every
// filter parameter is bound.
func (r *Registry) Validate(inf *Influencers) error {
	if inf == nil {
		return nil
	}
	for _, ef := range inf.EnabledFilters() {
		def, ok := r.filters[ef.Name]
		if !ok {
			return fetchgraph.NewMappingError(ef.Name, "unknown filter")
		}
		for _, p := range def.Params {
			if _, ok := ef.Params[p]; !ok {
				return fetchgraph.NewMappingError(ef.Name, "filter parameter %q is not bound", p)
			}
		}
	}
	for _, name := range inf.EnabledFetchProfiles() {
		if _, ok := r.profiles[name]; !ok {
			return fetchgraph.NewMappingError(name, "unknown fetch profile")
		}
	}
	return nil
}

// JoinColumns returns the columns an entity association joins on: the
// columns in the owner's table and the referenced columns in the target's.
func (r *Registry) JoinColumns(owner *Entity, p *Property) (lhs, rhs []string, err error) {
	if p.Kind != KindEntity {
		return nil, nil, fmt.Errorf("mapping: %s.%s is not an entity association", owner.Name, p.Name)
	}
	target, err := r.Entity(p.Target)
	if err != nil {
		return nil, nil, err
	}
	lhs = p.Columns
	if len(lhs) == 0 && p.OneToOne {
		lhs = owner.ID.Columns
	}
	rhs = p.ReferencedColumns
	if len(rhs) == 0 {
		rhs = target.ID.Columns
	}
	return lhs, rhs, nil
}
