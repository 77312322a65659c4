package session

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/syssam/fetchgraph/mapping"
)

// PersistentCollection is a collection instance read from the database.
// Rows are added between BeginRead and EndRead; the collection is
// initialized once EndRead was called, even when no row was read.
type PersistentCollection struct {
	coll  *mapping.Collection
	key   any
	owner any

	reading     bool
	initialized bool

	elements []any
	seen     map[any]struct{}
	indexes  []any
	byIndex  map[any]any
}

// NewPersistentCollection returns an uninitialized collection of c.
func NewPersistentCollection(c *mapping.Collection, key any) *PersistentCollection {
	return &PersistentCollection{coll: c, key: key}
}

// Collection returns the collection role.
func (p *PersistentCollection) Collection() *mapping.Collection { return p.coll }

// Key returns the collection key.
func (p *PersistentCollection) Key() any { return p.key }

// CollectionKey returns the identity of the collection in a session.
func (p *PersistentCollection) CollectionKey() CollectionKey {
	return CollectionKey{Role: p.coll.Role, Key: p.key}
}

// Owner returns the owning instance, once known.
func (p *PersistentCollection) Owner() any { return p.owner }

// SetOwner sets the owning instance.
func (p *PersistentCollection) SetOwner(owner any) { p.owner = owner }

// IsInitialized reports whether the elements were read.
func (p *PersistentCollection) IsInitialized() bool { return p.initialized }

// IsReading reports whether rows are being read into the collection.
func (p *PersistentCollection) IsReading() bool { return p.reading }

// BeginRead discards the elements and starts reading rows.
func (p *PersistentCollection) BeginRead() {
	p.reading = true
	p.initialized = false
	p.elements = nil
	p.seen = nil
	p.indexes = nil
	p.byIndex = nil
}

// ReadElement adds the element of one row. Indexed collections require
// the index: an int64 position for lists and arrays, any comparable key
// for maps.
func (p *PersistentCollection) ReadElement(index, element any) error {
	if !p.reading {
		return fmt.Errorf("session: collection %s is not being read", p.CollectionKey())
	}
	switch p.coll.Kind {
	case mapping.Bag:
		p.elements = append(p.elements, element)
	case mapping.Set:
		if element != nil && reflect.TypeOf(element).Comparable() {
			if _, ok := p.seen[element]; ok {
				return nil
			}
			if p.seen == nil {
				p.seen = make(map[any]struct{})
			}
			p.seen[element] = struct{}{}
		}
		p.elements = append(p.elements, element)
	case mapping.List, mapping.Array:
		i, ok := index.(int64)
		if !ok || i < 0 {
			return fmt.Errorf("session: collection %s: invalid list index %v", p.CollectionKey(), index)
		}
		p.putIndexed(i, element)
	case mapping.Map:
		if index == nil || !reflect.TypeOf(index).Comparable() {
			return fmt.Errorf("session: collection %s: invalid map key %v", p.CollectionKey(), index)
		}
		p.putIndexed(index, element)
	}
	return nil
}

func (p *PersistentCollection) putIndexed(index, element any) {
	if p.byIndex == nil {
		p.byIndex = make(map[any]any)
	}
	if _, ok := p.byIndex[index]; !ok {
		p.indexes = append(p.indexes, index)
	}
	p.byIndex[index] = element
}

func (p *PersistentCollection) abortRead() {
	p.reading = false
	p.elements = nil
	p.seen = nil
	p.indexes = nil
	p.byIndex = nil
}

// EndRead finishes reading and marks the collection initialized. List and
// array elements are placed at their index; missing positions hold nil.
func (p *PersistentCollection) EndRead() {
	if p.coll.Kind == mapping.List || p.coll.Kind == mapping.Array {
		n := int64(0)
		for _, i := range p.indexes {
			n = max(n, i.(int64)+1)
		}
		p.elements = make([]any, n)
		for i, e := range p.byIndex {
			p.elements[i.(int64)] = e
		}
	}
	if p.coll.Kind == mapping.Map {
		p.elements = make([]any, len(p.indexes))
		for i, k := range p.indexes {
			p.elements[i] = p.byIndex[k]
		}
	}
	p.reading = false
	p.initialized = true
}

// Elements returns the elements. Map elements are in the order their keys
// were read.
func (p *PersistentCollection) Elements() []any { return slices.Clone(p.elements) }

// Len returns the number of elements.
func (p *PersistentCollection) Len() int { return len(p.elements) }

// Map returns the elements of a map collection by key.
func (p *PersistentCollection) Map() map[any]any {
	return maps.Clone(p.byIndex)
}

// String formats the collection for messages.
func (p *PersistentCollection) String() string {
	return fmt.Sprintf("%s[%d]", p.CollectionKey(), len(p.elements))
}
