package session

import (
	"github.com/google/uuid"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/mapping"
)

// Entry is the bookkeeping of one entity instance in a persistence context.
type Entry struct {
	Key EntityKey
	// Entity is the concrete class of the instance.
	Entity   *mapping.Entity
	Instance any
	State    State
	LockMode fetchgraph.LockMode
	// Version is the version read with the instance, nil if unversioned.
	Version any
	// Values is the loaded state, by property name.
	Values   map[string]any
	ReadOnly bool

	nulls map[string]struct{}
}

// Context is the identity map of a session: every entity instance and
// collection the session has loaded, keyed by identity. Entries move from
// Stub to Hydrated exactly once.
//
// A Context is not safe for concurrent use.
type Context struct {
	entries     map[EntityKey]*Entry
	collections map[CollectionKey]*PersistentCollection
	loading     map[uuid.UUID]*CollectionLoadContext
}

// NewContext returns an empty persistence context.
func NewContext() *Context {
	return &Context{
		entries:     make(map[EntityKey]*Entry),
		collections: make(map[CollectionKey]*PersistentCollection),
		loading:     make(map[uuid.UUID]*CollectionLoadContext),
	}
}

// Get returns the entry of key.
func (c *Context) Get(key EntityKey) (*Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// Instance returns the instance registered under key, stub or not.
func (c *Context) Instance(key EntityKey) (any, bool) {
	if e, ok := c.entries[key]; ok {
		return e.Instance, true
	}
	return nil, false
}

// State returns the hydration state of key.
func (c *Context) State(key EntityKey) State {
	if e, ok := c.entries[key]; ok {
		return e.State
	}
	return Unseen
}

// Len returns the number of entity entries.
func (c *Context) Len() int { return len(c.entries) }

// AddStub registers instance under key before its values are read.
func (c *Context) AddStub(key EntityKey, e *mapping.Entity, instance any, mode fetchgraph.LockMode) (*Entry, error) {
	if _, ok := c.entries[key]; ok {
		return nil, fetchgraph.NewHydrationError(key.Entity, key.ID, "instance is already registered")
	}
	entry := &Entry{
		Key:      key,
		Entity:   e,
		Instance: instance,
		State:    Stub,
		LockMode: mode,
	}
	c.entries[key] = entry
	return entry, nil
}

// Promote records the loaded values of a stub and marks it hydrated.
func (c *Context) Promote(key EntityKey, values map[string]any, version any) (*Entry, error) {
	entry, ok := c.entries[key]
	switch {
	case !ok:
		return nil, fetchgraph.NewHydrationError(key.Entity, key.ID, "no stub is registered")
	case entry.State != Stub:
		return nil, fetchgraph.NewHydrationError(key.Entity, key.ID, "instance is already "+entry.State.String())
	}
	entry.Values = values
	entry.Version = version
	entry.State = Hydrated
	return entry, nil
}

// Remove drops the entry of key.
func (c *Context) Remove(key EntityKey) {
	delete(c.entries, key)
}

// SetLockMode records the lock held on the instance of key.
func (c *Context) SetLockMode(key EntityKey, mode fetchgraph.LockMode) {
	if e, ok := c.entries[key]; ok {
		e.LockMode = mode
	}
}

// AddNullProperty records that the one-to-one property of the instance of
// key is known to be absent.
func (c *Context) AddNullProperty(key EntityKey, property string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.nulls == nil {
		e.nulls = make(map[string]struct{})
	}
	e.nulls[property] = struct{}{}
}

// IsPropertyNull reports whether the property was recorded as absent.
func (c *Context) IsPropertyNull(key EntityKey, property string) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	_, null := e.nulls[property]
	return null
}

// Collection returns the collection registered under role and key.
func (c *Context) Collection(role string, key any) (*PersistentCollection, bool) {
	pc, ok := c.collections[CollectionKey{Role: role, Key: key}]
	return pc, ok
}

// AddCollection registers a collection, replacing any previous one with
// the same role and key.
func (c *Context) AddCollection(pc *PersistentCollection) {
	c.collections[pc.CollectionKey()] = pc
}

// CollectionOwner returns the hydrated or stub entry owning the collection
// of c with the given key. Keys referencing owner properties other than
// the identifier are matched against the loaded values of hydrated entries.
func (c *Context) CollectionOwner(coll *mapping.Collection, key any) (*Entry, bool) {
	owner := coll.OwnerEntity()
	props := coll.KeyProperties()
	if props == nil {
		e, ok := c.entries[NewEntityKey(owner, key)]
		if !ok || !owner.Includes(e.Entity) {
			return nil, false
		}
		return e, true
	}
Entries:
	for _, e := range c.entries {
		if e.State != Hydrated || !owner.Includes(e.Entity) {
			continue
		}
		parts := make([]any, len(props))
		for i, p := range props {
			if p == nil {
				continue Entries
			}
			parts[i] = e.Values[p.Name]
		}
		if k, err := coll.KeyOf(parts); err == nil && k != nil && k == key {
			return e, true
		}
	}
	return nil, false
}

// LoadContext returns the collection load context of the result set
// identified by id, creating it on first use.
func (c *Context) LoadContext(id uuid.UUID) *CollectionLoadContext {
	if lc, ok := c.loading[id]; ok {
		return lc
	}
	lc := &CollectionLoadContext{
		pc:      c,
		id:      id,
		loading: make(map[CollectionKey]*PersistentCollection),
	}
	c.loading[id] = lc
	return lc
}

// HasLoadContexts reports whether any result set is still loading collections.
func (c *Context) HasLoadContexts() bool { return len(c.loading) > 0 }

// Clear drops every entry, collection and load context.
func (c *Context) Clear() {
	clear(c.entries)
	clear(c.collections)
	clear(c.loading)
}
