package session

import (
	"github.com/google/uuid"

	"github.com/syssam/fetchgraph/mapping"
)

// CollectionLoadContext holds the collections being read from one result
// set. Rows of one collection may span many physical rows; the collection
// stays in the context until EndLoadingCollections finishes it.
type CollectionLoadContext struct {
	pc      *Context
	id      uuid.UUID
	loading map[CollectionKey]*PersistentCollection
	created map[CollectionKey]bool
	order   []CollectionKey
	closed  bool
}

// ID returns the identifier of the result set.
func (lc *CollectionLoadContext) ID() uuid.UUID { return lc.id }

// LoadingCollection returns the collection of c with key to read rows
// into. A collection seen for the first time is registered with the
// persistence context right away, so owners hydrated before it finishes
// reference the same instance. It returns nil when the collection was
// already initialized by an earlier fetch, in which case rows for it are
// ignored.
func (lc *CollectionLoadContext) LoadingCollection(c *mapping.Collection, key any) *PersistentCollection {
	if lc.closed {
		return nil
	}
	ck := CollectionKey{Role: c.Role, Key: key}
	if pc, ok := lc.loading[ck]; ok {
		return pc
	}
	pc, ok := lc.pc.collections[ck]
	switch {
	case ok && pc.IsInitialized():
		return nil
	case !ok:
		pc = NewPersistentCollection(c, key)
		lc.pc.AddCollection(pc)
		if lc.created == nil {
			lc.created = make(map[CollectionKey]bool)
		}
		lc.created[ck] = true
	}
	pc.BeginRead()
	lc.loading[ck] = pc
	lc.order = append(lc.order, ck)
	return pc
}

// Loading returns the number of collections being read.
func (lc *CollectionLoadContext) Loading() int { return len(lc.loading) }

// EndLoadingCollections finishes every collection of c read through this
// context, registers them with the persistence context and returns them in
// the order they were started.
func (lc *CollectionLoadContext) EndLoadingCollections(c *mapping.Collection) []*PersistentCollection {
	var done []*PersistentCollection
	rest := lc.order[:0]
	for _, ck := range lc.order {
		pc, ok := lc.loading[ck]
		if !ok {
			continue
		}
		if ck.Role != c.Role {
			rest = append(rest, ck)
			continue
		}
		pc.EndRead()
		lc.pc.AddCollection(pc)
		delete(lc.loading, ck)
		done = append(done, pc)
	}
	lc.order = rest
	return done
}

// Close discards unfinished collections and detaches the context from its
// persistence context. Collections first seen by this context are
// unregistered; ones registered earlier are left uninitialized. Closing
// twice has no effect.
func (lc *CollectionLoadContext) Close() {
	if lc.closed {
		return
	}
	lc.closed = true
	for ck, pc := range lc.loading {
		pc.abortRead()
		if lc.created[ck] {
			if cur, ok := lc.pc.collections[ck]; ok && cur == pc {
				delete(lc.pc.collections, ck)
			}
		}
	}
	clear(lc.loading)
	clear(lc.created)
	lc.order = nil
	delete(lc.pc.loading, lc.id)
}
