package session

import (
	"fmt"

	"github.com/syssam/fetchgraph/mapping"
)

// EntityKey identifies an entity instance within a session. Entity is the
// root of the entity's hierarchy, so a Dog and an Animal with the same
// identifier share one key.
type EntityKey struct {
	Entity string
	ID     any
}

// NewEntityKey returns the key of the instance of e with the normalized
// identifier id.
func NewEntityKey(e *mapping.Entity, id any) EntityKey {
	return EntityKey{Entity: e.Root().Name, ID: id}
}

// String formats the key for messages.
func (k EntityKey) String() string { return fmt.Sprintf("%s#%v", k.Entity, k.ID) }

// CollectionKey identifies a collection instance within a session.
type CollectionKey struct {
	Role string
	Key  any
}

// String formats the key for messages.
func (k CollectionKey) String() string { return fmt.Sprintf("%s#%v", k.Role, k.Key) }

// State is the hydration state of an entity instance.
type State uint8

// Hydration states.
const (
	// Unseen is the state of a key without an entry.
	Unseen State = iota
	// Stub is an instance registered under its key whose values are not
	// set yet. Circular references resolve to the stub.
	Stub
	// Hydrated is an instance whose values are set.
	Hydrated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unseen:
		return "unseen"
	case Stub:
		return "stub"
	case Hydrated:
		return "hydrated"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}
