package loader

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/dialect/sql"
	"github.com/syssam/fetchgraph/dialect/sql/sqlgraph"
	"github.com/syssam/fetchgraph/mapping"
	"github.com/syssam/fetchgraph/session"
)

// loadOptions are the per-fetch settings of a load.
type loadOptions struct {
	lock *fetchgraph.LockOptions
	// object and id are the caller supplied instance of the root and its
	// normalized identifier.
	object any
	id     any
	// singleRow marks a load of one root by id without collection joins,
	// where the root key is never read from the row.
	singleRow bool
	readOnly  *bool
	allProps  bool
	// deadline ends reading at the next logical row boundary once passed.
	deadline time.Time
}

// expired reports whether the time limit of the load has passed.
func (o loadOptions) expired() bool {
	return !o.deadline.IsZero() && time.Now().After(o.deadline)
}

// LoadOption configures a single load.
type LoadOption func(*loadOptions)

// WithLock requests lock modes for the rows read.
func WithLock(lock *fetchgraph.LockOptions) LoadOption {
	return func(o *loadOptions) {
		o.lock = lock
	}
}

// WithOptionalObject loads the root into instance instead of creating one.
func WithOptionalObject(instance any) LoadOption {
	return func(o *loadOptions) {
		o.object = instance
	}
}

// WithReadOnly overrides the session default for instances loaded by this
// fetch.
func WithReadOnly(readOnly bool) LoadOption {
	return func(o *loadOptions) {
		o.readOnly = &readOnly
	}
}

// WithFetchAllProperties reads lazy properties too.
func WithFetchAllProperties() LoadOption {
	return func(o *loadOptions) {
		o.allProps = true
	}
}

func newLoadOptions(opts []LoadOption) loadOptions {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ref is a many-to-one or one-to-one value read from a row, resolved once
// every row of the fetch was read.
type ref struct {
	entity *mapping.Entity
	id     any
}

// collectionRef is the value of a collection property until the owner is
// initialized.
type collectionRef struct {
	coll *mapping.Collection
}

// pending is an entity registered as a stub by this fetch, waiting for
// initialization.
type pending struct {
	key      session.EntityKey
	entity   *mapping.Entity
	instance any
	values   map[string]any
	version  any
}

// fetch holds the state of reading the rows of one statement into a
// session.
type fetch struct {
	f    *Factory
	plan *sqlgraph.Plan
	sess *session.Session
	pc   *session.Context
	lc   *session.CollectionLoadContext
	opts loadOptions

	// elements holds, per collection, the index of the entity holding the
	// elements of a one-to-many, or -1.
	elements []int
	// keys holds the entity keys of the current row; nil where the row has
	// no entity.
	keys    []*session.EntityKey
	pending []*pending
	byKey   map[session.EntityKey]*pending
	rows    int
}

func newFetch(f *Factory, p *sqlgraph.Plan, sess *session.Session, cur *sql.Cursor, opts loadOptions) *fetch {
	x := &fetch{
		f:        f,
		plan:     p,
		sess:     sess,
		pc:       sess.Context(),
		opts:     opts,
		elements: make([]int, len(p.Collections)),
		keys:     make([]*session.EntityKey, len(p.Entities)),
		byKey:    make(map[session.EntityKey]*pending),
	}
	x.lc = x.pc.LoadContext(cur.ID())
	for i, c := range p.Collections {
		x.elements[i] = -1
		if !c.IsOneToMany() {
			continue
		}
		for j, e := range p.Entities {
			if p.TableAliases[j] == p.CollectionTableAliases[i] && e == c.ElementEntity() {
				x.elements[i] = j
				break
			}
		}
	}
	return x
}

// rootKey reads the key of the root entity from the current row.
func (x *fetch) rootKey(cur *sql.Cursor) (any, error) {
	if len(x.plan.Entities) == 0 {
		return nil, nil
	}
	k, err := x.entityKey(cur, 0)
	if err != nil || k == nil {
		return nil, err
	}
	return k.ID, nil
}

// processRow reads the entities and collection elements of the current
// row and returns the root instance of an entity fetch.
func (x *fetch) processRow(cur *sql.Cursor) (any, error) {
	x.rows++
	for i := range x.plan.Entities {
		k, err := x.entityKey(cur, i)
		if err != nil {
			return nil, err
		}
		x.keys[i] = k
	}
	if log := x.f.log; log.Enabled(context.Background(), slog.LevelDebug) {
		log.Debug("result row", "row", cur.Row(), "keys", keyStrings(x.keys))
	}
	for i := range x.plan.Entities {
		if x.keys[i] == nil {
			continue
		}
		if err := x.instance(cur, i); err != nil {
			return nil, err
		}
	}
	for i := range x.plan.Entities {
		o := x.plan.Owner(i)
		if x.keys[i] == nil && o >= 0 && x.keys[o] != nil {
			x.pc.AddNullProperty(*x.keys[o], x.plan.OwnerProperties[i].Name)
		}
	}
	if err := x.readCollections(cur); err != nil {
		return nil, err
	}
	if x.plan.Walk.Entity == nil || x.keys[0] == nil {
		return nil, nil
	}
	inst, _ := x.pc.Instance(*x.keys[0])
	return inst, nil
}

func keyStrings(keys []*session.EntityKey) []string {
	s := make([]string, len(keys))
	for i, k := range keys {
		if k == nil {
			s[i] = "null"
			continue
		}
		s[i] = k.String()
	}
	return s
}

// entityKey reads the key of entity i. The key of a root loaded by id is
// known and not read again.
func (x *fetch) entityKey(cur *sql.Cursor, i int) (*session.EntityKey, error) {
	e := x.plan.Entities[i]
	if i == 0 && x.opts.singleRow && x.opts.id != nil {
		k := session.NewEntityKey(e, x.opts.id)
		return &k, nil
	}
	vals, err := cur.Values(x.plan.EntityAliases[i].KeyAliases())
	if err != nil {
		return nil, err
	}
	id, err := e.IDKey(vals)
	if err != nil {
		return nil, fetchgraph.NewHydrationError(e.Name, vals, err.Error())
	}
	if id == nil {
		return nil, nil
	}
	k := session.NewEntityKey(e, id)
	return &k, nil
}

// instance resolves entity i of the current row to an instance in the
// session, registering a stub and reading its values when it is new.
func (x *fetch) instance(cur *sql.Cursor, i int) error {
	key := *x.keys[i]
	lock := x.plan.LockModes[i]
	if entry, ok := x.pc.Get(key); ok {
		return x.instanceAlreadyLoaded(cur, i, entry, lock)
	}
	return x.instanceNotYetLoaded(cur, i, key, lock)
}

// instanceAlreadyLoaded checks the class of an instance the session holds
// and upgrades its lock. A versioned instance must still have the version
// the session read before its lock is upgraded.
func (x *fetch) instanceAlreadyLoaded(cur *sql.Cursor, i int, entry *session.Entry, lock fetchgraph.LockMode) error {
	e := x.plan.Entities[i]
	if !e.Includes(entry.Entity) {
		return fetchgraph.NewWrongClassError(e.Name, entry.Key.ID, "loaded object was of class "+entry.Entity.Name)
	}
	if lock == fetchgraph.LockNone || !lock.GreaterThan(entry.LockMode) {
		return nil
	}
	// A stub is being loaded by this or an enclosing fetch and has no
	// current version yet.
	if v := entry.Entity.Version; v != nil && entry.State == session.Hydrated {
		raw, err := cur.Value(x.plan.EntityAliases[i].VersionAlias())
		if err != nil {
			return err
		}
		if !v.Type.Equal(entry.Version, raw) {
			x.f.stats.optimisticFailures.Add(1)
			return fetchgraph.NewStaleStateError(entry.Entity.Name, entry.Key.ID)
		}
	}
	x.pc.SetLockMode(entry.Key, lock)
	return nil
}

// instanceNotYetLoaded instantiates the concrete class of the row,
// registers the stub and reads its values.
func (x *fetch) instanceNotYetLoaded(cur *sql.Cursor, i int, key session.EntityKey, lock fetchgraph.LockMode) error {
	e := x.plan.Entities[i]
	concrete := e
	if d := e.Root().Discriminator; d != nil {
		v, err := cur.Value(x.plan.EntityAliases[i].DiscriminatorAlias())
		if err != nil {
			return err
		}
		c, ok := e.Root().SubclassFor(v)
		if !ok {
			return fetchgraph.NewWrongClassError(e.Name, key.ID, fmt.Sprintf("discriminator value %v maps to no subclass", v))
		}
		if !e.Includes(c) {
			return fetchgraph.NewWrongClassError(e.Name, key.ID, "row is of class "+c.Name)
		}
		concrete = c
	}
	var (
		inst any
		err  error
	)
	if i == 0 && x.opts.object != nil && x.opts.id == key.ID {
		if oe, ok := x.f.reg.EntityOf(x.opts.object); ok && oe != concrete {
			return fetchgraph.NewWrongClassError(concrete.Name, key.ID, "optional object is of class "+oe.Name)
		}
		inst = x.opts.object
	} else if inst, err = x.f.reg.TuplizerOf(concrete).Instantiate(concrete, key.ID); err != nil {
		return fetchgraph.NewHydrationError(concrete.Name, key.ID, err.Error())
	}
	acquired := lock
	if acquired == fetchgraph.LockNone {
		acquired = fetchgraph.LockRead
	}
	if _, err := x.pc.AddStub(key, concrete, inst, acquired); err != nil {
		return err
	}
	p := &pending{key: key, entity: concrete, instance: inst}
	x.pending = append(x.pending, p)
	x.byKey[key] = p
	if p.values, p.version, err = x.hydrate(cur, i, concrete); err != nil {
		return fetchgraph.NewHydrationError(concrete.Name, key.ID, err.Error())
	}
	return nil
}

// hydrate reads the property values of entity i as concrete class c.
// Associations are read as keys and resolved on initialization.
func (x *fetch) hydrate(cur *sql.Cursor, i int, c *mapping.Entity) (map[string]any, any, error) {
	ea := x.plan.EntityAliases[i]
	values := make(map[string]any, len(c.AllProperties()))
	for _, p := range c.AllProperties() {
		switch p.Kind {
		case mapping.KindBasic:
			if p.Lazy && !x.opts.allProps {
				continue
			}
			v, err := readBasic(cur, p, ea.PropertyAliases(p.Name))
			if err != nil {
				return nil, nil, err
			}
			values[p.Name] = v
		case mapping.KindEntity:
			v, ok, err := x.readAssociation(cur, i, p, ea.PropertyAliases(p.Name))
			if err != nil {
				return nil, nil, err
			}
			if ok {
				values[p.Name] = v
			}
		case mapping.KindComponent:
			v, err := x.readComponent(cur, i, p.Component, ea.PropertyAliases(p.Name))
			if err != nil {
				return nil, nil, err
			}
			values[p.Name] = v
		case mapping.KindCollection:
			coll, err := x.f.reg.Collection(p.Role)
			if err != nil {
				return nil, nil, err
			}
			values[p.Name] = collectionRef{coll: coll}
		}
	}
	var version any
	if v := c.Version; v != nil {
		raw, err := cur.Value(ea.VersionAlias())
		if err != nil {
			return nil, nil, err
		}
		if version, err = v.Type.Normalize(raw); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", v.Name, err)
		}
		values[v.Name] = version
	}
	return values, version, nil
}

func readBasic(cur *sql.Cursor, p *mapping.Property, aliases []string) (any, error) {
	if len(aliases) != 1 {
		return nil, fmt.Errorf("%s: expected one column, got %d", p.Name, len(aliases))
	}
	raw, err := cur.Value(aliases[0])
	if err != nil {
		return nil, err
	}
	v, err := p.Type.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name, err)
	}
	return v, nil
}

// readAssociation reads an entity association of entity i. A one-to-one
// on the owner's key takes the key of the entity joined for it; when that
// entity was not joined the value is unknown and ok is false.
func (x *fetch) readAssociation(cur *sql.Cursor, i int, p *mapping.Property, aliases []string) (any, bool, error) {
	target, err := x.f.reg.Entity(p.Target)
	if err != nil {
		return nil, false, err
	}
	if len(aliases) == 0 {
		if i < 0 {
			return nil, false, nil
		}
		for j := range x.plan.Entities {
			if x.plan.Owner(j) != i || x.plan.OwnerProperties[j] != p {
				continue
			}
			if x.keys[j] == nil {
				return nil, true, nil
			}
			return ref{entity: x.plan.Entities[j], id: x.keys[j].ID}, true, nil
		}
		return nil, false, nil
	}
	vals, err := cur.Values(aliases)
	if err != nil {
		return nil, false, err
	}
	if len(p.ReferencedColumns) > 0 && !slices.Equal(p.ReferencedColumns, target.ID.Columns) {
		// A key referencing other columns than the identifier cannot be
		// looked up in the session.
		key, err := propertyRefKey(vals)
		if err != nil || key == nil {
			return nil, true, err
		}
		return mapping.Ref{Entity: target.Name, ID: key}, true, nil
	}
	id, err := target.IDKey(vals)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", p.Name, err)
	}
	if id == nil {
		return nil, true, nil
	}
	return ref{entity: target, id: id}, true, nil
}

func propertyRefKey(vals []any) (any, error) {
	parts := make([]any, len(vals))
	for i, v := range vals {
		if v == nil {
			return nil, nil
		}
		k, err := mapping.TypeAny.Key(v)
		if err != nil {
			return nil, err
		}
		parts[i] = k
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return mapping.NewTuple(parts...)
}

// readComponent reads a component from its flattened column aliases. A
// component whose columns are all NULL is nil.
func (x *fetch) readComponent(cur *sql.Cursor, i int, c *mapping.Component, aliases []string) (map[string]any, error) {
	values := make(map[string]any, len(c.Properties))
	null := true
	for _, p := range c.Properties {
		n := len(p.ColumnNames())
		if n > len(aliases) {
			return nil, fmt.Errorf("%s: missing component columns", p.Name)
		}
		cols := aliases[:n]
		aliases = aliases[n:]
		var (
			v   any
			err error
		)
		switch p.Kind {
		case mapping.KindBasic:
			v, err = readBasic(cur, p, cols)
		case mapping.KindEntity:
			var ok bool
			if v, ok, err = x.readAssociation(cur, i, p, cols); err == nil && !ok {
				continue
			}
		case mapping.KindComponent:
			var m map[string]any
			if m, err = x.readComponent(cur, i, p.Component, cols); m != nil {
				v = m
			}
		}
		if err != nil {
			return nil, err
		}
		if v != nil {
			null = false
		}
		values[p.Name] = v
	}
	if null {
		return nil, nil
	}
	return values, nil
}

// readCollections routes the collection columns of the current row into
// the collections being loaded. A row without a collection key still
// gives its owner an empty collection.
func (x *fetch) readCollections(cur *sql.Cursor) error {
	for ci, c := range x.plan.Collections {
		ca := x.plan.CollectionAliases[ci]
		kv, err := cur.Values(ca.KeyAliases())
		if err != nil {
			return err
		}
		key, err := c.KeyOf(kv)
		if err != nil {
			return fetchgraph.NewHydrationError(c.Role, kv, err.Error())
		}
		if key != nil {
			pc := x.lc.LoadingCollection(c, key)
			if pc == nil {
				continue
			}
			x.f.log.Debug("found row of collection", "collection", pc.CollectionKey())
			index, elem, ok, err := x.readElement(cur, ci, c, ca)
			if err != nil {
				return fetchgraph.NewHydrationError(c.Role, key, err.Error())
			}
			if ok {
				if err := pc.ReadElement(index, elem); err != nil {
					return err
				}
			}
			continue
		}
		o := x.plan.CollectionOwner(ci)
		if o < 0 || x.keys[o] == nil {
			continue
		}
		if okey := x.ownerCollectionKey(c, *x.keys[o]); okey != nil {
			x.f.log.Debug("result set contains (possibly empty) collection", "collection", c.Role, "key", okey)
			x.lc.LoadingCollection(c, okey)
		}
	}
	return nil
}

// ownerCollectionKey returns the key of collection c owned by the
// instance of owner.
func (x *fetch) ownerCollectionKey(c *mapping.Collection, owner session.EntityKey) any {
	props := c.KeyProperties()
	if props == nil {
		return owner.ID
	}
	var values map[string]any
	if p, ok := x.byKey[owner]; ok {
		values = p.values
	} else if entry, ok := x.pc.Get(owner); ok {
		values = entry.Values
	}
	parts := make([]any, len(props))
	for i, p := range props {
		if p == nil {
			return nil
		}
		parts[i] = values[p.Name]
	}
	key, err := c.KeyOf(parts)
	if err != nil {
		return nil
	}
	return key
}

// readElement reads the index and element of collection ci. ok is false
// when the row holds no element.
func (x *fetch) readElement(cur *sql.Cursor, ci int, c *mapping.Collection, ca *sqlgraph.CollectionAliases) (index, elem any, ok bool, err error) {
	if alias := ca.IndexAlias(); alias != "" {
		raw, err := cur.Value(alias)
		if err != nil {
			return nil, nil, false, err
		}
		if c.Kind == mapping.List || c.Kind == mapping.Array {
			index, err = mapping.TypeInt.Normalize(raw)
		} else {
			index, err = c.IndexType.Key(raw)
		}
		if err != nil {
			return nil, nil, false, fmt.Errorf("index: %w", err)
		}
	}
	switch {
	case c.IsOneToMany():
		j := x.elements[ci]
		if j < 0 || x.keys[j] == nil {
			return nil, nil, false, nil
		}
		inst, _ := x.pc.Instance(*x.keys[j])
		return index, inst, true, nil
	case c.IsManyToMany():
		vals, err := cur.Values(ca.ElementAliases())
		if err != nil {
			return nil, nil, false, err
		}
		e := c.ElementEntity()
		if len(c.ElementReferencedColumns) > 0 && !slices.Equal(c.ElementReferencedColumns, e.ID.Columns) {
			key, err := propertyRefKey(vals)
			if err != nil || key == nil {
				return nil, nil, false, err
			}
			return index, mapping.Ref{Entity: e.Name, ID: key}, true, nil
		}
		id, err := e.IDKey(vals)
		if err != nil || id == nil {
			return nil, nil, false, err
		}
		return index, x.resolve(ref{entity: e, id: id}), true, nil
	case c.ElementComponent != nil:
		m, err := x.readComponent(cur, -1, c.ElementComponent, ca.ElementAliases())
		if err != nil {
			return nil, nil, false, err
		}
		if m == nil && !c.Kind.Indexed() {
			return nil, nil, false, nil
		}
		return index, x.resolve(m), true, nil
	default:
		aliases := ca.ElementAliases()
		if len(aliases) != 1 {
			return nil, nil, false, fmt.Errorf("expected one element column, got %d", len(aliases))
		}
		raw, err := cur.Value(aliases[0])
		if err != nil {
			return nil, nil, false, err
		}
		if raw == nil && !c.Kind.Indexed() {
			return nil, nil, false, nil
		}
		v, err := c.ElementType.Normalize(raw)
		if err != nil {
			return nil, nil, false, fmt.Errorf("element: %w", err)
		}
		return index, v, true, nil
	}
}

// resolve replaces association keys by the instances the session holds,
// or by unloaded references.
func (x *fetch) resolve(v any) any {
	switch v := v.(type) {
	case ref:
		if inst, ok := x.pc.Instance(session.NewEntityKey(v.entity, v.id)); ok {
			return inst
		}
		return mapping.Ref{Entity: v.entity.Name, ID: v.id}
	case map[string]any:
		if v == nil {
			return nil
		}
		m := make(map[string]any, len(v))
		for name, sub := range v {
			m[name] = x.resolve(sub)
		}
		return m
	default:
		return v
	}
}

// initialize completes the two-phase load of every entity read since the
// last call and finishes the collections read. Arrays are finished first,
// so their owners receive the complete array.
func (x *fetch) initialize(ctx context.Context) error {
	for _, c := range x.plan.Collections {
		if c.Kind == mapping.Array {
			if err := x.endCollections(c); err != nil {
				return err
			}
		}
	}
	for _, p := range x.pending {
		if err := x.initializeEntity(ctx, p); err != nil {
			return err
		}
	}
	if n := len(x.pending); n > 0 {
		x.f.log.Debug("total objects hydrated", "count", n)
	}
	x.pending = x.pending[:0]
	clear(x.byKey)
	for _, c := range x.plan.Collections {
		if c.Kind != mapping.Array {
			if err := x.endCollections(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// initializeEntity sets the resolved values on a stub and promotes it.
func (x *fetch) initializeEntity(ctx context.Context, p *pending) error {
	values := make(map[string]any, len(p.values))
	for name, v := range p.values {
		if cr, ok := v.(collectionRef); ok {
			values[name] = x.collectionOf(cr.coll, p)
			continue
		}
		values[name] = x.resolve(v)
	}
	if err := x.f.reg.TuplizerOf(p.entity).SetValues(p.instance, p.entity, values); err != nil {
		return fetchgraph.NewHydrationError(p.entity.Name, p.key.ID, err.Error())
	}
	entry, err := x.pc.Promote(p.key, values, p.version)
	if err != nil {
		return err
	}
	entry.ReadOnly = x.sess.IsDefaultReadOnly()
	if x.opts.readOnly != nil {
		entry.ReadOnly = *x.opts.readOnly
	}
	x.sess.PostLoad(ctx, p.entity, p.instance)
	x.f.stats.entitiesLoaded.Add(1)
	return nil
}

// collectionOf returns the collection of c owned by p: the one the
// session holds, or a new uninitialized one. It is nil when the owner has
// no key value for the collection.
func (x *fetch) collectionOf(c *mapping.Collection, p *pending) any {
	key := x.ownerCollectionKey(c, p.key)
	if key == nil {
		return nil
	}
	pc, ok := x.pc.Collection(c.Role, key)
	if !ok {
		pc = session.NewPersistentCollection(c, key)
		x.pc.AddCollection(pc)
	}
	pc.SetOwner(p.instance)
	return pc
}

// endCollections finishes the collections of c read so far and sets them
// on their hydrated owners. A collection whose owner is not in the session
// is left unowned.
func (x *fetch) endCollections(c *mapping.Collection) error {
	for _, pc := range x.lc.EndLoadingCollections(c) {
		x.f.stats.collectionsLoaded.Add(1)
		owner, ok := x.pc.CollectionOwner(c, pc.Key())
		if !ok {
			x.f.log.Debug("no owner found for collection", "collection", pc.CollectionKey())
			continue
		}
		pc.SetOwner(owner.Instance)
		if owner.State != session.Hydrated {
			continue
		}
		name := c.PropertyName()
		owner.Values[name] = pc
		if err := x.f.reg.TuplizerOf(owner.Entity).SetValues(owner.Instance, owner.Entity, map[string]any{name: pc}); err != nil {
			return fetchgraph.NewHydrationError(owner.Entity.Name, owner.Key.ID, err.Error())
		}
	}
	return nil
}

// abort unregisters the stubs of this fetch that were never initialized.
func (x *fetch) abort() {
	for _, p := range x.pending {
		x.pc.Remove(p.key)
	}
	x.pending = nil
	clear(x.byKey)
}

// close aborts what is pending and releases the collection load context.
func (x *fetch) close() {
	x.abort()
	x.lc.Close()
}
