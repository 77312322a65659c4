package loader

import (
	"context"
	"fmt"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/dialect/sql/sqlgraph"
	"github.com/syssam/fetchgraph/internal/batch"
	"github.com/syssam/fetchgraph/mapping"
	"github.com/syssam/fetchgraph/session"
)

// LoadCollection reads the collection of role owned by the owner with the
// given key.
func (f *Factory) LoadCollection(ctx context.Context, sess *session.Session, role string, key any) (*session.PersistentCollection, error) {
	pcs, err := f.LoadCollectionBatch(ctx, sess, role, []any{key})
	if err != nil {
		return nil, err
	}
	return pcs[0], nil
}

// LoadCollectionBatch reads the collections of role owned by the given
// owner keys, in statements of at most the collection's batch size. Every
// key gets an initialized collection, empty when no row references it.
// Collections the session already initialized are returned as they are.
func (f *Factory) LoadCollectionBatch(ctx context.Context, sess *session.Session, role string, keys []any) ([]*session.PersistentCollection, error) {
	c, err := f.reg.Collection(role)
	if err != nil {
		return nil, err
	}
	nkeys := make([]any, len(keys))
	for i, k := range keys {
		if nkeys[i], err = collectionKey(c, k); err != nil {
			return nil, err
		}
	}
	pc := sess.Context()
	var missing []any
	for _, k := range batch.Unique(nkeys) {
		if coll, ok := pc.Collection(c.Role, k); ok && coll.IsInitialized() {
			continue
		}
		missing = append(missing, k)
	}
	size := c.BatchSize
	if size < 1 {
		size = f.cfg.DefaultBatchFetchSize
	}
	for _, chunk := range batch.Chunk(missing, size) {
		if err := f.loadCollections(ctx, sess, c, chunk, batchSizeFor(len(chunk), size)); err != nil {
			return nil, err
		}
	}
	result := make([]*session.PersistentCollection, len(nkeys))
	for i, k := range nkeys {
		coll, ok := pc.Collection(c.Role, k)
		if !ok {
			return nil, fmt.Errorf("loader: collection %s#%v was not loaded", c.Role, k)
		}
		result[i] = coll
	}
	return result, nil
}

// InitializeCollection reads an uninitialized collection the session
// holds, such as the collection of an owner loaded without a join.
func (f *Factory) InitializeCollection(ctx context.Context, sess *session.Session, coll *session.PersistentCollection) error {
	if coll.IsInitialized() {
		return nil
	}
	_, err := f.LoadCollectionBatch(ctx, sess, coll.Collection().Role, []any{coll.Key()})
	return err
}

// loadCollections runs one statement for the collections of c with keys,
// padded to size keys. Every key is registered as loading before the first
// row is read, so keys without rows end with an empty collection.
func (f *Factory) loadCollections(ctx context.Context, sess *session.Session, c *mapping.Collection, keys []any, size int) (err error) {
	p, err := f.collectionPlan(sess, c, size)
	if err != nil {
		return err
	}
	args := p.Args
	for _, k := range batch.Pad(keys, size) {
		args = append(args, keyValues(k)...)
	}
	cur, err := f.execute(ctx, p.SQL, args, false)
	if err != nil {
		return err
	}
	x := newFetch(f, p, sess, cur, loadOptions{})
	defer func() { err = closeAll(err, cur, x) }()
	for _, k := range keys {
		x.lc.LoadingCollection(c, k)
	}
	for cur.Next() {
		if _, err := x.processRow(cur); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	return x.initialize(ctx)
}

// collectionPlan plans the statement loading batchSize collections of c.
func (f *Factory) collectionPlan(sess *session.Session, c *mapping.Collection, batchSize int) (*sqlgraph.Plan, error) {
	if err := f.reg.Validate(sess.Influencers()); err != nil {
		return nil, err
	}
	alias := sqlgraph.GenerateAlias(c.PropertyName(), 0)
	w, err := sqlgraph.WalkCollection(f.reg, c, alias, f.walkOptions(sess, nil)...)
	if err != nil {
		return nil, err
	}
	p, err := sqlgraph.Assemble(w, sqlgraph.Statement{
		Where:       sqlgraph.KeyRestriction(alias, c.KeyColumns, batchSize),
		Dialect:     f.dialect,
		Influencers: sess.Influencers(),
	})
	if err != nil {
		return nil, fmt.Errorf("loader: plan %s: %w", c.Role, err)
	}
	return p, nil
}

// collectionKey normalizes a caller supplied collection key. Composite keys
// are passed as a mapping.Tuple or a []any.
func collectionKey(c *mapping.Collection, key any) (any, error) {
	k, err := c.KeyOf(keyValues(key))
	if err != nil {
		return nil, fetchgraph.NewMappingError(c.Role, "invalid key %v: %v", key, err)
	}
	if k == nil {
		return nil, fetchgraph.NewMappingError(c.Role, "null key")
	}
	return k, nil
}

func keyValues(key any) []any {
	switch k := key.(type) {
	case mapping.Tuple:
		return k.Parts()
	case []any:
		return k
	default:
		return []any{k}
	}
}
