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

// LoadEntity returns the instance of entity with the given id, joining the
// associations the mapping fetches eagerly. An instance the session holds
// is returned without a statement unless a stronger lock is requested.
// A missing row is a *fetchgraph.NotFoundError.
func (f *Factory) LoadEntity(ctx context.Context, sess *session.Session, entity string, id any, opts ...LoadOption) (any, error) {
	e, err := f.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	nid, err := normalizeID(e, id)
	if err != nil {
		return nil, err
	}
	o := newLoadOptions(opts)
	if inst, ok, err := f.fromSession(sess, e, nid, o); ok || err != nil {
		return inst, err
	}
	p, err := f.entityPlan(sess, e, 1, o.lock)
	if err != nil {
		return nil, err
	}
	o.id = nid
	o.singleRow = !p.Walk.HasCollectionJoins()
	rows, _, err := f.list(ctx, sess, p, p.SQL, append(p.Args, e.IDValues(nid)...), o, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.id == nid {
			return r.instance, nil
		}
	}
	return nil, fetchgraph.NewNotFoundError(e.Name, nid)
}

// LoadEntityBatch loads the instances of entity with the given ids using
// statements restricted to at most the configured batch size of keys. The
// result is in the order of ids; ids without a row get nil.
func (f *Factory) LoadEntityBatch(ctx context.Context, sess *session.Session, entity string, ids []any, opts ...LoadOption) ([]any, error) {
	e, err := f.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	keys := make([]any, len(ids))
	for i, id := range ids {
		if keys[i], err = normalizeID(e, id); err != nil {
			return nil, err
		}
	}
	o := newLoadOptions(opts)
	o.object = nil
	var (
		found   []loaded
		missing []any
	)
	for _, k := range batch.Unique(keys) {
		inst, ok, err := f.fromSession(sess, e, k, o)
		if err != nil {
			return nil, err
		}
		if ok {
			found = append(found, loaded{id: k, instance: inst})
			continue
		}
		missing = append(missing, k)
	}
	size := f.cfg.DefaultBatchFetchSize
	for _, chunk := range batch.Chunk(missing, size) {
		chunk = batch.Pad(chunk, batchSizeFor(len(chunk), size))
		p, err := f.entityPlan(sess, e, len(chunk), o.lock)
		if err != nil {
			return nil, err
		}
		args := p.Args
		for _, k := range chunk {
			args = append(args, e.IDValues(k)...)
		}
		rows, _, err := f.list(ctx, sess, p, p.SQL, args, o, 0, 0)
		if err != nil {
			return nil, err
		}
		found = append(found, rows...)
	}
	ordered, errs := batch.OrderByKeys(keys, found, func(l loaded) any { return l.id })
	result := make([]any, len(ordered))
	for i, l := range ordered {
		if errs[i] != nil {
			f.log.DebugContext(ctx, "entity not found in batch", "entity", e.Name, "id", keys[i])
			continue
		}
		result[i] = l.instance
	}
	return result, nil
}

// batchSizeFor returns the statement batch size used for n keys: the
// smallest power of two holding them, capped at max. Padding keys up to a
// few sizes keeps the number of distinct statements small.
func batchSizeFor(n, max int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return min(size, max)
}

func normalizeID(e *mapping.Entity, id any) (any, error) {
	nid, err := e.NormalizeID(id)
	if err != nil {
		return nil, fetchgraph.NewMappingError(e.Name, "invalid identifier %v: %v", id, err)
	}
	if nid == nil {
		return nil, fetchgraph.NewMappingError(e.Name, "null identifier")
	}
	return nid, nil
}

// fromSession returns the instance of e with id the session holds, when
// no statement is needed for it. An instance of another class is a
// wrong-class error.
func (f *Factory) fromSession(sess *session.Session, e *mapping.Entity, id any, o loadOptions) (any, bool, error) {
	entry, ok := sess.Context().Get(session.NewEntityKey(e, id))
	if !ok {
		return nil, false, nil
	}
	if !e.Includes(entry.Entity) {
		return nil, false, fetchgraph.NewWrongClassError(e.Name, id, "loaded object was of class "+entry.Entity.Name)
	}
	if mode := o.lock.Greatest(); mode != fetchgraph.LockNone && mode.GreaterThan(entry.LockMode) {
		return nil, false, nil
	}
	return entry.Instance, true, nil
}

// entityPlan plans the statement loading batchSize instances of e by id.
func (f *Factory) entityPlan(sess *session.Session, e *mapping.Entity, batchSize int, lock *fetchgraph.LockOptions) (*sqlgraph.Plan, error) {
	if err := f.reg.Validate(sess.Influencers()); err != nil {
		return nil, err
	}
	alias := sqlgraph.GenerateAlias(e.Name, 0)
	w, err := sqlgraph.WalkEntity(f.reg, e, alias, f.walkOptions(sess, lock)...)
	if err != nil {
		return nil, err
	}
	p, err := sqlgraph.Assemble(w, sqlgraph.Statement{
		Where:       sqlgraph.KeyRestriction(alias, e.ID.Columns, batchSize),
		Lock:        lock,
		Dialect:     f.dialect,
		Influencers: sess.Influencers(),
	})
	if err != nil {
		return nil, fmt.Errorf("loader: plan %s: %w", e.Name, err)
	}
	return p, nil
}
