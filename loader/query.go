package loader

import (
	"context"
	"errors"
	"time"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/dialect/sql"
	"github.com/syssam/fetchgraph/dialect/sql/sqlgraph"
	"github.com/syssam/fetchgraph/session"
)

// Query selects root entities by a caller supplied predicate.
type Query struct {
	// Entity is the root entity name.
	Entity string
	// Where is a predicate over the root alias, with '?' placeholders
	// bound to Args. The root alias is Alias() of the query.
	Where string
	Args  []any
	// OrderBy orders the roots.
	OrderBy string
	// FirstResult skips logical rows; MaxResults bounds them when positive.
	FirstResult int
	MaxResults  int
	// Lock requests lock modes for the rows read.
	Lock *fetchgraph.LockOptions
	// Timeout bounds the statement execution, server side on Postgres and
	// MySQL. Once it has passed, reading stops at the next logical row
	// boundary and the logical rows read so far are returned complete.
	Timeout time.Duration
	// Cacheable looks up and stores the result keys in the query cache.
	Cacheable bool
	// CacheRegion overrides the configured query cache region.
	CacheRegion string
	// NaturalKeyLookup marks a lookup by an immutable natural key, whose
	// cached result stays valid when its tables change.
	NaturalKeyLookup bool
	// ReadOnly overrides the session default for the instances loaded.
	ReadOnly *bool
	// FetchAllProperties reads lazy properties too.
	FetchAllProperties bool
	// ForwardOnly makes scrollable results forward only.
	ForwardOnly bool
	// JoinClauses add conditions to the join of an association path.
	JoinClauses map[string]string
	// EntityOverrides and CollectionOverrides replace generated result
	// column aliases, keyed by association path.
	EntityOverrides     map[string]map[string][]string
	CollectionOverrides map[string]map[string][]string
}

// Alias returns the table alias of the root entity of the query.
func (q Query) Alias() string { return sqlgraph.GenerateAlias(q.Entity, 0) }

func (q Query) loadOptions() loadOptions {
	return loadOptions{lock: q.Lock, readOnly: q.ReadOnly, allProps: q.FetchAllProperties}
}

// loaded is a root read by a statement.
type loaded struct {
	id       any
	instance any
}

// plan plans the statement of q. Rows of one root are kept contiguous when
// collections are joined.
func (f *Factory) plan(sess *session.Session, q Query) (*sqlgraph.Plan, error) {
	if err := f.reg.Validate(sess.Influencers()); err != nil {
		return nil, err
	}
	e, err := f.reg.Entity(q.Entity)
	if err != nil {
		return nil, err
	}
	alias := q.Alias()
	opts := f.walkOptions(sess, q.Lock)
	for path, cond := range q.JoinClauses {
		opts = append(opts, sqlgraph.WithJoinClause(path, cond))
	}
	w, err := sqlgraph.WalkEntity(f.reg, e, alias, opts...)
	if err != nil {
		return nil, err
	}
	return sqlgraph.Assemble(w, sqlgraph.Statement{
		Where:               q.Where,
		Args:                q.Args,
		OrderBy:             q.OrderBy,
		RootOrdered:         w.HasCollectionJoins(),
		Lock:                q.Lock,
		Dialect:             f.dialect,
		Influencers:         sess.Influencers(),
		EntityOverrides:     q.EntityOverrides,
		CollectionOverrides: q.CollectionOverrides,
	})
}

// List returns the root instances selected by q, one per logical row.
// Cacheable queries go through the query cache when it is enabled.
func (f *Factory) List(ctx context.Context, sess *session.Session, q Query) ([]any, error) {
	p, err := f.plan(sess, q)
	if err != nil {
		return nil, err
	}
	if q.Cacheable && f.qcache != nil {
		return f.listCached(ctx, sess, p, q)
	}
	rows, _, err := f.listQuery(ctx, sess, p, q)
	if err != nil {
		return nil, err
	}
	return instances(rows), nil
}

// listQuery runs the statement of q, applying its row selection and time
// limit. complete is false when the time limit ended the read early.
func (f *Factory) listQuery(ctx context.Context, sess *session.Session, p *sqlgraph.Plan, q Query) (rows []loaded, complete bool, err error) {
	ctx, o := f.timeLimit(ctx, q)
	query, args, skip, max := f.selection(ctx, p, q)
	return f.list(ctx, sess, p, query, args, o, skip, max)
}

// timeLimit returns the load options of q with its time limit applied, and
// ctx carrying the server side statement timeout.
func (f *Factory) timeLimit(ctx context.Context, q Query) (context.Context, loadOptions) {
	o := q.loadOptions()
	if q.Timeout > 0 {
		ctx = sql.WithServerTimeout(ctx, f.dialect.Name(), q.Timeout)
		o.deadline = time.Now().Add(q.Timeout)
	}
	return ctx, o
}

// selection applies the row selection of q. Without joined collections
// the dialect's limit clause bounds the rows; otherwise the bounds are
// applied to logical rows while reading.
func (f *Factory) selection(ctx context.Context, p *sqlgraph.Plan, q Query) (query string, args []any, skip, max int) {
	if q.FirstResult <= 0 && q.MaxResults <= 0 {
		return p.SQL, p.Args, 0, 0
	}
	if p.Walk.HasCollectionJoins() {
		f.log.WarnContext(ctx, "first or max results specified with collection fetch; applying in memory", "entity", q.Entity)
		return p.SQL, p.Args, q.FirstResult, q.MaxResults
	}
	if query, args, ok := f.limitStatement(p, q.FirstResult, q.MaxResults); ok {
		return query, args, 0, 0
	}
	return p.SQL, p.Args, q.FirstResult, q.MaxResults
}

// list reads every row of the statement into the session and returns the
// roots of an entity plan, one per logical row. skip and max bound the
// logical rows read. When the time limit of o passes, list stops before
// the next selected logical row and reports the result incomplete.
func (f *Factory) list(ctx context.Context, sess *session.Session, p *sqlgraph.Plan, query string, args []any, o loadOptions, skip, max int) (result []loaded, complete bool, err error) {
	cur, err := f.execute(ctx, query, args, false)
	if err != nil {
		return nil, false, err
	}
	x := newFetch(f, p, sess, cur, o)
	defer func() { err = closeAll(err, cur, x) }()
	var (
		grouped = p.Walk.Entity != nil
		last    any
		n       int
	)
	complete = true
	for cur.Next() {
		if grouped {
			key, err := x.rootKey(cur)
			if err != nil {
				return nil, false, err
			}
			if n == 0 || key != last {
				if n > skip && o.expired() {
					f.log.WarnContext(ctx, "query time limit reached; returning the logical rows read", "query", query, "rows", len(result))
					complete = false
					break
				}
				n++
				last = key
				if max > 0 && n > skip+max {
					break
				}
				if n > skip {
					result = append(result, loaded{id: key})
				}
			}
			if n <= skip {
				continue
			}
		}
		root, err := x.processRow(cur)
		if err != nil {
			return nil, false, err
		}
		if grouped {
			result[len(result)-1].instance = root
		}
	}
	if err := cur.Err(); err != nil {
		return nil, false, sql.Translate(err, "could not read next row of results", query)
	}
	if err := x.initialize(ctx); err != nil {
		return nil, false, err
	}
	return result, complete, nil
}

func instances(rows []loaded) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.instance
	}
	return out
}

// errNoRoot is returned when a scroll is asked for the root of a plan
// without one.
var errNoRoot = errors.New("loader: statement has no root entity")
