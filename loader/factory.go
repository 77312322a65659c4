// Package loader executes the statements planned by sqlgraph and turns
// their rows into graphs of entity instances held by a session.
//
// A Factory is built once per registry and driver. Its loaders read
// entities by id, collections by owner key, and arbitrary root queries,
// either into a list or through scrollable results that group the
// physical rows of one root into a logical row.
//
//	f, err := loader.NewFactory(reg, drv, loader.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	sess := session.New()
//	order, err := f.LoadEntity(ctx, sess, "Order", 7)
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/dialect"
	"github.com/syssam/fetchgraph/dialect/sql"
	"github.com/syssam/fetchgraph/dialect/sql/sqlgraph"
	"github.com/syssam/fetchgraph/mapping"
	"github.com/syssam/fetchgraph/session"
)

// Factory builds and runs the loaders of one registry against one driver.
// A Factory is safe for concurrent use; the sessions it reads into are not.
type Factory struct {
	reg      *mapping.Registry
	cfg      *fetchgraph.Config
	drv      dialect.Driver
	q        dialect.Querier
	dialect  dialect.Dialect
	log      *slog.Logger
	stats    *Statistics
	sqlStats *sql.StatsDriver
	qcache   *QueryCache
	cache    fetchgraph.Cache
}

// Option configures a Factory.
type Option func(*Factory)

// WithConfig sets the configuration. The default configuration uses the
// dialect of the driver.
func WithConfig(cfg *fetchgraph.Config) Option {
	return func(f *Factory) {
		f.cfg = cfg
	}
}

// WithQueryCache sets the cache region store used by cacheable queries.
// The query cache is only consulted when the configuration enables it.
func WithQueryCache(c fetchgraph.Cache) Option {
	return func(f *Factory) {
		f.cache = c
	}
}

// NewFactory returns a factory reading the entities of reg through drv.
// The registry is built if it was not already.
func NewFactory(reg *mapping.Registry, drv dialect.Driver, opts ...Option) (*Factory, error) {
	f := &Factory{reg: reg, drv: drv, stats: &Statistics{}}
	for _, opt := range opts {
		opt(f)
	}
	if f.cfg == nil {
		cfg, err := fetchgraph.NewConfig(fetchgraph.WithDialect(drv.Dialect()))
		if err != nil {
			return nil, err
		}
		f.cfg = cfg
	}
	if err := f.cfg.Validate(); err != nil {
		return nil, err
	}
	if f.cfg.Dialect != drv.Dialect() {
		return nil, fetchgraph.NewConfigError("dialect", fmt.Errorf("configured %q but the driver speaks %q", f.cfg.Dialect, drv.Dialect()))
	}
	d, err := dialect.Get(f.cfg.Dialect)
	if err != nil {
		return nil, fetchgraph.NewConfigError("dialect", err)
	}
	if err := reg.Build(); err != nil {
		return nil, err
	}
	f.dialect = d
	f.log = f.cfg.Logger
	if f.cfg.ShowSQL {
		f.drv = sql.NewDebugDriver(f.drv, f.log)
	}
	if f.cfg.SlowQueryThreshold > 0 {
		f.sqlStats = sql.NewStatsDriver(f.drv, sql.WithSlowThreshold(f.cfg.SlowQueryThreshold), sql.WithSlowQueryLog(f.log))
		f.drv = f.sqlStats
	}
	if f.cfg.QueryCacheEnabled && f.cache != nil {
		f.qcache = NewQueryCache(f.cache, f.cfg.QueryCacheRegion, f.cfg.QueryCacheTTL)
	}
	f.q = f.drv
	return f, nil
}

// Begin starts a transaction and returns a factory whose loaders read
// through it. Pessimistic locks are held until tx ends. The returned
// factory shares statistics and the query cache with f.
func (f *Factory) Begin(ctx context.Context) (*Factory, dialect.Tx, error) {
	tx, err := f.drv.Tx(ctx)
	if err != nil {
		return nil, nil, sql.Translate(err, "could not begin transaction", "")
	}
	txf := *f
	txf.q = tx
	return &txf, tx, nil
}

// Registry returns the mapping registry.
func (f *Factory) Registry() *mapping.Registry { return f.reg }

// Config returns the configuration.
func (f *Factory) Config() *fetchgraph.Config { return f.cfg }

// Dialect returns the SQL dialect.
func (f *Factory) Dialect() dialect.Dialect { return f.dialect }

// Statistics returns the loader statistics.
func (f *Factory) Statistics() *Statistics { return f.stats }

// QueryStats returns the statement statistics, or nil when no slow query
// threshold is configured.
func (f *Factory) QueryStats() *sql.QueryStats {
	if f.sqlStats == nil {
		return nil
	}
	return f.sqlStats.QueryStats()
}

// QueryCache returns the query cache, or nil when it is disabled.
func (f *Factory) QueryCache() *QueryCache { return f.qcache }

// Resolve returns the instance an unloaded reference points at, loading it
// when the session does not hold it yet.
func (f *Factory) Resolve(ctx context.Context, sess *session.Session, ref mapping.Ref) (any, error) {
	e, err := f.reg.Entity(ref.Entity)
	if err != nil {
		return nil, err
	}
	return f.LoadEntity(ctx, sess, e.Name, ref.ID)
}

// walkOptions returns the walk options shared by every loader.
func (f *Factory) walkOptions(sess *session.Session, lock *fetchgraph.LockOptions) []sqlgraph.WalkOption {
	return []sqlgraph.WalkOption{
		sqlgraph.WithConfig(f.cfg),
		sqlgraph.WithInfluencers(sess.Influencers()),
		sqlgraph.WithLockMode(lock.Greatest()),
	}
}

// execute runs the statement and returns a cursor over its rows.
func (f *Factory) execute(ctx context.Context, query string, args []any, scrollable bool) (*sql.Cursor, error) {
	query = f.dialect.Rebind(query)
	rows := &sql.Rows{}
	if err := f.q.Query(ctx, query, args, rows); err != nil {
		return nil, sql.Translate(err, "could not execute query", query)
	}
	f.stats.queries.Add(1)
	cur, err := sql.NewCursor(rows.ColumnScanner, scrollable)
	if err != nil {
		return nil, sql.Translate(err, "could not read result set", query)
	}
	return cur, nil
}

// limitStatement applies first and max rows to sqlText through the
// dialect's limit clause, keeping the lock clause last. It reports false
// when the dialect cannot limit the statement.
func (f *Factory) limitStatement(p *sqlgraph.Plan, first, max int) (string, []any, bool) {
	d := f.dialect
	hasOffset := first > 0
	if max <= 0 || !d.SupportsLimit() || hasOffset && !d.SupportsLimitOffset() {
		return p.SQL, p.Args, false
	}
	base := strings.TrimSuffix(p.SQL, p.LockClause)
	query := d.LimitString(base, hasOffset) + p.LockClause
	limit := max
	if d.UseMaxForLimit() {
		limit += first
	}
	var largs []any
	switch {
	case !hasOffset:
		largs = []any{limit}
	case d.BindLimitParametersInReverseOrder():
		largs = []any{limit, d.ConvertToFirstRowValue(first)}
	default:
		largs = []any{d.ConvertToFirstRowValue(first), limit}
	}
	args := make([]any, 0, len(p.Args)+len(largs))
	if d.BindLimitParametersFirst() {
		args = append(append(args, largs...), p.Args...)
	} else {
		args = append(append(args, p.Args...), largs...)
	}
	return query, args, true
}

// closeAll closes the cursor and the fetch state, joining their errors
// with err.
func closeAll(err error, cur *sql.Cursor, x *fetch) error {
	if x != nil {
		x.close()
	}
	if cur != nil {
		err = errors.Join(err, cur.Close())
	}
	return err
}
