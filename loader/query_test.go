package loader

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/cache/lru"
	"github.com/syssam/fetchgraph/dialect"
	"github.com/syssam/fetchgraph/dialect/sql"
	"github.com/syssam/fetchgraph/dialect/sql/sqlgraph"
	"github.com/syssam/fetchgraph/internal/fixture"
	"github.com/syssam/fetchgraph/mapping"
	"github.com/syssam/fetchgraph/session"
)

// ordersQuery matches the statement of Query{Entity: "Order"}.
var ordersQuery = regexp.QuoteMeta("from orders order0_ ") + ".*" +
	regexp.QuoteMeta("order by order0_.id asc, items2_.position asc")

// threeOrders returns order 7 with two items, order 8 with one and order 9
// with none.
func threeOrders() []row {
	return []row{
		orderRow(7, 11, "pen", 1),
		orderRow(7, 12, "ink", 2),
		orderRow(8, 13, "pad", 1),
		orderRow(9, 0, "", 0),
	}
}

func ids(t *testing.T, vs []any) []any {
	t.Helper()
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = record(t, v).ID
	}
	return out
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f, mock := newFactory(t)
	mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
	got, err := f.List(ctx, session.New(), Query{Entity: "Order"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(7), int64(8), int64(9)}, ids(t, got))
	items := record(t, got[0]).Get("items").(*session.PersistentCollection)
	assert.Equal(t, 2, items.Len())
	empty := record(t, got[2]).Get("items").(*session.PersistentCollection)
	assert.True(t, empty.IsInitialized())
	assert.Zero(t, empty.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_Selection(t *testing.T) {
	ctx := context.Background()
	t.Run("InMemory", func(t *testing.T) {
		f, mock := newFactory(t)
		mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
		sess := session.New()
		got, err := f.List(ctx, sess, Query{Entity: "Order", FirstResult: 1, MaxResults: 1})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(8)}, ids(t, got))
		o, err := f.Registry().Entity("Order")
		require.NoError(t, err)
		_, ok := sess.Lookup(o, int64(7))
		assert.False(t, ok, "skipped roots are not loaded")
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Limit", func(t *testing.T) {
		f, mock := newFactory(t)
		mock.ExpectQuery(regexp.QuoteMeta("from customers customer0_ where customer0_.name like ? order by customer0_.name limit ? offset ?")).
			WithArgs("a%", 2, 1).
			WillReturnRows(mockRows([]string{"id1_0_", "version2_0_", "name3_0_"},
				row{"id1_0_": int64(4), "version2_0_": int64(1), "name3_0_": "al"},
			))
		got, err := f.List(ctx, session.New(), Query{
			Entity:      "Customer",
			Where:       "customer0_.name like ?",
			Args:        []any{"a%"},
			OrderBy:     "customer0_.name",
			FirstResult: 1,
			MaxResults:  2,
		})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(4)}, ids(t, got))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func sqlgraphPlan(query string, args []any, lock string) *sqlgraph.Plan {
	return &sqlgraph.Plan{SQL: query, Args: args, LockClause: lock}
}

func TestLimitStatement(t *testing.T) {
	tests := []struct {
		dialect    string
		first, max int
		want       string
		args       []any
	}{
		{dialect.SQLite, 0, 5, " limit ?", []any{"x", 5}},
		{dialect.SQLite, 2, 5, " limit ? offset ?", []any{"x", 5, 2}},
		{dialect.Postgres, 2, 5, " limit ? offset ?", []any{"x", 5, 2}},
		{dialect.MySQL, 2, 5, " limit ?, ?", []any{"x", 2, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			d, err := dialect.Get(tt.dialect)
			require.NoError(t, err)
			f := &Factory{dialect: d}
			p := sqlgraphPlan("select c.id from customers c where c.name=?", []any{"x"}, "")
			query, args, ok := f.limitStatement(p, tt.first, tt.max)
			require.True(t, ok)
			assert.Equal(t, p.SQL+tt.want, query)
			assert.Equal(t, tt.args, args)
		})
	}
	t.Run("LockLast", func(t *testing.T) {
		d, err := dialect.Get(dialect.Postgres)
		require.NoError(t, err)
		f := &Factory{dialect: d}
		p := sqlgraphPlan("select c.id from customers c for update", nil, " for update")
		query, args, ok := f.limitStatement(p, 0, 1)
		require.True(t, ok)
		assert.Equal(t, "select c.id from customers c limit ? for update", query)
		assert.Equal(t, []any{1}, args)
	})
}

func TestScroll(t *testing.T) {
	ctx := context.Background()
	f, mock := newFactory(t)
	mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
	sr, err := f.Scroll(ctx, session.New(), Query{Entity: "Order"})
	require.NoError(t, err)
	defer sr.Close()

	at := func(id int64, n int) {
		t.Helper()
		require.NoError(t, sr.Err())
		assert.Equal(t, n, sr.RowNumber())
		assert.Equal(t, id, record(t, sr.Get()).ID)
	}
	require.True(t, sr.Next())
	at(7, 1)
	assert.True(t, sr.IsFirst())
	items := record(t, sr.Get()).Get("items").(*session.PersistentCollection)
	assert.Equal(t, 2, items.Len(), "a logical row holds every element of its root")
	require.True(t, sr.Next())
	at(8, 2)
	require.True(t, sr.Next())
	at(9, 3)
	require.False(t, sr.Next())
	assert.Zero(t, sr.RowNumber())
	assert.Nil(t, sr.Get())

	require.True(t, sr.Previous())
	at(9, 3)
	require.True(t, sr.Previous())
	at(8, 2)
	require.True(t, sr.First())
	at(7, 1)
	require.False(t, sr.Previous())
	assert.Zero(t, sr.RowNumber())
	require.True(t, sr.Next())
	at(7, 1)
	require.True(t, sr.Last())
	at(9, 3)
	require.NoError(t, sr.AfterLast())
	require.True(t, sr.Previous())
	at(9, 3)
	require.NoError(t, sr.BeforeFirst())
	require.True(t, sr.Next())
	at(7, 1)
	assert.Same(t, items, record(t, sr.Get()).Get("items"), "reread rows keep the loaded collection")

	require.NoError(t, sr.Close())
	require.NoError(t, sr.Close())
	assert.False(t, sr.Next())
	assert.Error(t, sr.Err())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScroll_Selection(t *testing.T) {
	f, mock := newFactory(t)
	mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
	sr, err := f.Scroll(context.Background(), session.New(), Query{Entity: "Order", FirstResult: 1, MaxResults: 1})
	require.NoError(t, err)
	defer sr.Close()
	require.True(t, sr.Next())
	assert.Equal(t, int64(8), record(t, sr.Get()).ID)
	assert.Equal(t, 1, sr.RowNumber())
	require.False(t, sr.Next())
	require.True(t, sr.Last())
	assert.Equal(t, int64(8), record(t, sr.Get()).ID)
	require.False(t, sr.Previous())
	require.NoError(t, sr.Err())
}

func TestScroll_ForwardOnly(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		query Query
	}{
		{"Query", nil, Query{Entity: "Order", ForwardOnly: true}},
		{"Config", []Option{WithConfig(mustConfig(t, fetchgraph.WithDialect(dialect.SQLite), fetchgraph.WithScrollableResultSets(false)))}, Query{Entity: "Order"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, mock := newFactory(t, tt.opts...)
			mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
			sr, err := f.Scroll(context.Background(), session.New(), tt.query)
			require.NoError(t, err)
			defer sr.Close()
			require.True(t, sr.Next())
			require.True(t, sr.Next())
			assert.Equal(t, int64(8), record(t, sr.Get()).ID)
			require.False(t, sr.Previous())
			assert.ErrorIs(t, sr.Err(), sql.ErrForwardOnly)
		})
	}
}

// slowDriver pauses before reading row n of every result set.
type slowDriver struct {
	dialect.Driver
	n     int
	delay time.Duration
}

func (d slowDriver) Query(ctx context.Context, query string, args, v any) error {
	if err := d.Driver.Query(ctx, query, args, v); err != nil {
		return err
	}
	rows := v.(*sql.Rows)
	rows.ColumnScanner = &slowRows{ColumnScanner: rows.ColumnScanner, n: d.n, delay: d.delay}
	return nil
}

type slowRows struct {
	sql.ColumnScanner
	n, read int
	delay   time.Duration
}

func (r *slowRows) Next() bool {
	if r.read++; r.read == r.n {
		time.Sleep(r.delay)
	}
	return r.ColumnScanner.Next()
}

// newSlowFactory returns a factory whose result sets stall for 50ms in the
// middle of the first logical row of threeOrders.
func newSlowFactory(t *testing.T, opts ...Option) (*Factory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	drv := slowDriver{Driver: sql.OpenDB(dialect.SQLite, db), n: 2, delay: 50 * time.Millisecond}
	f, err := NewFactory(fixture.BuiltShop(), drv, opts...)
	require.NoError(t, err)
	return f, mock
}

func TestList_Timeout(t *testing.T) {
	ctx := context.Background()
	t.Run("StopsAtLogicalRow", func(t *testing.T) {
		f, mock := newSlowFactory(t)
		mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
		got, err := f.List(ctx, session.New(), Query{Entity: "Order", Timeout: 20 * time.Millisecond})
		require.NoError(t, err)
		require.Equal(t, []any{int64(7)}, ids(t, got))
		items := record(t, got[0]).Get("items").(*session.PersistentCollection)
		assert.True(t, items.IsInitialized())
		assert.Equal(t, 2, items.Len(), "the row in progress is read to its end")
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("WithinLimit", func(t *testing.T) {
		f, mock := newSlowFactory(t)
		mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
		got, err := f.List(ctx, session.New(), Query{Entity: "Order", Timeout: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(7), int64(8), int64(9)}, ids(t, got))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("NotCached", func(t *testing.T) {
		cache, err := lru.New(0)
		require.NoError(t, err)
		cfg := mustConfig(t, fetchgraph.WithDialect(dialect.SQLite), fetchgraph.WithQueryCache("q", 0))
		f, mock := newSlowFactory(t, WithConfig(cfg), WithQueryCache(cache))
		mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
		got, err := f.List(ctx, session.New(), Query{Entity: "Order", Timeout: 20 * time.Millisecond, Cacheable: true})
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Zero(t, f.Statistics().Snapshot().QueryCachePuts)
		assert.Zero(t, cache.Len())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScroll_Timeout(t *testing.T) {
	f, mock := newSlowFactory(t)
	mock.ExpectQuery(ordersQuery).WillReturnRows(mockRows(orderColumns, threeOrders()...))
	sr, err := f.Scroll(context.Background(), session.New(), Query{Entity: "Order", ForwardOnly: true, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer sr.Close()
	require.True(t, sr.Next())
	assert.Equal(t, int64(7), record(t, sr.Get()).ID)
	items := record(t, sr.Get()).Get("items").(*session.PersistentCollection)
	assert.Equal(t, 2, items.Len())
	assert.False(t, sr.Next())
	assert.Nil(t, sr.Get())
	require.NoError(t, sr.Err())
	require.NoError(t, sr.Close())
}

func mustConfig(t *testing.T, opts ...fetchgraph.Option) *fetchgraph.Config {
	t.Helper()
	cfg, err := fetchgraph.NewConfig(opts...)
	require.NoError(t, err)
	return cfg
}

func TestList_QueryCache(t *testing.T) {
	ctx := context.Background()
	cache, err := lru.New(0)
	require.NoError(t, err)
	cfg := mustConfig(t, fetchgraph.WithDialect(dialect.SQLite), fetchgraph.WithQueryCache("q", 0))
	f, mock := newFactory(t, WithConfig(cfg), WithQueryCache(cache))
	require.NotNil(t, f.QueryCache())
	var tick int64
	f.QueryCache().now = func() time.Time {
		tick++
		return time.Unix(0, tick)
	}

	cols := []string{"id1_0_", "version2_0_", "name3_0_"}
	ada := row{"id1_0_": int64(3), "version2_0_": int64(1), "name3_0_": "ada"}
	byName := regexp.QuoteMeta("from customers customer0_ where customer0_.name=?")
	byID := regexp.QuoteMeta("from customers customer0_ where customer0_.id=?")
	q := Query{Entity: "Customer", Where: "customer0_.name=?", Args: []any{"ada"}, Cacheable: true}
	list := func(sess *session.Session) []any {
		t.Helper()
		got, err := f.List(ctx, sess, q)
		require.NoError(t, err)
		return got
	}
	stats := func() StatsSnapshot { return f.Statistics().Snapshot() }

	mock.ExpectQuery(byName).WithArgs("ada").WillReturnRows(mockRows(cols, ada))
	assert.Equal(t, []any{int64(3)}, ids(t, list(session.New())))
	assert.Equal(t, int64(1), stats().QueryCacheMisses)
	assert.Equal(t, int64(1), stats().QueryCachePuts)

	// A hit loads the cached identifiers by key.
	mock.ExpectQuery(byID).WithArgs(3).WillReturnRows(mockRows(cols, ada))
	assert.Equal(t, []any{int64(3)}, ids(t, list(session.New())))
	assert.Equal(t, int64(1), stats().QueryCacheHits)

	// Invalidating a table the query read from makes the entry stale.
	require.NoError(t, f.QueryCache().Invalidate(ctx, "customers"))
	mock.ExpectQuery(byName).WillReturnRows(mockRows(cols, ada))
	list(session.New())
	assert.Equal(t, int64(2), stats().QueryCacheMisses)
	assert.Equal(t, int64(2), stats().QueryCachePuts)

	// Ignoring the cache neither reads nor writes.
	mock.ExpectQuery(byName).WillReturnRows(mockRows(cols, ada))
	list(session.New(session.WithCacheMode(fetchgraph.CacheIgnore)))
	assert.Equal(t, int64(2), stats().QueryCacheMisses)
	assert.Equal(t, int64(2), stats().QueryCachePuts)

	// A cached identifier without a row turns the hit into a miss.
	mock.ExpectQuery(byID).WithArgs(3).WillReturnRows(mockRows(cols))
	mock.ExpectQuery(byName).WillReturnRows(mockRows(cols))
	assert.Empty(t, list(session.New()))
	assert.Equal(t, int64(1), stats().QueryCacheHits)
	assert.Equal(t, int64(3), stats().QueryCacheMisses)
	assert.InDelta(t, 0.25, stats().HitRatio(), 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryCache(t *testing.T) {
	ctx := context.Background()
	cache, err := lru.New(0)
	require.NoError(t, err)
	qc := NewQueryCache(cache, "q", time.Minute)
	var tick int64
	qc.now = func() time.Time {
		tick++
		return time.Unix(0, tick)
	}

	t.Run("Key", func(t *testing.T) {
		tenant := func(v int) *mapping.Influencers {
			return mapping.NewInfluencers().EnableFilter("tenant", map[string]any{"tenant": v})
		}
		k1, err := qc.Key("", "select 1", []any{1}, tenant(5), 0, 0)
		require.NoError(t, err)
		k2, err := qc.Key("", "select 1", []any{1}, tenant(5), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, k1, k2)
		assert.Regexp(t, "^q:[0-9a-f]+$", k1)
		for _, k := range []func() (string, error){
			func() (string, error) { return qc.Key("", "select 1", []any{1}, tenant(6), 0, 0) },
			func() (string, error) { return qc.Key("", "select 1", []any{2}, tenant(5), 0, 0) },
			func() (string, error) { return qc.Key("", "select 1", []any{1}, nil, 0, 0) },
			func() (string, error) { return qc.Key("", "select 1", []any{1}, tenant(5), 1, 0) },
		} {
			other, err := k()
			require.NoError(t, err)
			assert.NotEqual(t, k1, other)
		}
		region, err := qc.Key("hot", "select 1", []any{1}, tenant(5), 0, 0)
		require.NoError(t, err)
		assert.Regexp(t, "^hot:", region)
	})
	t.Run("NaturalKey", func(t *testing.T) {
		require.NoError(t, qc.put(ctx, "q:natural", []string{"customers"}, true, [][]any{{int64(3)}}))
		require.NoError(t, qc.put(ctx, "q:plain", []string{"customers"}, false, [][]any{{int64(3)}}))
		require.NoError(t, qc.Invalidate(ctx, "customers"))
		keys, ok, err := qc.get(ctx, "q:natural")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, [][]any{{int64(3)}}, keys)
		_, ok, err = qc.get(ctx, "q:plain")
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("OtherSpace", func(t *testing.T) {
		require.NoError(t, qc.put(ctx, "q:orders", []string{"orders"}, false, [][]any{{int64(7)}, {int64(8)}}))
		require.NoError(t, qc.Invalidate(ctx, "items"))
		keys, ok, err := qc.get(ctx, "q:orders")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, keys, 2)
	})
	t.Run("Regions", func(t *testing.T) {
		require.NoError(t, qc.Invalidate(ctx, "orders"))
		require.NoError(t, qc.put(ctx, "hot:orders", []string{"orders"}, false, [][]any{{int64(7)}}))
		require.NoError(t, qc.put(ctx, "q:orders", []string{"orders"}, false, [][]any{{int64(7)}}))
		require.NoError(t, qc.Clear(ctx))
		_, ok, err := qc.get(ctx, "q:orders")
		require.NoError(t, err)
		assert.False(t, ok, "cleared with the configured region")

		// An entry of another region still sees tables invalidated after
		// it was written, even once the configured region is cleared.
		_, ok, err = qc.get(ctx, "hot:orders")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, qc.Invalidate(ctx, "orders"))
		require.NoError(t, qc.Clear(ctx))
		_, ok, err = qc.get(ctx, "hot:orders")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, qc.ClearRegion(ctx, "hot"))
		v, err := cache.Get(ctx, "hot:orders")
		require.NoError(t, err)
		assert.Nil(t, v)
	})
	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, qc.Clear(ctx))
		v, err := cache.Get(ctx, "q:orders")
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = cache.Get(ctx, spaceKey("orders"))
		require.NoError(t, err)
		assert.NotNil(t, v, "table invalidations survive clearing a region")
	})
}
