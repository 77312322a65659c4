package loader

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/dialect/sql/sqlgraph"
	"github.com/syssam/fetchgraph/mapping"
	"github.com/syssam/fetchgraph/session"
)

// QueryCache memoizes the root identifiers selected by cacheable queries.
// Entries are keyed by a digest of the statement, its bound values, the
// enabled filters and the row selection. An entry is stale once a table it
// read from was invalidated after the entry was written.
//
// Entries live under their region; the invalidation timestamps of tables
// live outside every region, so they apply to all regions and survive
// clearing one.
type QueryCache struct {
	cache  fetchgraph.Cache
	region string
	ttl    time.Duration
	now    func() time.Time
}

// NewQueryCache returns a query cache storing its entries in c under
// region.
func NewQueryCache(c fetchgraph.Cache, region string, ttl time.Duration) *QueryCache {
	return &QueryCache{cache: c, region: region, ttl: ttl, now: time.Now}
}

type (
	// cacheKey is the digested form of a cacheable query.
	cacheKey struct {
		SQL     string         `msgpack:"sql"`
		Args    []any          `msgpack:"args"`
		Filters []cachedFilter `msgpack:"filters,omitempty"`
		First   int            `msgpack:"first,omitempty"`
		Max     int            `msgpack:"max,omitempty"`
	}
	cachedFilter struct {
		Name   string         `msgpack:"name"`
		Params map[string]any `msgpack:"params"`
	}
	// cacheEntry is the cached result of a query.
	cacheEntry struct {
		Timestamp int64    `msgpack:"ts"`
		Spaces    []string `msgpack:"spaces"`
		Natural   bool     `msgpack:"natural,omitempty"`
		Keys      [][]any  `msgpack:"keys"`
	}
)

// Key returns the cache key of a statement run with args under the filters
// of inf, selecting first and max logical rows.
func (c *QueryCache) Key(region, query string, args []any, inf *mapping.Influencers, first, max int) (string, error) {
	k := cacheKey{SQL: query, Args: args, First: first, Max: max}
	if inf != nil {
		for _, ef := range inf.EnabledFilters() {
			k.Filters = append(k.Filters, cachedFilter{Name: ef.Name, Params: ef.Params})
		}
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(k); err != nil {
		return "", fmt.Errorf("loader: encode query cache key: %w", err)
	}
	return c.regionOf(region) + ":" + strconv.FormatUint(xxhash.Sum64(buf.Bytes()), 16), nil
}

func (c *QueryCache) regionOf(region string) string {
	if region == "" {
		return c.region
	}
	return region
}

// spacePrefix prefixes the invalidation timestamp keys of tables.
const spacePrefix = "fetchgraph.query-spaces:"

func spaceKey(table string) string {
	return spacePrefix + table
}

// Invalidate marks the given tables as changed now. Entries written before
// are stale unless they cache an immutable natural key lookup.
func (c *QueryCache) Invalidate(ctx context.Context, tables ...string) error {
	ts := strconv.FormatInt(c.now().UnixNano(), 10)
	for _, t := range tables {
		if err := c.cache.Set(ctx, spaceKey(t), []byte(ts), 0); err != nil {
			return fmt.Errorf("loader: invalidate query space %s: %w", t, err)
		}
	}
	return nil
}

// Clear drops every entry of the configured region.
func (c *QueryCache) Clear(ctx context.Context) error {
	return c.ClearRegion(ctx, "")
}

// ClearRegion drops every entry of region, or of the configured region
// when region is empty. Table invalidations are kept.
func (c *QueryCache) ClearRegion(ctx context.Context, region string) error {
	return c.cache.DeletePrefix(ctx, c.regionOf(region)+":")
}

// get returns the identifier values of a fresh entry under key.
func (c *QueryCache) get(ctx context.Context, key string) ([][]any, bool, error) {
	b, err := c.cache.Get(ctx, key)
	if err != nil || b == nil {
		return nil, false, err
	}
	var entry cacheEntry
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&entry); err != nil {
		return nil, false, fmt.Errorf("loader: decode query cache entry: %w", err)
	}
	if entry.Natural {
		return entry.Keys, true, nil
	}
	for _, space := range entry.Spaces {
		up, err := c.cache.Get(ctx, spaceKey(space))
		if err != nil {
			return nil, false, err
		}
		if up == nil {
			continue
		}
		ts, err := strconv.ParseInt(string(up), 10, 64)
		if err != nil || ts >= entry.Timestamp {
			return nil, false, nil
		}
	}
	return entry.Keys, true, nil
}

// put stores the identifier values of the roots of a query under key.
func (c *QueryCache) put(ctx context.Context, key string, spaces []string, natural bool, keys [][]any) error {
	entry := cacheEntry{
		Timestamp: c.now().UnixNano(),
		Spaces:    spaces,
		Natural:   natural,
		Keys:      keys,
	}
	b, err := msgpack.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("loader: encode query cache entry: %w", err)
	}
	return c.cache.Set(ctx, key, b, c.ttl)
}

// listCached returns the roots of q from the query cache, running the
// statement and caching its roots on a miss. A cached identifier whose
// row no longer exists turns the hit into a miss.
func (f *Factory) listCached(ctx context.Context, sess *session.Session, p *sqlgraph.Plan, q Query) ([]any, error) {
	e, err := f.reg.Entity(q.Entity)
	if err != nil {
		return nil, err
	}
	key, err := f.qcache.Key(q.CacheRegion, p.SQL, p.Args, sess.Influencers(), q.FirstResult, q.MaxResults)
	if err != nil {
		return nil, err
	}
	mode := sess.CacheMode()
	if mode.IsGetEnabled() {
		if result, ok, err := f.cachedRoots(ctx, sess, e, key, q); err != nil || ok {
			return result, err
		}
		f.stats.cacheMisses.Add(1)
	}
	rows, complete, err := f.listQuery(ctx, sess, p, q)
	if err != nil {
		return nil, err
	}
	if mode.IsPutEnabled() && complete {
		keys := make([][]any, len(rows))
		for i, r := range rows {
			keys[i] = e.IDValues(r.id)
		}
		if err := f.qcache.put(ctx, key, p.QuerySpaces, q.NaturalKeyLookup, keys); err != nil {
			return nil, err
		}
		f.stats.cachePuts.Add(1)
	}
	return instances(rows), nil
}

// cachedRoots loads the roots of a cache hit. ok is false on a miss.
func (f *Factory) cachedRoots(ctx context.Context, sess *session.Session, e *mapping.Entity, key string, q Query) ([]any, bool, error) {
	keys, ok, err := f.qcache.get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	ids := make([]any, len(keys))
	for i, k := range keys {
		if ids[i], err = e.IDKey(k); err != nil || ids[i] == nil {
			f.log.DebugContext(ctx, "discarding unreadable query cache entry", "key", key, "error", err)
			return nil, false, nil
		}
	}
	opts := []LoadOption{WithLock(q.Lock)}
	if q.ReadOnly != nil {
		opts = append(opts, WithReadOnly(*q.ReadOnly))
	}
	if q.FetchAllProperties {
		opts = append(opts, WithFetchAllProperties())
	}
	result, err := f.LoadEntityBatch(ctx, sess, e.Name, ids, opts...)
	if err != nil {
		return nil, false, err
	}
	for i, r := range result {
		if r == nil {
			f.log.DebugContext(ctx, "cached query result references a missing row", "entity", e.Name, "id", ids[i])
			return nil, false, nil
		}
	}
	f.stats.cacheHits.Add(1)
	return result, true, nil
}
