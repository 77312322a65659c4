package loader

import (
	"fmt"
	"sync/atomic"
)

// Statistics counts the work done by the loaders of one factory. All
// methods are safe for concurrent use.
type Statistics struct {
	queries            atomic.Int64
	entitiesLoaded     atomic.Int64
	collectionsLoaded  atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	cachePuts          atomic.Int64
	optimisticFailures atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Statistics.
type StatsSnapshot struct {
	Queries            int64
	EntitiesLoaded     int64
	CollectionsLoaded  int64
	QueryCacheHits     int64
	QueryCacheMisses   int64
	QueryCachePuts     int64
	OptimisticFailures int64
}

// Snapshot returns the current counters.
func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:            s.queries.Load(),
		EntitiesLoaded:     s.entitiesLoaded.Load(),
		CollectionsLoaded:  s.collectionsLoaded.Load(),
		QueryCacheHits:     s.cacheHits.Load(),
		QueryCacheMisses:   s.cacheMisses.Load(),
		QueryCachePuts:     s.cachePuts.Load(),
		OptimisticFailures: s.optimisticFailures.Load(),
	}
}

// HitRatio returns the query cache hit ratio, or 0 before any lookup.
func (s StatsSnapshot) HitRatio() float64 {
	total := s.QueryCacheHits + s.QueryCacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.QueryCacheHits) / float64(total)
}

// String formats the snapshot for logs.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d entities=%d collections=%d cache(hit=%d miss=%d put=%d) optimistic_failures=%d",
		s.Queries, s.EntitiesLoaded, s.CollectionsLoaded, s.QueryCacheHits, s.QueryCacheMisses, s.QueryCachePuts, s.OptimisticFailures)
}

// Reset sets every counter to zero.
func (s *Statistics) Reset() {
	s.queries.Store(0)
	s.entitiesLoaded.Store(0)
	s.collectionsLoaded.Store(0)
	s.cacheHits.Store(0)
	s.cacheMisses.Store(0)
	s.cachePuts.Store(0)
	s.optimisticFailures.Store(0)
}
