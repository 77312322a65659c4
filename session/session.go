// Package session holds the per-session state the loaders read and mutate:
// the identity map of entity instances with their hydration state, the
// collections read so far, and the load contexts of open result sets.
//
// A session is used by one caller at a time. Fetches on one session run
// sequentially; they share the identity map, so an instance loaded twice
// is the same instance.
package session

import (
	"context"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/mapping"
)

// PostLoadListener is called for every instance once its values are set.
type PostLoadListener func(ctx context.Context, e *mapping.Entity, instance any)

// Session is the unit of work loaders read into.
type Session struct {
	pc          *Context
	influencers *mapping.Influencers
	cacheMode   fetchgraph.CacheMode
	readOnly    bool
	listeners   []PostLoadListener
}

// Option configures a Session.
type Option func(*Session)

// WithInfluencers sets the enabled filters and fetch profiles.
func WithInfluencers(inf *mapping.Influencers) Option {
	return func(s *Session) {
		s.influencers = inf
	}
}

// WithCacheMode sets how the session uses the query cache.
func WithCacheMode(mode fetchgraph.CacheMode) Option {
	return func(s *Session) {
		s.cacheMode = mode
	}
}

// WithReadOnly makes instances loaded by the session read-only by default.
func WithReadOnly(readOnly bool) Option {
	return func(s *Session) {
		s.readOnly = readOnly
	}
}

// WithPostLoadListener adds a listener called after an instance is hydrated.
func WithPostLoadListener(l PostLoadListener) Option {
	return func(s *Session) {
		s.listeners = append(s.listeners, l)
	}
}

// New returns a session with an empty persistence context.
func New(opts ...Option) *Session {
	s := &Session{pc: NewContext()}
	for _, opt := range opts {
		opt(s)
	}
	if s.influencers == nil {
		s.influencers = mapping.NewInfluencers()
	}
	return s
}

// Context returns the persistence context.
func (s *Session) Context() *Context { return s.pc }

// Influencers returns the enabled filters and fetch profiles.
func (s *Session) Influencers() *mapping.Influencers { return s.influencers }

// CacheMode returns the query cache mode.
func (s *Session) CacheMode() fetchgraph.CacheMode { return s.cacheMode }

// SetCacheMode changes the query cache mode.
func (s *Session) SetCacheMode(mode fetchgraph.CacheMode) { s.cacheMode = mode }

// IsDefaultReadOnly reports whether loaded instances are read-only unless
// a fetch says otherwise.
func (s *Session) IsDefaultReadOnly() bool { return s.readOnly }

// PostLoad calls the post load listeners for instance.
func (s *Session) PostLoad(ctx context.Context, e *mapping.Entity, instance any) {
	for _, l := range s.listeners {
		l(ctx, e, instance)
	}
}

// Lookup returns the instance of e with the normalized id, if the session
// holds one.
func (s *Session) Lookup(e *mapping.Entity, id any) (any, bool) {
	return s.pc.Instance(NewEntityKey(e, id))
}

// Clear empties the persistence context.
func (s *Session) Clear() { s.pc.Clear() }
