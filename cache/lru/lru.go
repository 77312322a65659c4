// Package lru provides an in-process query cache region bounded by entry
// count and expiring entries by their TTL.
package lru

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syssam/fetchgraph"
)

// DefaultSize is the capacity used when none is given.
const DefaultSize = 1024

type entry struct {
	value   []byte
	expires time.Time
}

// Cache is a fetchgraph.Cache evicting the least recently used entries
// beyond its capacity. It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, entry]
	now     func() time.Time
}

var _ fetchgraph.Cache = (*Cache)(nil)

// New returns a cache holding at most size entries, or DefaultSize when
// size is not positive.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("cache/lru: %w", err)
	}
	return &Cache{entries: entries, now: time.Now}, nil
}

// Get returns the value under key, or nil when it is absent or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.entries.Remove(key)
		return nil, nil
	}
	return e.value, nil
}

// Set stores value under key. A zero ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries.Add(key, e)
	return nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear(context.Context) error {
	c.entries.Purge()
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int { return c.entries.Len() }
