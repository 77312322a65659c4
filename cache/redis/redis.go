// Package redis provides a query cache region shared between processes
// through Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syssam/fetchgraph"
)

// client is the subset of go-redis commands the cache uses.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// Config describes the Redis connection and key layout of a cache.
type Config struct {
	// Client is used when set; otherwise a client is created from Addr.
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix is prepended to every key, so several caches can share a
	// database. Clear only removes keys under it.
	Prefix string
	// ScanCount is the hint passed to SCAN when deleting by prefix.
	ScanCount int64
}

// Cache is a fetchgraph.Cache storing entries in Redis.
type Cache struct {
	client    client
	ownClient bool
	prefix    string
	scanCount int64
}

var _ fetchgraph.Cache = (*Cache)(nil)

// New returns a cache for cfg.
func New(cfg Config) (*Cache, error) {
	var (
		cl  client
		own bool
	)
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("cache/redis: client or address not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newCache(cl, own, cfg), nil
}

func newCache(cl client, own bool, cfg Config) *Cache {
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	return &Cache{client: cl, ownClient: own, prefix: cfg.Prefix, scanCount: cfg.ScanCount}
}

// Get returns the value under key, or nil when it is absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cache/redis: get %s: %w", key, err)
	}
	return b, nil
}

// Set stores value under key. A zero ttl never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache/redis: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache/redis: delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix, scanning the
// keyspace in batches.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	match := escapePattern(c.prefix+prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, c.scanCount).Result()
		if err != nil {
			return fmt.Errorf("cache/redis: scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache/redis: delete prefix %s: %w", prefix, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Clear removes every key under the cache prefix.
func (c *Cache) Clear(ctx context.Context) error {
	return c.DeletePrefix(ctx, "")
}

// Close closes the client when the cache created it.
func (c *Cache) Close() error {
	if !c.ownClient {
		return nil
	}
	return c.client.Close()
}

// escapePattern escapes the glob characters of a SCAN MATCH pattern.
func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
