package fetchgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxFetchDepth bounds the association walk when no depth is configured.
const DefaultMaxFetchDepth = 3

// Config holds the settings shared by every loader built from one factory.
type Config struct {
	// Dialect names the SQL dialect ("postgres", "mysql" or "sqlite").
	Dialect string `yaml:"dialect"`
	// MaxFetchDepth is the deepest association path joined by a single
	// statement. A negative value disables the limit.
	MaxFetchDepth int `yaml:"max_fetch_depth"`
	// DefaultBatchFetchSize is the number of keys loaded per batch statement.
	DefaultBatchFetchSize int `yaml:"default_batch_fetch_size"`
	// QueryCacheEnabled turns on the query cache for cacheable fetches.
	QueryCacheEnabled bool `yaml:"query_cache_enabled"`
	// QueryCacheRegion is the default region name used as key prefix.
	QueryCacheRegion string `yaml:"query_cache_region"`
	// QueryCacheTTL is the lifetime of query cache entries; zero keeps them
	// until their query spaces are invalidated.
	QueryCacheTTL time.Duration `yaml:"query_cache_ttl"`
	// ScrollableResultSets lets scrollable results move backwards. When
	// false, results are forward only and rows are dropped once read.
	ScrollableResultSets bool `yaml:"scrollable_result_sets"`
	// SingleCollectionFetch stops the walker from joining a second
	// collection once one collection join was planned.
	SingleCollectionFetch bool `yaml:"single_collection_fetch"`
	// ShowSQL logs every statement before execution.
	ShowSQL bool `yaml:"show_sql"`
	// SlowQueryThreshold enables statement statistics and logs statements
	// that run longer than the threshold.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	// Logger receives loader diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// Option configures a Config.
type Option func(*Config) error

// DefaultConfig returns the configuration used when no option is given.
func DefaultConfig() *Config {
	return &Config{
		Dialect:               "postgres",
		MaxFetchDepth:         DefaultMaxFetchDepth,
		DefaultBatchFetchSize: 16,
		QueryCacheRegion:      "fetchgraph.query",
		SingleCollectionFetch: true,
		ScrollableResultSets:  true,
		Logger:                slog.Default(),
	}
}

// NewConfig builds a configuration from the defaults and opts.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file and applies opts on top of it.
func LoadConfig(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetchgraph: read config: %w", err)
	}
	return ParseConfig(data, opts...)
}

// ParseConfig decodes a YAML document over the defaults and applies opts.
func ParseConfig(data []byte, opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("fetchgraph: parse config: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no loader can work with.
func (c *Config) Validate() error {
	switch c.Dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return NewConfigError("dialect", fmt.Errorf("unsupported dialect %q", c.Dialect))
	}
	if c.DefaultBatchFetchSize < 1 {
		return NewConfigError("default_batch_fetch_size", errors.New("must be positive"))
	}
	if c.QueryCacheTTL < 0 {
		return NewConfigError("query_cache_ttl", errors.New("must not be negative"))
	}
	if c.QueryCacheEnabled && c.QueryCacheRegion == "" {
		return NewConfigError("query_cache_region", errors.New("required when the query cache is enabled"))
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// DepthLimited reports whether a walk at depth is past the configured maximum.
func (c *Config) DepthLimited(depth int) bool {
	return c.MaxFetchDepth >= 0 && depth >= c.MaxFetchDepth
}

// WithDialect sets the SQL dialect name.
func WithDialect(name string) Option {
	return func(c *Config) error {
		c.Dialect = name
		return nil
	}
}

// WithMaxFetchDepth sets the maximum join depth. Negative means unlimited.
func WithMaxFetchDepth(depth int) Option {
	return func(c *Config) error {
		c.MaxFetchDepth = depth
		return nil
	}
}

// WithBatchFetchSize sets the number of keys per batch statement.
func WithBatchFetchSize(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return NewConfigError("batch_fetch_size", fmt.Errorf("invalid size %d", n))
		}
		c.DefaultBatchFetchSize = n
		return nil
	}
}

// WithQueryCache enables the query cache with the given region and TTL.
func WithQueryCache(region string, ttl time.Duration) Option {
	return func(c *Config) error {
		if region == "" {
			return NewConfigError("query_cache_region", errors.New("empty region"))
		}
		c.QueryCacheEnabled = true
		c.QueryCacheRegion = region
		c.QueryCacheTTL = ttl
		return nil
	}
}

// WithScrollableResultSets controls whether results can scroll backwards.
func WithScrollableResultSets(enabled bool) Option {
	return func(c *Config) error {
		c.ScrollableResultSets = enabled
		return nil
	}
}

// WithSingleCollectionFetch controls whether more than one collection may be join fetched.
func WithSingleCollectionFetch(enabled bool) Option {
	return func(c *Config) error {
		c.SingleCollectionFetch = enabled
		return nil
	}
}

// WithShowSQL logs statements before they execute.
func WithShowSQL(enabled bool) Option {
	return func(c *Config) error {
		c.ShowSQL = enabled
		return nil
	}
}

// WithSlowQueryThreshold records statement statistics and logs slow statements.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(c *Config) error {
		c.SlowQueryThreshold = d
		return nil
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return NewConfigError("logger", errors.New("nil logger"))
		}
		c.Logger = l
		return nil
	}
}
