package redis

import (
	"context"
	"errors"
	"path"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient keeps keys in memory and pages SCAN two keys at a time. Like
// redis, an iteration started at cursor 0 returns every key that existed
// at its start, whatever is deleted in between.
type fakeClient struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	scanned []string
	err     error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.([]byte)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) Scan(_ context.Context, cursor uint64, match string, _ int64) *redis.ScanCmd {
	if cursor == 0 {
		f.scanned = nil
		for k := range f.data {
			if ok, _ := path.Match(match, k); ok {
				f.scanned = append(f.scanned, k)
			}
		}
		sort.Strings(f.scanned)
	}
	keys := f.scanned
	start := min(int(cursor), len(keys))
	end := min(start+2, len(keys))
	var next uint64
	if end < len(keys) {
		next = uint64(end)
	}
	return redis.NewScanCmdResult(keys[start:end], next, nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	c := newCache(fc, true, Config{Prefix: "app:"})

	v, err := c.Get(ctx, "q:1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.Set(ctx, "q:1", []byte("keys"), time.Minute))
	assert.Equal(t, time.Minute, fc.ttls["app:q:1"])
	v, err = c.Get(ctx, "q:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("keys"), v)

	require.NoError(t, c.Delete(ctx, "q:1"))
	assert.Empty(t, fc.data)

	require.NoError(t, c.Close())
	assert.True(t, fc.closed)
}

func TestCacheDeletePrefix(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	c := newCache(fc, false, Config{Prefix: "app:"})
	for _, k := range []string{"orders:1", "orders:2", "orders:3", "orders:4", "orders:5", "items:1"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), 0))
	}
	fc.data["other:orders:1"] = []byte("x")

	require.NoError(t, c.DeletePrefix(ctx, "orders:"), "deletes across three scan pages")
	for k := range fc.data {
		assert.NotContains(t, k, "app:orders:")
	}
	assert.Len(t, fc.data, 2)
	assert.Contains(t, fc.data, "app:items:1")

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, map[string][]byte{"other:orders:1": []byte("x")}, fc.data)

	require.NoError(t, c.Close())
	assert.False(t, fc.closed)
}

func TestCacheErrors(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	fc.err = errors.New("connection refused")
	c := newCache(fc, false, Config{})

	_, err := c.Get(ctx, "k")
	require.ErrorContains(t, err, "connection refused")
	require.ErrorContains(t, c.Set(ctx, "k", nil, 0), "cache/redis: set k")

	_, err = New(Config{})
	require.Error(t, err)
}

func TestEscapePattern(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain:", "plain:"},
		{"a*b?", `a\*b\?`},
		{"[x]", `\[x\]`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, escapePattern(tt.in))
		})
	}
}
