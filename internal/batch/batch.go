// Package batch provides helpers for loading values by many keys at once:
// splitting keys into statement sized chunks and putting batch results
// back into the order of the requested keys.
//
// A batch statement returns rows in whatever order the database chooses,
// so results are regrouped by key before they are handed back:
//
//	for _, chunk := range batch.Chunk(ids, 16) {
//		loaded, err := load(ctx, chunk)
//		...
//		ordered, errs := batch.OrderByKeys(chunk, loaded, keyOf)
//	}
package batch

import (
	"errors"
	"slices"
)

// ErrNotFound is returned for a key that has no value in a batch result.
var ErrNotFound = errors.New("batch: value not found")

// KeyFunc extracts a key from a value.
type KeyFunc[K comparable, V any] func(V) K

// OrderByKeys reorders values to match the order of keys. The result has
// the length of keys; a key without a value gets the zero value and
// ErrNotFound at its position.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// Unique returns keys without duplicates, keeping the first occurrence.
func Unique[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Chunk splits keys into consecutive batches of at most size keys.
// A size below one puts every key into one batch.
func Chunk[K any](keys []K, size int) [][]K {
	if len(keys) == 0 {
		return nil
	}
	if size < 1 {
		return [][]K{keys}
	}
	return slices.Collect(slices.Chunk(keys, size))
}

// Pad fills keys up to size by repeating the last key, so that batch
// statements of one size share a single statement text. Keys longer than
// size are returned unchanged.
func Pad[K any](keys []K, size int) []K {
	if len(keys) == 0 || len(keys) >= size {
		return keys
	}
	out := make([]K, size)
	copy(out, keys)
	for i := len(keys); i < size; i++ {
		out[i] = keys[len(keys)-1]
	}
	return out
}
