package concache

// loader.go implements GetOrLoad, a singleflight-coalesced convenience layer
// on top of ConcurrentMap's core API. It exists for the request-coalescing
// use-case called out in this repository's purpose statement: many callers
// racing to populate the same missing key should trigger exactly one
// load.
//
// Unlike GetOrInsert, whose factory runs synchronously under the shard's
// write lock (so it must be cheap), the loader here runs with no shard lock
// held at all - only golang.org/x/sync/singleflight serializes concurrent
// loads of the same key. This trades the stronger "exactly one factory call
// system-wide, ever" guarantee of GetOrInsert for "exactly one in-flight
// load per key at a time", which is the right trade for loaders that may
// perform I/O.
//
// © 2025 concache authors. MIT License.

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// LoaderFunc produces a value for key on a cache miss. It may be invoked
// concurrently for different keys and must be safe for concurrent use. If it
// returns an error, nothing is stored and the error is propagated to every
// waiter coalesced onto this call.
type LoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

type loaderGroup struct {
	g singleflight.Group
}

// GetOrLoad returns key's value if resident, otherwise calls loader exactly
// once across all concurrently-racing callers for that key and stores the
// result before returning it.
func (m *ConcurrentMap[K, V]) GetOrLoad(ctx context.Context, key K, loader LoaderFunc[K, V]) (V, error) {
	if v, ok := m.GetCloned(key); ok {
		return v, nil
	}

	hash, _ := m.hashAndShard(key)
	sfKey := strconv.FormatUint(hash, 16)

	res, err, _ := m.loaderGroup.g.Do(sfKey, func() (any, error) {
		// Re-check: another goroutine may have populated the key while we
		// were waiting to enter the singleflight call.
		if v, ok := m.GetCloned(key); ok {
			return v, nil
		}
		v, err := loader(ctx, key)
		if err != nil {
			return v, err
		}
		m.Insert(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
