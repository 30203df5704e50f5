package concache

// hash.go provides the default key fingerprinting used by both
// ConcurrentMap and LruCache. The hash function is an external collaborator
// per the design: any stable 64-bit hasher suffices, and callers may plug
// in their own via WithHasher. We default to xxhash, which is already part
// of this repository's dependency graph and widely used for exactly this
// purpose across the Go caching ecosystem.
//
// © 2025 concache authors. MIT License.

import (
	"github.com/cespare/xxhash/v2"

	"github.com/kvshard/concache/internal/keybytes"
)

// HashFunc fingerprints a key to a 64-bit value. It is called once per
// operation; the result is reused for both shard selection and intra-shard
// lookup. Implementations must be pure and must agree with K's equality:
// equal keys must hash equally.
type HashFunc[K comparable] func(K) uint64

// defaultHashFunc builds the zero-configuration hasher for key type K. It
// special-cases string and []byte (the overwhelmingly common key types) and
// falls back to hashing the key's raw in-memory representation for scalar
// and small-struct keys.
func defaultHashFunc[K comparable]() HashFunc[K] {
	return func(key K) uint64 {
		switch k := any(key).(type) {
		case string:
			return xxhash.Sum64String(k)
		case []byte:
			return xxhash.Sum64(k)
		default:
			return xxhash.Sum64(keybytes.OfScalar(&key))
		}
	}
}
