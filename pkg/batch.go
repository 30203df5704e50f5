package concache

// batch.go implements batched multi-key access: materialise (key, hash,
// shard) for every input key, sort by shard, then walk the sorted sequence
// acquiring each shard's lock exactly once. This amortises lock-acquisition
// cost across many keys and guarantees at most one shard is held at any
// moment during a batch, so batch operations are lock-order-free.
//
// © 2025 concache authors. MIT License.

import "sort"

// batchKey is one scratch entry: the original key, its fingerprint, and the
// shard it maps to.
type batchKey[K comparable] struct {
	key   K
	hash  uint64
	shard int
}

// BatchScratch is caller-owned scratch storage for batch operations, reused
// across calls to avoid repeated allocation.
type BatchScratch[K comparable] struct {
	entries []batchKey[K]
}

func (s *BatchScratch[K]) reset() { s.entries = s.entries[:0] }

// BatchRead looks up every key in keys, acquiring each shard's read lock at
// most once across the whole batch. fn is invoked once per key with its
// value and whether it was found.
func (m *ConcurrentMap[K, V]) BatchRead(keys []K, scratch *BatchScratch[K], fn func(key K, value V, ok bool)) {
	if scratch == nil {
		scratch = &BatchScratch[K]{}
	}
	scratch.reset()
	for _, k := range keys {
		hash, shard := m.hashAndShard(k)
		scratch.entries = append(scratch.entries, batchKey[K]{key: k, hash: hash, shard: shard})
	}
	if len(scratch.entries) == 0 {
		return
	}

	sort.Slice(scratch.entries, func(i, j int) bool {
		return scratch.entries[i].shard < scratch.entries[j].shard
	})

	i := 0
	for i < len(scratch.entries) {
		current := scratch.entries[i].shard
		s := m.shards[current]

		s.mu.RLock()
		for i < len(scratch.entries) && scratch.entries[i].shard == current {
			be := scratch.entries[i]
			e := s.lookup(be.hash, be.key)
			if e != nil {
				fn(be.key, e.value, true)
			} else {
				var zero V
				fn(be.key, zero, false)
			}
			i++
		}
		s.mu.RUnlock()
	}

	scratch.reset()
}

// BatchWrite is the mutable counterpart of BatchRead: fn receives a pointer
// to the shard-local value (nil on a miss) and may mutate it in place while
// the shard's write lock is held.
func (m *ConcurrentMap[K, V]) BatchWrite(keys []K, scratch *BatchScratch[K], fn func(key K, value *V)) {
	if scratch == nil {
		scratch = &BatchScratch[K]{}
	}
	scratch.reset()
	for _, k := range keys {
		hash, shard := m.hashAndShard(k)
		scratch.entries = append(scratch.entries, batchKey[K]{key: k, hash: hash, shard: shard})
	}
	if len(scratch.entries) == 0 {
		return
	}

	sort.Slice(scratch.entries, func(i, j int) bool {
		return scratch.entries[i].shard < scratch.entries[j].shard
	})

	i := 0
	for i < len(scratch.entries) {
		current := scratch.entries[i].shard
		s := m.shards[current]

		s.mu.Lock()
		for i < len(scratch.entries) && scratch.entries[i].shard == current {
			be := scratch.entries[i]
			e := s.lookup(be.hash, be.key)
			if e != nil {
				fn(be.key, &e.value)
			} else {
				fn(be.key, nil)
			}
			i++
		}
		s.mu.Unlock()
	}

	scratch.reset()
}
