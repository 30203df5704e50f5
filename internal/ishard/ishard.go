// Package ishard implements the hash-indexed vector shard used by the LRU
// cache's eviction engine. A plain Go map gives O(1) lookup but no way to draw
// a uniformly random resident entry in O(1) - the eviction engine needs
// exactly that. IndexedShard keeps entries in a dense slice and a separate
// hash -> slot index so random slots can be addressed directly, while lookup
// by key still goes through the index map with an equality check to resolve
// hash collisions.
//
// Every exported method assumes the caller already holds the owning shard's
// lock; IndexedShard itself does no locking.
//
// © 2025 concache authors. MIT License.
package ishard

// Bucket is one resident entry. hash is cached so swap-remove never has to
// re-hash the key to repair the index.
type Bucket[K comparable, V any] struct {
	Hash  uint64
	Key   K
	Value V
}

// IndexedShard is a dense entries vector plus a hash -> slot map.
//
// Invariants (hold whenever the owning lock is not held mid-mutation):
//   - len(indices) == len(entries)
//   - for every slot i, indices[entries[i].Hash] == i
//   - keys are unique by (hash, equality)
type IndexedShard[K comparable, V any] struct {
	indices map[uint64]int
	entries []Bucket[K, V]
}

// New returns an empty shard.
func New[K comparable, V any]() *IndexedShard[K, V] {
	return &IndexedShard[K, V]{indices: make(map[uint64]int)}
}

// Len returns the number of resident entries.
func (s *IndexedShard[K, V]) Len() int { return len(s.entries) }

// Clear drops all entries; capacity is retained.
func (s *IndexedShard[K, V]) Clear() {
	s.entries = s.entries[:0]
	clear(s.indices)
}

// Clone copies the entries slice and the index map into a new, independent
// shard. Values are copied by assignment, so pointers inside V are shared
// with the original.
func (s *IndexedShard[K, V]) Clone() *IndexedShard[K, V] {
	out := &IndexedShard[K, V]{
		indices: make(map[uint64]int, len(s.indices)),
		entries: make([]Bucket[K, V], len(s.entries)),
	}
	copy(out.entries, s.entries)
	for h, i := range s.indices {
		out.indices[h] = i
	}
	return out
}

// reserveEntries matches the entries slice's spare capacity to the indices
// map's size, rather than letting append() double it independently. This
// keeps the two structures' footprints aligned.
func (s *IndexedShard[K, V]) reserveEntries() {
	additional := len(s.indices) - len(s.entries)
	if additional <= 0 {
		return
	}
	grown := make([]Bucket[K, V], len(s.entries), len(s.entries)+additional)
	copy(grown, s.entries)
	s.entries = grown
}

// push appends a bucket without checking for an existing key and returns its
// new slot.
func (s *IndexedShard[K, V]) push(hash uint64, key K, value V) int {
	index := len(s.entries)
	s.indices[hash] = index

	if index == cap(s.entries) {
		s.reserveEntries()
	}
	s.entries = append(s.entries, Bucket[K, V]{Hash: hash, Key: key, Value: value})
	return index
}

// GetIndexOf returns the slot holding key, resolving hash collisions by
// comparing keys at the candidate slot.
func (s *IndexedShard[K, V]) GetIndexOf(hash uint64, key K) (int, bool) {
	idx, ok := s.indices[hash]
	if !ok {
		return 0, false
	}
	if s.entries[idx].Key != key {
		return 0, false
	}
	return idx, true
}

// Get returns a pointer to the value stored under key, or nil if absent.
// The pointer is valid only until the next mutating call on this shard.
func (s *IndexedShard[K, V]) Get(hash uint64, key K) *V {
	idx, ok := s.GetIndexOf(hash, key)
	if !ok {
		return nil
	}
	return &s.entries[idx].Value
}

// GetMut is the mutable counterpart of Get.
func (s *IndexedShard[K, V]) GetMut(hash uint64, key K) *V {
	return s.Get(hash, key)
}

// At returns a pointer to the bucket at slot idx. idx must be < Len(); the
// caller (the evictor) derives it from a uniform draw over [0, Len()).
func (s *IndexedShard[K, V]) At(idx int) *Bucket[K, V] {
	return &s.entries[idx]
}

// InsertFull replaces the value in place if key is present (returning the
// old value), or appends a fresh bucket after invoking onVacantInsert (used
// by the owner to bump size counters). Returns the bucket's slot and the
// displaced value, if any.
func (s *IndexedShard[K, V]) InsertFull(hash uint64, key K, value V, onVacantInsert func()) (int, *V) {
	if idx, ok := s.GetIndexOf(hash, key); ok {
		old := s.entries[idx].Value
		s.entries[idx].Value = value
		return idx, &old
	}
	onVacantInsert()
	return s.push(hash, key, value), nil
}

// swapRemoveFinish removes the bucket at index via swap-remove (copying the
// last entry into the vacated slot) and repairs the index entry for the
// bucket that moved.
func (s *IndexedShard[K, V]) swapRemoveFinish(index int) Bucket[K, V] {
	last := len(s.entries) - 1
	removed := s.entries[index]

	s.entries[index] = s.entries[last]
	s.entries = s.entries[:last]

	if index != last {
		moved := s.entries[index]
		s.indices[moved.Hash] = index
	}
	return removed
}

// SwapRemoveFull locates key, erases its index entry, then swap-removes its
// slot. Reports ok=false if key is absent.
func (s *IndexedShard[K, V]) SwapRemoveFull(hash uint64, key K) (K, V, bool) {
	idx, ok := s.GetIndexOf(hash, key)
	if !ok {
		var zk K
		var zv V
		return zk, zv, false
	}
	delete(s.indices, hash)
	removed := s.swapRemoveFinish(idx)
	return removed.Key, removed.Value, true
}

// SwapRemoveIndexRaw removes the bucket at a slot already known to the
// caller (the evictor, which samples slots directly). idx must be < Len().
func (s *IndexedShard[K, V]) SwapRemoveIndexRaw(idx int) (K, V) {
	hash := s.entries[idx].Hash
	delete(s.indices, hash)
	removed := s.swapRemoveFinish(idx)
	return removed.Key, removed.Value
}

// Retain keeps only entries for which keep returns true. It is called
// exactly once per currently-resident entry.
func (s *IndexedShard[K, V]) Retain(keep func(K, *V) bool) {
	i := 0
	for i < len(s.entries) {
		b := &s.entries[i]
		if keep(b.Key, &b.Value) {
			i++
		} else {
			delete(s.indices, b.Hash)
			s.swapRemoveFinish(i)
			// do not advance: the slot now holds what used to be the tail
		}
	}
}

// Drain removes and returns every resident entry, leaving the shard empty.
func (s *IndexedShard[K, V]) Drain() []Bucket[K, V] {
	out := s.entries
	s.entries = nil
	clear(s.indices)
	return out
}
