package concache

// cache.go implements ConcurrentMap: a sharded associative map partitioning
// keys across independently lockable shards, each protected by a
// sync.RWMutex, with contention scaling with the number of hot keys rather
// than the global operation rate.
//
// © 2025 concache authors. MIT License.

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// entry is the metadata kept for every resident item in a ConcurrentMap
// shard. The hash is cached so Contains/Remove never need to re-hash.
type entry[K comparable, V any] struct {
	hash  uint64
	key   K
	value V
}

type mapShard[K comparable, V any] struct {
	mu    sync.RWMutex
	index map[uint64]*entry[K, V]
}

func newMapShard[K comparable, V any]() *mapShard[K, V] {
	return &mapShard[K, V]{index: make(map[uint64]*entry[K, V])}
}

func (s *mapShard[K, V]) len() int {
	s.mu.RLock()
	n := len(s.index)
	s.mu.RUnlock()
	return n
}

// lookup finds the entry matching (hash, key), resolving collisions by
// comparing keys. Caller must hold at least a read lock.
func (s *mapShard[K, V]) lookup(hash uint64, key K) *entry[K, V] {
	e, ok := s.index[hash]
	if !ok || e.key != key {
		return nil
	}
	return e
}

// ConcurrentMap is a sharded, concurrent key-value map. Contention scales
// with the number of independently-hot shards rather than with the global
// operation rate, since only one shard is ever locked per single-key
// operation (and batch operations lock at most one shard at a time).
//
// Adapted from a sharded cache's locking discipline, generalized from a
// byte-budget, CLOCK-Pro-evicted store to a plain sharded map.
type ConcurrentMap[K comparable, V any] struct {
	shards      []*mapShard[K, V]
	hashFunc    HashFunc[K]
	size        atomic.Int64
	metrics     metricsSink
	logger      *zap.Logger
	loaderGroup *loaderGroup
}

// New constructs a ConcurrentMap with the given shard count.
func New[K comparable, V any](shards int, opts ...Option[K, V]) (*ConcurrentMap[K, V], error) {
	cfg := defaultConfig[K, V](shards)
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	m := &ConcurrentMap[K, V]{
		shards:      make([]*mapShard[K, V], cfg.shards),
		hashFunc:    cfg.hashFunc,
		metrics:     newMetricsSink("concache_map", cfg.registry),
		logger:      cfg.logger,
		loaderGroup: &loaderGroup{},
	}
	for i := range m.shards {
		m.shards[i] = newMapShard[K, V]()
	}
	return m, nil
}

// NewDefault constructs a ConcurrentMap sized to the logical CPU count.
func NewDefault[K comparable, V any](opts ...Option[K, V]) (*ConcurrentMap[K, V], error) {
	return New[K, V](defaultShardCount(), opts...)
}

// NumShards returns the number of shards the map was constructed with.
func (m *ConcurrentMap[K, V]) NumShards() int { return len(m.shards) }

// Size returns the total number of resident entries, sequentially
// consistent against all Insert/Remove calls that have returned.
func (m *ConcurrentMap[K, V]) Size() int { return int(m.size.Load()) }

// hashAndShard computes the key's fingerprint and the shard it maps to. The
// hash is computed once and reused for both shard selection and intra-shard
// lookup.
func (m *ConcurrentMap[K, V]) hashAndShard(key K) (uint64, int) {
	h := m.hashFunc(key)
	return h, int(h % uint64(len(m.shards)))
}

func (m *ConcurrentMap[K, V]) shardFor(hash uint64) *mapShard[K, V] {
	return m.shards[int(hash%uint64(len(m.shards)))]
}

// ContainsHash reports whether any resident entry has the given hash,
// without a key-equality check. It admits a false positive on hash
// collisions; callers needing exact containment must use Contains.
func (m *ConcurrentMap[K, V]) ContainsHash(hash uint64) bool {
	s := m.shardFor(hash)
	s.mu.RLock()
	_, ok := s.index[hash]
	s.mu.RUnlock()
	return ok
}

// Contains reports whether key is resident, resolving hash collisions by
// key equality.
func (m *ConcurrentMap[K, V]) Contains(key K) bool {
	hash, idx := m.hashAndShard(key)
	s := m.shards[idx]
	s.mu.RLock()
	found := s.lookup(hash, key) != nil
	s.mu.RUnlock()
	return found
}

// Get returns a read handle projecting to key's value, pinning the shard's
// read lock until the handle is released. The handle's Ok() is false on a
// miss and Release is then a no-op.
func (m *ConcurrentMap[K, V]) Get(key K) ReadHandle[V] {
	hash, idx := m.hashAndShard(key)
	s := m.shards[idx]
	s.mu.RLock()
	e := s.lookup(hash, key)
	if e == nil {
		s.mu.RUnlock()
		m.metrics.incMiss(idx)
		return ReadHandle[V]{}
	}
	m.metrics.incHit(idx)
	return newReadHandle(&s.mu, &e.value)
}

// GetCloned returns a copy of key's value with the shard lock released
// before return.
func (m *ConcurrentMap[K, V]) GetCloned(key K) (V, bool) {
	h := m.Get(key)
	defer h.Release()
	if !h.Ok() {
		var zero V
		return zero, false
	}
	return h.Value(), true
}

// GetMut returns a write handle projecting to key's value, pinning the
// shard's write lock until the handle is released.
func (m *ConcurrentMap[K, V]) GetMut(key K) WriteHandle[V] {
	hash, idx := m.hashAndShard(key)
	s := m.shards[idx]
	s.mu.Lock()
	e := s.lookup(hash, key)
	if e == nil {
		s.mu.Unlock()
		m.metrics.incMiss(idx)
		return WriteHandle[V]{}
	}
	m.metrics.incHit(idx)
	return newWriteHandle(&s.mu, &e.value)
}

// Insert stores value under key, returning the previous value if any. Size
// is incremented only on a vacant insert.
func (m *ConcurrentMap[K, V]) Insert(key K, value V) (V, bool) {
	hash, idx := m.hashAndShard(key)
	s := m.shards[idx]

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.lookup(hash, key); e != nil {
		old := e.value
		e.value = value
		return old, true
	}

	s.index[hash] = &entry[K, V]{hash: hash, key: key, value: value}
	m.size.Add(1)
	m.metrics.incInsert(idx)
	m.metrics.setSize(m.size.Load())

	var zero V
	return zero, false
}

// Remove deletes key, returning its value if present.
func (m *ConcurrentMap[K, V]) Remove(key K) (V, bool) {
	hash, idx := m.hashAndShard(key)
	s := m.shards[idx]

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(hash, key)
	if e == nil {
		var zero V
		return zero, false
	}
	delete(s.index, hash)
	m.size.Add(-1)
	m.metrics.incRemove(idx)
	m.metrics.setSize(m.size.Load())
	return e.value, true
}

// GetOrInsert returns a read handle to key's value, inserting
// factory()'s result first if key is absent. factory runs at most once,
// under the shard's write lock.
//
// Go's sync.RWMutex exposes no atomic write-to-read downgrade, so this
// briefly releases the write lock and re-acquires a read lock before
// re-resolving the key. Another goroutine may replace or remove the key in
// that window: the handle then points at whatever value is resident, or is
// !Ok() if the key was removed.
func (m *ConcurrentMap[K, V]) GetOrInsert(key K, factory func() V) ReadHandle[V] {
	hash, idx := m.hashAndShard(key)
	s := m.shards[idx]

	s.mu.Lock()
	if s.lookup(hash, key) == nil {
		s.index[hash] = &entry[K, V]{hash: hash, key: key, value: factory()}
		m.size.Add(1)
		m.metrics.incInsert(idx)
		m.metrics.setSize(m.size.Load())
	}
	s.mu.Unlock()

	s.mu.RLock()
	e := s.lookup(hash, key)
	if e == nil {
		// Only reachable if another goroutine removed the key we just
		// installed between the unlock and the re-lock above.
		s.mu.RUnlock()
		return ReadHandle[V]{}
	}
	return newReadHandle(&s.mu, &e.value)
}

// GetMutOrInsert is the write-handle counterpart of GetOrInsert, without a
// downgrade step: the write lock is held throughout.
func (m *ConcurrentMap[K, V]) GetMutOrInsert(key K, factory func() V) WriteHandle[V] {
	hash, idx := m.hashAndShard(key)
	s := m.shards[idx]

	s.mu.Lock()
	e := s.lookup(hash, key)
	if e == nil {
		e = &entry[K, V]{hash: hash, key: key, value: factory()}
		s.index[hash] = e
		m.size.Add(1)
		m.metrics.incInsert(idx)
		m.metrics.setSize(m.size.Load())
	}
	return newWriteHandle(&s.mu, &e.value)
}

// Clear removes every entry from every shard.
func (m *ConcurrentMap[K, V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		n := len(s.index)
		s.index = make(map[uint64]*entry[K, V])
		s.mu.Unlock()
		m.size.Add(-int64(n))
	}
	m.metrics.setSize(m.size.Load())
}

// Retain keeps only entries for which keep returns true, visiting every
// currently-resident entry exactly once.
func (m *ConcurrentMap[K, V]) Retain(keep func(K, V) bool) {
	for _, s := range m.shards {
		s.mu.Lock()
		before := len(s.index)
		for hash, e := range s.index {
			if !keep(e.key, e.value) {
				delete(s.index, hash)
			}
		}
		removed := before - len(s.index)
		s.mu.Unlock()
		if removed > 0 {
			m.size.Add(-int64(removed))
		}
	}
	m.metrics.setSize(m.size.Load())
}

// Duplicate produces a deep, point-in-time copy: it walks shards one at a
// time under read locks, cloning each into a fresh shard, and returns a new
// container carrying the accumulated size. It is not an atomic snapshot
// across shards.
func (m *ConcurrentMap[K, V]) Duplicate() *ConcurrentMap[K, V] {
	out := &ConcurrentMap[K, V]{
		shards:      make([]*mapShard[K, V], len(m.shards)),
		hashFunc:    m.hashFunc,
		metrics:     noopMetrics{},
		logger:      m.logger,
		loaderGroup: &loaderGroup{},
	}

	var total int64
	for i, s := range m.shards {
		s.mu.RLock()
		clone := make(map[uint64]*entry[K, V], len(s.index))
		for hash, e := range s.index {
			clone[hash] = &entry[K, V]{hash: e.hash, key: e.key, value: e.value}
		}
		n := len(s.index)
		s.mu.RUnlock()

		out.shards[i] = &mapShard[K, V]{index: clone}
		total += int64(n)
	}
	out.size.Store(total)

	m.logger.Debug("concache: duplicated map", zap.Int("shards", len(m.shards)), zap.Int64("size", total))
	return out
}
