package concache

// lru.go implements LruCache: a ConcurrentMap variant whose values carry an
// atomically-updatable monotonic timestamp, read on every Get and consumed
// by the two-choice eviction engine in evict.go. Each shard is an
// internal/ishard.IndexedShard so the evictor can address a uniformly
// random resident slot in O(1) - something a plain Go map cannot do.
//
// © 2025 concache authors. MIT License.

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kvshard/concache/internal/ishard"
)

// stamp is a 64-bit monotonic reading, updatable in place with a single
// atomic store. Ties between two stamps are broken arbitrarily by the
// evictor. A reading is the nanoseconds elapsed since stampEpoch as measured
// by time.Since, which uses the monotonic clock reading carried by
// time.Now() and so is unaffected by wall-clock adjustments.
type stamp struct {
	ns atomic.Int64
}

// stampEpoch is the process-wide origin every stamp is measured from.
var stampEpoch = time.Now()

func newStamp() *stamp {
	s := &stamp{}
	s.ns.Store(int64(time.Since(stampEpoch)))
	return s
}

// update atomically refreshes the stamp to the current time. Legal to call
// under a shard read lock because it is a single atomic store.
func (s *stamp) update() { s.ns.Store(int64(time.Since(stampEpoch))) }

// isBefore reports whether s was stamped strictly earlier than other.
func (s *stamp) isBefore(other *stamp) bool { return s.ns.Load() < other.ns.Load() }

// timestampedValue is the value a LruCache shard actually stores: the
// caller's value plus the stamp used for two-choice victim selection.
type timestampedValue[V any] struct {
	value V
	stamp *stamp
}

type lruShard[K comparable, V any] struct {
	mu        sync.RWMutex
	data      *ishard.IndexedShard[K, timestampedValue[V]]
	cachedLen atomic.Int64
}

func newLruShard[K comparable, V any]() *lruShard[K, V] {
	return &lruShard[K, V]{data: ishard.New[K, timestampedValue[V]]()}
}

// LruCache is a sharded, concurrent key-value map with approximate-LRU
// eviction driven by a two-choice random-walk sampler (see evict.go). It
// does not enforce any size cap itself; callers drive eviction.
type LruCache[K comparable, V any] struct {
	shards   []*lruShard[K, V]
	hashFunc HashFunc[K]
	size     atomic.Int64
	metrics  metricsSink
	logger   *zap.Logger
}

// NewLRU constructs an LruCache with the given shard count.
func NewLRU[K comparable, V any](shards int, opts ...Option[K, V]) (*LruCache[K, V], error) {
	cfg := defaultConfig[K, V](shards)
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	c := &LruCache[K, V]{
		shards:   make([]*lruShard[K, V], cfg.shards),
		hashFunc: cfg.hashFunc,
		metrics:  newMetricsSink("concache_lru", cfg.registry),
		logger:   cfg.logger,
	}
	for i := range c.shards {
		c.shards[i] = newLruShard[K, V]()
	}
	return c, nil
}

// NewDefaultLRU constructs an LruCache sized to the logical CPU count.
func NewDefaultLRU[K comparable, V any](opts ...Option[K, V]) (*LruCache[K, V], error) {
	return NewLRU[K, V](defaultShardCount(), opts...)
}

// NumShards returns the number of shards the cache was constructed with.
func (c *LruCache[K, V]) NumShards() int { return len(c.shards) }

// Size returns the total number of resident entries.
func (c *LruCache[K, V]) Size() int { return int(c.size.Load()) }

func (c *LruCache[K, V]) hashAndShard(key K) (uint64, int) {
	h := c.hashFunc(key)
	return h, int(h % uint64(len(c.shards)))
}

// Peek returns a read handle to key's value without refreshing its
// recency stamp.
func (c *LruCache[K, V]) Peek(key K) ReadHandle[V] {
	hash, idx := c.hashAndShard(key)
	s := c.shards[idx]
	s.mu.RLock()
	tv := s.data.Get(hash, key)
	if tv == nil {
		s.mu.RUnlock()
		c.metrics.incMiss(idx)
		return ReadHandle[V]{}
	}
	c.metrics.incHit(idx)
	return newReadHandle(&s.mu, &tv.value)
}

// Get returns a read handle to key's value, refreshing its recency stamp in
// place under the shard's read lock (legal because the refresh is a single
// atomic store).
func (c *LruCache[K, V]) Get(key K) ReadHandle[V] {
	hash, idx := c.hashAndShard(key)
	s := c.shards[idx]
	s.mu.RLock()
	tv := s.data.Get(hash, key)
	if tv == nil {
		s.mu.RUnlock()
		c.metrics.incMiss(idx)
		return ReadHandle[V]{}
	}
	tv.stamp.update()
	c.metrics.incHit(idx)
	return newReadHandle(&s.mu, &tv.value)
}

// PeekMut is the mutable counterpart of Peek: no stamp refresh.
func (c *LruCache[K, V]) PeekMut(key K) WriteHandle[V] {
	hash, idx := c.hashAndShard(key)
	s := c.shards[idx]
	s.mu.Lock()
	tv := s.data.GetMut(hash, key)
	if tv == nil {
		s.mu.Unlock()
		c.metrics.incMiss(idx)
		return WriteHandle[V]{}
	}
	c.metrics.incHit(idx)
	return newWriteHandle(&s.mu, &tv.value)
}

// GetMut returns a write handle to key's value, refreshing its recency
// stamp under the shard's write lock. Since the caller holds exclusive
// access, the refresh is a plain assignment rather than an atomic op.
func (c *LruCache[K, V]) GetMut(key K) WriteHandle[V] {
	hash, idx := c.hashAndShard(key)
	s := c.shards[idx]
	s.mu.Lock()
	tv := s.data.GetMut(hash, key)
	if tv == nil {
		s.mu.Unlock()
		c.metrics.incMiss(idx)
		return WriteHandle[V]{}
	}
	tv.stamp = newStamp()
	c.metrics.incHit(idx)
	return newWriteHandle(&s.mu, &tv.value)
}

// Insert stores value under key with a fresh recency stamp, returning the
// previous value if any.
func (c *LruCache[K, V]) Insert(key K, value V) (V, bool) {
	hash, idx := c.hashAndShard(key)
	s := c.shards[idx]

	s.mu.Lock()
	defer s.mu.Unlock()

	tv := timestampedValue[V]{value: value, stamp: newStamp()}
	_, old := s.data.InsertFull(hash, key, tv, func() {
		c.size.Add(1)
		s.cachedLen.Add(1)
		c.metrics.incInsert(idx)
	})
	c.metrics.setSize(c.size.Load())
	if old == nil {
		var zero V
		return zero, false
	}
	return old.value, true
}

// Remove deletes key, returning its value if present.
func (c *LruCache[K, V]) Remove(key K) (V, bool) {
	hash, idx := c.hashAndShard(key)
	s := c.shards[idx]

	s.mu.Lock()
	defer s.mu.Unlock()

	_, tv, ok := s.data.SwapRemoveFull(hash, key)
	if !ok {
		var zero V
		return zero, false
	}
	c.size.Add(-1)
	s.cachedLen.Store(int64(s.data.Len()))
	c.metrics.incRemove(idx)
	c.metrics.setSize(c.size.Load())
	return tv.value, true
}

// Clear removes every entry from every shard.
func (c *LruCache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		n := s.data.Len()
		s.data.Clear()
		s.cachedLen.Store(0)
		s.mu.Unlock()
		c.size.Add(-int64(n))
	}
	c.metrics.setSize(c.size.Load())
}

// Retain keeps only entries for which keep returns true.
func (c *LruCache[K, V]) Retain(keep func(K, V) bool) {
	for _, s := range c.shards {
		s.mu.Lock()
		before := s.data.Len()
		s.data.Retain(func(k K, tv *timestampedValue[V]) bool {
			return keep(k, tv.value)
		})
		removed := before - s.data.Len()
		s.cachedLen.Store(int64(s.data.Len()))
		s.mu.Unlock()
		if removed > 0 {
			c.size.Add(-int64(removed))
		}
	}
	c.metrics.setSize(c.size.Load())
}

// Duplicate produces a deep, point-in-time copy, walking shards one at a
// time under read locks. It is not an atomic snapshot across shards.
func (c *LruCache[K, V]) Duplicate() *LruCache[K, V] {
	out := &LruCache[K, V]{
		shards:   make([]*lruShard[K, V], len(c.shards)),
		hashFunc: c.hashFunc,
		metrics:  noopMetrics{},
		logger:   c.logger,
	}

	var total int64
	for i, s := range c.shards {
		s.mu.RLock()
		clone := s.data.Clone()
		n := clone.Len()
		for j := 0; j < n; j++ {
			b := clone.At(j)
			st := &stamp{}
			st.ns.Store(b.Value.stamp.ns.Load())
			b.Value.stamp = st
		}
		s.mu.RUnlock()

		ns := &lruShard[K, V]{data: clone}
		ns.cachedLen.Store(int64(n))
		out.shards[i] = ns
		total += int64(n)
	}
	out.size.Store(total)

	c.logger.Debug("concache: duplicated lru cache", zap.Int("shards", len(c.shards)), zap.Int64("size", total))
	return out
}

// nonEmptyShards returns shards whose cached length is non-zero, so the
// evictor can skip locking empty shards entirely.
func (c *LruCache[K, V]) nonEmptyShards() []*lruShard[K, V] {
	out := make([]*lruShard[K, V], 0, len(c.shards))
	for _, s := range c.shards {
		if s.cachedLen.Load() != 0 {
			out = append(out, s)
		}
	}
	return out
}
