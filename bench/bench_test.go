// Package bench provides reproducible micro-benchmarks for concache.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a *single* key/value shape so results are
// comparable across versions:
//   • Key   – uint64  (cheap hashing, fits in register)
//   • Value – 64-byte struct (large enough to matter, small enough for cache)
//
// We measure:
//   1. Insert        – write-only workload
//   2. Get           – read-only workload (after warm-up)
//   3. GetParallel   – highly concurrent reads (b.RunParallel)
//   4. GetOrLoad     – 90% hits, 10% misses with loader cost
//   5. EvictMany     – bulk eviction via the two-choice random walk
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live alongside the package under test; this file is
// *only* for performance.
//
// © 2025 concache authors. MIT License.
package bench

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"testing"

	concache "github.com/kvshard/concache/pkg"
)

type value64 struct {
	_ [64]byte
}

const (
	shards = 16
	keys   = 1 << 20 // 1M keys for dataset
)

func newTestMap() *concache.ConcurrentMap[uint64, value64] {
	c, err := concache.New[uint64, value64](shards)
	if err != nil {
		panic(err)
	}
	return c
}

func newTestLRU() *concache.LruCache[uint64, value64] {
	c, err := concache.NewLRU[uint64, value64](shards)
	if err != nil {
		panic(err)
	}
	return c
}

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() []uint64 {
	rng := rand.New(rand.NewPCG(42, 42))
	arr := make([]uint64, keys)
	for i := range arr {
		arr[i] = rng.Uint64()
	}
	return arr
}()

func BenchmarkInsert(b *testing.B) {
	c := newTestMap()
	val := value64{}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := ds[i&(keys-1)]
		c.Insert(key, val)
	}
}

func BenchmarkGet(b *testing.B) {
	c := newTestMap()
	val := value64{}
	for _, k := range ds {
		c.Insert(k, val)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		h := c.Get(k)
		h.Release()
	}
}

func BenchmarkGetParallel(b *testing.B) {
	c := newTestMap()
	val := value64{}
	for _, k := range ds {
		c.Insert(k, val)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewPCG(uint64(rand.Int64()), 1))
		idx := rng.IntN(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			h := c.Get(ds[idx])
			h.Release()
		}
	})
}

func BenchmarkGetOrLoad(b *testing.B) {
	c := newTestMap()
	val := value64{}
	// Preload 90% of keys to simulate mixed hit/miss.
	for i, k := range ds {
		if i%10 != 0 {
			c.Insert(k, val)
		}
	}
	var loaderCnt atomic.Uint64
	loader := func(ctx context.Context, key uint64) (value64, error) {
		loaderCnt.Add(1)
		return val, nil
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		_, _ = c.GetOrLoad(context.Background(), k, loader)
	}
	b.ReportMetric(float64(loaderCnt.Load())/float64(b.N)*100, "miss-%")
}

func BenchmarkEvictMany(b *testing.B) {
	val := value64{}
	rng := rand.New(rand.NewPCG(7, 7))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		c := newTestLRU()
		for _, k := range ds[:keys/8] {
			c.Insert(k, val)
		}
		b.StartTimer()
		c.EvictMany(keys/16, rng)
	}
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
}
