package concache

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
}

func TestLruCache_EvictMany_ReturnsExactCount(t *testing.T) {
	// Insert keys 0 through 20 (21 keys) into an LruCache with default shard
	// count; then evict_many(10, rng) returns a list of length exactly 10;
	// post-size==11; each returned key fails subsequent get.
	c, err := NewDefaultLRU[int, int]()
	require.NoError(t, err)
	for i := 0; i < 21; i++ {
		c.Insert(i, i)
	}

	rng := newRNG(1)
	evicted := c.EvictMany(10, rng)

	assert.Len(t, evicted, 10)
	assert.Equal(t, 11, c.Size())

	for _, e := range evicted {
		h := c.Peek(e.Key)
		assert.False(t, h.Ok())
		h.Release()
	}
}

func TestLruCache_EvictMany_ClampsToSize(t *testing.T) {
	// evict_many(k, rng) returns a list of length
	// min(k, size_before); size_after == size_before - |returned|.
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		c.Insert(i, i)
	}

	rng := newRNG(2)
	evicted := c.EvictMany(100, rng)

	assert.Len(t, evicted, 5)
	assert.Equal(t, 0, c.Size())
}

func TestLruCache_EvictMany_Empty(t *testing.T) {
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)

	rng := newRNG(3)
	evicted := c.EvictMany(5, rng)
	assert.Empty(t, evicted)
}

func TestLruCache_EvictOne(t *testing.T) {
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		c.Insert(i, i)
	}

	rng := newRNG(4)
	e, ok := c.EvictOne(rng)
	require.True(t, ok)
	assert.Equal(t, 9, c.Size())

	h := c.Peek(e.Key)
	assert.False(t, h.Ok())
	h.Release()
}

func TestLruCache_EvictOne_Empty(t *testing.T) {
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)

	rng := newRNG(5)
	_, ok := c.EvictOne(rng)
	assert.False(t, ok)
}

func TestLruCache_Evict_PredicateNoneStopsWithoutEvicting(t *testing.T) {
	c, err := NewLRU[int, int](1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		c.Insert(i, i)
	}

	rng := newRNG(6)
	evicted := c.Evict(rng, func(int, *int) Evict { return EvictNone })

	assert.Empty(t, evicted)
	assert.Equal(t, 5, c.Size())
}

func TestLruCache_Evict_PredicateContinueDrainsAll(t *testing.T) {
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		c.Insert(i, i)
	}

	rng := newRNG(7)
	evicted := c.Evict(rng, func(int, *int) Evict { return EvictContinue })

	assert.Len(t, evicted, 30)
	assert.Equal(t, 0, c.Size())
}

func TestLruCache_EvictManyFast_DrainsFullShardAndClamps(t *testing.T) {
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		c.Insert(i, i)
	}

	rng := newRNG(8)
	evicted := c.EvictManyFast(100, rng)
	// Clamped to size_before.
	assert.LessOrEqual(t, len(evicted), 40)
	assert.Equal(t, 40-len(evicted), c.Size())

	for _, e := range evicted {
		h := c.Peek(e.Key)
		assert.False(t, h.Ok())
		h.Release()
	}
}

func TestLruCache_EvictManyFast_Empty(t *testing.T) {
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)

	rng := newRNG(9)
	evicted := c.EvictManyFast(10, rng)
	assert.Empty(t, evicted)
}

func TestLruCache_RecencyBiasesEvictionAwayFromFreshEntry(t *testing.T) {
	// Insert keys 0..100 into a 4-shard LruCache; immediately get(&0);
	// then evict_many(1). Over many trials with many RNG seeds, the
	// probability that key 0 is evicted is strictly below the uniform
	// baseline (it is the freshest).
	const trials = 400
	const population = 101
	uniformBaseline := 1.0 / population

	evictedCount := 0
	for trial := 0; trial < trials; trial++ {
		c, err := NewLRU[int, int](4)
		require.NoError(t, err)
		for i := 0; i < population; i++ {
			c.Insert(i, i)
		}

		h := c.Get(0)
		h.Release()

		rng := newRNG(uint64(trial) + 1000)
		evicted := c.EvictMany(1, rng)
		require.Len(t, evicted, 1)
		if evicted[0].Key == 0 {
			evictedCount++
		}
	}

	fraction := float64(evictedCount) / float64(trials)
	assert.Less(t, fraction, uniformBaseline,
		"key 0 was the freshest entry and should be evicted well below the uniform baseline")
}

func TestPickIndices(t *testing.T) {
	rng := newRNG(42)

	a, b := pickIndices(1, rng)
	assert.Equal(t, 0, a)
	assert.Equal(t, 0, b)

	a, b = pickIndices(2, rng)
	assert.ElementsMatch(t, []int{0, 1}, []int{a, b})

	for i := 0; i < 1000; i++ {
		a, b := pickIndices(10, rng)
		assert.NotEqual(t, a, b)
		assert.True(t, a >= 0 && a < 10)
		assert.True(t, b >= 0 && b < 10)
	}
}
