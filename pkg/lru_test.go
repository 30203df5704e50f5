package concache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLruCache_InsertGetRemove(t *testing.T) {
	c, err := NewLRU[int, string](4)
	require.NoError(t, err)

	_, existed := c.Insert(1, "a")
	assert.False(t, existed)
	_, existed = c.Insert(2, "b")
	assert.False(t, existed)
	assert.Equal(t, 2, c.Size())

	h := c.Get(1)
	require.True(t, h.Ok())
	assert.Equal(t, "a", h.Value())
	h.Release()

	v, ok := c.Remove(2)
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, 1, c.Size())
}

func TestLruCache_InsertIdempotentInShape(t *testing.T) {
	c, err := NewLRU[string, int](4)
	require.NoError(t, err)

	_, existed := c.Insert("k", 1)
	assert.False(t, existed)
	old, existed := c.Insert("k", 2)
	assert.True(t, existed)
	assert.Equal(t, 1, old)
	assert.Equal(t, 1, c.Size())
}

func TestLruCache_GetRefreshesStampButPeekDoesNot(t *testing.T) {
	// For every LRU get, the touched entry's stamp is >= the
	// stamps of every entry not touched since.
	c, err := NewLRU[int, string](1)
	require.NoError(t, err)

	c.Insert(1, "a")
	c.Insert(2, "b")

	_, idx1 := c.hashAndShard(1)
	_, idx2 := c.hashAndShard(2)
	s1 := c.shards[idx1]
	s2 := c.shards[idx2]

	stampOf := func(s *lruShard[int, string], key int) *stamp {
		hash, _ := c.hashAndShard(key)
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.data.Get(hash, key).stamp
	}

	// Stamps are refreshed in place, so compare loaded readings rather than
	// the stamp pointers themselves.
	before2 := stampOf(s2, 2).ns.Load()

	h := c.Get(1)
	h.Release()

	after1 := stampOf(s1, 1).ns.Load()
	after2 := stampOf(s2, 2).ns.Load()

	assert.GreaterOrEqual(t, after1, after2)
	assert.Equal(t, before2, after2)

	peek := c.Peek(2)
	peek.Release()
	stillBefore2 := stampOf(s2, 2)
	assert.Equal(t, before2, stillBefore2.ns.Load())
}

func TestLruCache_Clear(t *testing.T) {
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		c.Insert(i, i)
	}
	c.Clear()
	assert.Equal(t, 0, c.Size())
	h := c.Get(0)
	assert.False(t, h.Ok())
}

func TestLruCache_Retain(t *testing.T) {
	// Populate with keys 0..100; retain(k%2==0); size==50
	// and every surviving key is even.
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		c.Insert(i, i)
	}

	c.Retain(func(k int, _ int) bool { return k%2 == 0 })

	assert.Equal(t, 50, c.Size())
	for i := 0; i < 100; i++ {
		h := c.Peek(i)
		assert.Equal(t, i%2 == 0, h.Ok())
		h.Release()
	}
}

func TestLruCache_DuplicateIndependence(t *testing.T) {
	// Duplicate then clear the original; the duplicate
	// keeps every original entry.
	c, err := NewLRU[int, int](4)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		c.Insert(i, i*i)
	}

	dup := c.Duplicate()
	c.Clear()

	assert.Equal(t, 0, c.Size())
	assert.Equal(t, 50, dup.Size())
	for i := 0; i < 50; i++ {
		h := dup.Peek(i)
		require.True(t, h.Ok())
		assert.Equal(t, i*i, h.Value())
		h.Release()
	}
}

func TestLruCache_GetMutRefreshesStamp(t *testing.T) {
	c, err := NewLRU[int, int](1)
	require.NoError(t, err)
	c.Insert(1, 10)

	hash, idx := c.hashAndShard(1)
	s := c.shards[idx]
	s.mu.RLock()
	before := s.data.Get(hash, 1).stamp
	s.mu.RUnlock()

	h := c.GetMut(1)
	require.True(t, h.Ok())
	*h.Value() = 20
	h.Release()

	s.mu.RLock()
	after := s.data.Get(hash, 1).stamp
	s.mu.RUnlock()
	assert.False(t, after.isBefore(before))

	peek := c.Peek(1)
	assert.Equal(t, 20, peek.Value())
	peek.Release()
}
