package scancache

import (
	"slices"
	"sync"
	"testing"

	"github.com/garethgeorge/storagestats/internal/hashing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []Entry {
	return []Entry{
		{Path: "/r", ModTime: 10, IsDir: true, ChildCount: 2},
		{Path: "/r/a", Size: 100, ModTime: 1_000_000_001, Hash: []byte{1, 2, 3}},
		{Path: "/r/b", Size: 50, ModTime: -5},
	}
}

func TestCacheReuse(t *testing.T) {
	c := New(hashing.Blake3, sampleEntries()...)

	e, ok := c.Reuse("/r/a", 100, 1_000_000_001)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, e.Hash)

	// a one nanosecond difference is a mismatch
	_, ok = c.Reuse("/r/b", 50, -4)
	assert.False(t, ok)
	_, ok = c.Reuse("/r/new", 1, 1)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.Invalidated)
	assert.Equal(t, 3, stats.Prior)
}

func TestCacheStoreOrderAndInvalidate(t *testing.T) {
	c := New(hashing.XXHash)
	c.Store("/r/z", Entry{Size: 1})
	c.Store("/r/a", Entry{Size: 2})
	c.Store("/r/a", Entry{Size: 3})
	c.Store("/r/m", Entry{Size: 4})
	c.Invalidate("/r/m")

	var got []Entry
	for e := range c.Entries() {
		got = append(got, e)
	}
	assert.Equal(t, []Entry{{Path: "/r/a", Size: 3}, {Path: "/r/z", Size: 1}}, got)

	_, ok := c.Lookup("/r/a")
	assert.False(t, ok, "stores go to the next snapshot, not the prior one")
}

func TestCacheConcurrentUse(t *testing.T) {
	prior := sampleEntries()
	c := New(hashing.Blake3, prior...)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range prior {
				if got, ok := c.Reuse(e.Path, e.Size, e.ModTime); ok {
					c.Store(got.Path, got)
				}
			}
			c.Store("/r/extra", Entry{Size: int64(i)})
		}()
	}
	wg.Wait()

	var paths []string
	for e := range c.Entries() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/r", "/r/a", "/r/b", "/r/extra"}, paths)
	assert.True(t, slices.IsSorted(paths))
	assert.Equal(t, int64(24), c.Stats().Hits)
}
