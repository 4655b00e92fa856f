// Package scancache remembers the size, modification time and hash of every
// path from the previous scan of a root so unchanged files are not re-read.
// The cache is an acceleration layer only: an entry is reused solely when it
// matches a fresh stat exactly.
package scancache

import (
	"iter"
	"sync"
	"sync/atomic"

	"github.com/garethgeorge/storagestats/internal/hashing"
	"github.com/google/btree"
)

const btreeDegree = 32

type Entry struct {
	Path       string
	Size       int64
	ModTime    int64 // unix nanoseconds
	Hash       []byte
	IsDir      bool
	ChildCount int
}

// Matches reports whether the entry still describes a path with the given
// fresh stat.
func (e Entry) Matches(size, modTime int64) bool {
	return e.Size == size && e.ModTime == modTime
}

type Stats struct {
	Prior       int
	Stored      int
	Hits        int64
	Misses      int64
	Invalidated int64
}

// Cache holds two snapshots: the prior one loaded from a persister, which is
// read-only and safe for concurrent lookups, and the next one being built by
// the current scan.
type Cache struct {
	algorithm hashing.Algorithm
	prior     map[string]Entry

	mu   sync.Mutex
	next *btree.BTreeG[Entry]

	hits        atomic.Int64
	misses      atomic.Int64
	invalidated atomic.Int64
}

func lessEntry(a, b Entry) bool {
	return a.Path < b.Path
}

// New returns a cache whose prior snapshot holds entries.
func New(algorithm hashing.Algorithm, entries ...Entry) *Cache {
	c := &Cache{
		algorithm: algorithm,
		prior:     make(map[string]Entry, len(entries)),
		next:      btree.NewG(btreeDegree, lessEntry),
	}
	for _, e := range entries {
		c.prior[e.Path] = e
	}
	return c
}

func (c *Cache) Algorithm() hashing.Algorithm {
	return c.algorithm
}

// Lookup returns the prior entry for path.
func (c *Cache) Lookup(path string) (Entry, bool) {
	e, ok := c.prior[path]
	return e, ok
}

// Reuse returns the prior entry for path when it matches the fresh size and
// modification time. A stale entry is invalidated.
func (c *Cache) Reuse(path string, size, modTime int64) (Entry, bool) {
	e, ok := c.prior[path]
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	if !e.Matches(size, modTime) {
		c.misses.Add(1)
		c.Invalidate(path)
		return Entry{}, false
	}
	c.hits.Add(1)
	return e, true
}

// Store records path in the next snapshot, replacing any earlier entry.
func (c *Cache) Store(path string, e Entry) {
	e.Path = path
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next.ReplaceOrInsert(e)
}

// Invalidate drops path from the next snapshot.
func (c *Cache) Invalidate(path string) {
	c.invalidated.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next.Delete(Entry{Path: path})
}

// Entries yields the next snapshot in ascending path order. Paths that were
// never stored (vanished, or not reached by a cancelled scan) are absent.
func (c *Cache) Entries() iter.Seq[Entry] {
	c.mu.Lock()
	snapshot := c.next.Clone()
	c.mu.Unlock()
	return func(yield func(Entry) bool) {
		snapshot.Ascend(func(e Entry) bool {
			return yield(e)
		})
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next.Len()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Prior:       len(c.prior),
		Stored:      c.Len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Invalidated: c.invalidated.Load(),
	}
}
