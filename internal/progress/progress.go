package progress

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Reporter receives progress from the worker pool. Calls arrive from many
// workers at once.
type Reporter interface {
	// DirStarted and DirListed bracket the listing of one directory.
	DirStarted(path string)
	DirListed(path string)
	// DirFinished is called once the directory and its subtree are sized.
	DirFinished(path string)
	FileScanned(path string, size int64)
	CacheResult(hit bool)
	Hashed(path string, bytes int64)
	Cycle(path string)
	Error(err error)
}

type NoopReporter struct{}

var _ Reporter = NoopReporter{}

func (NoopReporter) DirStarted(path string)              {}
func (NoopReporter) DirListed(path string)               {}
func (NoopReporter) DirFinished(path string)             {}
func (NoopReporter) FileScanned(path string, size int64) {}
func (NoopReporter) CacheResult(hit bool)                {}
func (NoopReporter) Hashed(path string, bytes int64)     {}
func (NoopReporter) Cycle(path string)                   {}
func (NoopReporter) Error(err error)                     {}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Files       int64    `json:"files"`
	Dirs        int64    `json:"dirs"`
	Bytes       int64    `json:"bytes"`
	Errors      int64    `json:"errors"`
	Cycles      int64    `json:"cycles"`
	CacheHits   int64    `json:"cache_hits"`
	CacheMisses int64    `json:"cache_misses"`
	HashedFiles int64    `json:"hashed_files"`
	HashedBytes int64    `json:"hashed_bytes"`
	Current     []string `json:"current,omitempty"`
}

// Counters is a Reporter that accumulates totals and remembers which
// directories are being listed right now.
type Counters struct {
	files       atomic.Int64
	dirs        atomic.Int64
	bytes       atomic.Int64
	errors      atomic.Int64
	cycles      atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	hashedFiles atomic.Int64
	hashedBytes atomic.Int64

	mu      sync.Mutex
	current map[string]struct{}
}

var _ Reporter = (*Counters)(nil)

func NewCounters() *Counters {
	return &Counters{current: make(map[string]struct{})}
}

func (c *Counters) DirStarted(path string) {
	c.mu.Lock()
	c.current[path] = struct{}{}
	c.mu.Unlock()
}

func (c *Counters) DirListed(path string) {
	c.mu.Lock()
	delete(c.current, path)
	c.mu.Unlock()
}

func (c *Counters) DirFinished(path string) {
	c.dirs.Add(1)
}

func (c *Counters) FileScanned(path string, size int64) {
	c.files.Add(1)
	c.bytes.Add(size)
}

func (c *Counters) CacheResult(hit bool) {
	if hit {
		c.cacheHits.Add(1)
	} else {
		c.cacheMisses.Add(1)
	}
}

func (c *Counters) Hashed(path string, bytes int64) {
	c.hashedFiles.Add(1)
	c.hashedBytes.Add(bytes)
}

func (c *Counters) Cycle(path string) {
	c.cycles.Add(1)
}

func (c *Counters) Error(err error) {
	c.errors.Add(1)
}

// Snapshot returns the current totals. Current is sorted and holds at most
// maxCurrent paths.
func (c *Counters) Snapshot(maxCurrent int) Snapshot {
	s := Snapshot{
		Files:       c.files.Load(),
		Dirs:        c.dirs.Load(),
		Bytes:       c.bytes.Load(),
		Errors:      c.errors.Load(),
		Cycles:      c.cycles.Load(),
		CacheHits:   c.cacheHits.Load(),
		CacheMisses: c.cacheMisses.Load(),
		HashedFiles: c.hashedFiles.Load(),
		HashedBytes: c.hashedBytes.Load(),
	}
	c.mu.Lock()
	for p := range c.current {
		s.Current = append(s.Current, p)
	}
	c.mu.Unlock()
	slices.Sort(s.Current)
	if len(s.Current) > maxCurrent {
		s.Current = s.Current[:maxCurrent]
	}
	return s
}

// multiReporter fans calls out to several reporters.
type multiReporter []Reporter

// Multi combines reporters into one.
func Multi(reporters ...Reporter) Reporter {
	return multiReporter(reporters)
}

func (m multiReporter) DirStarted(path string) {
	for _, r := range m {
		r.DirStarted(path)
	}
}

func (m multiReporter) DirListed(path string) {
	for _, r := range m {
		r.DirListed(path)
	}
}

func (m multiReporter) DirFinished(path string) {
	for _, r := range m {
		r.DirFinished(path)
	}
}

func (m multiReporter) FileScanned(path string, size int64) {
	for _, r := range m {
		r.FileScanned(path, size)
	}
}

func (m multiReporter) CacheResult(hit bool) {
	for _, r := range m {
		r.CacheResult(hit)
	}
}

func (m multiReporter) Hashed(path string, bytes int64) {
	for _, r := range m {
		r.Hashed(path, bytes)
	}
}

func (m multiReporter) Cycle(path string) {
	for _, r := range m {
		r.Cycle(path)
	}
}

func (m multiReporter) Error(err error) {
	for _, r := range m {
		r.Error(err)
	}
}
