// Package scanpool sizes a directory tree with a bounded set of workers.
//
// Each directory is a unit of work. A worker lists the directory, records its
// files and queues its subdirectories; the directory is finalized (sized)
// by whichever goroutine releases its last pending child, so a parent is
// never finalized before its children and no lock is held over the tree.
// Once traversal ends, files that share a size are hashed to confirm
// duplicates.
package scanpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/garethgeorge/storagestats/internal/fsscan"
	"github.com/garethgeorge/storagestats/internal/hashing"
	"github.com/garethgeorge/storagestats/internal/progress"
	"github.com/garethgeorge/storagestats/internal/record"
	"github.com/garethgeorge/storagestats/internal/scancache"
	"github.com/garethgeorge/storagestats/internal/scanerr"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInterrupted is returned by Run when its context ends first. The pool
	// keeps its state; calling Run again continues with the unfinished units.
	ErrInterrupted = errors.New("scan interrupted")
	ErrRunning     = errors.New("pool is already running")
)

type Options struct {
	// Workers defaults to runtime.NumCPU().
	Workers int
	// MaxOutstanding caps queued units; beyond it a worker descends into a
	// subdirectory itself. Defaults to Workers*64.
	MaxOutstanding int

	// Hasher defaults to the default algorithm with the default chunk size.
	Hasher *hashing.Hasher
	// Cache, when set, supplies hashes of unchanged files and receives the
	// entries of this scan.
	Cache *scancache.Cache
	// SkipHashing turns duplicate detection off: no file content is read and
	// the tree reports detection as disabled.
	SkipHashing bool
	Reporter    progress.Reporter
	Logger      *log.Logger
}

type Pool struct {
	walker *fsscan.Walker
	opts   Options
	queue  *queue

	running atomic.Bool
	started bool
	hashed  bool
	root    *node

	mu         sync.Mutex
	nodes      []*node
	files      []*record.FileRecord
	duplicates []record.DuplicateGroup
	errs       scanerr.Map

	fatal     atomic.Pointer[error]
	cancelRun context.CancelFunc
}

func New(walker *fsscan.Walker, opts Options) (*Pool, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxOutstanding <= 0 {
		opts.MaxOutstanding = opts.Workers * 64
	}
	if opts.Hasher == nil {
		h, err := hashing.NewHasher(hashing.DefaultAlgorithm, hashing.DefaultChunkSize, opts.Workers)
		if err != nil {
			return nil, err
		}
		opts.Hasher = h
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.NoopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Pool{
		walker: walker,
		opts:   opts,
		queue:  newQueue(opts.MaxOutstanding),
		errs:   scanerr.Map{Title: "scan errors"},
	}, nil
}

// Run traverses the tree and then confirms duplicates. It returns nil when
// the scan is complete, ErrInterrupted when ctx ended first, or the fatal
// error that stopped it.
func (p *Pool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	if err := p.Err(); err != nil {
		return err
	}
	if p.hashed {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancelRun = cancel

	if !p.started {
		meta, err := p.walker.Stat(runCtx)
		if err != nil {
			return fmt.Errorf("scan root: %w", err)
		}
		p.root = p.track(newNode(nil, meta))
		p.queue.push(p.root)
		p.started = true
	}

	start := time.Now()
	p.traverse(runCtx)
	if err := p.Err(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		p.opts.Logger.Debug("traversal interrupted", "queued", p.queue.len())
		return ErrInterrupted
	}
	p.opts.Logger.Debug("traversal finished", "files", len(p.files), "dirs", len(p.nodes), "elapsed", time.Since(start))
	if p.opts.SkipHashing {
		p.hashed = true
		return nil
	}

	if err := p.hashCandidates(runCtx); err != nil {
		if fatal := p.Err(); fatal != nil {
			return fatal
		}
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return err
	}
	p.hashed = true
	return nil
}

func (p *Pool) traverse(ctx context.Context) {
	stop := context.AfterFunc(ctx, p.queue.wake)
	defer stop()

	var g errgroup.Group
	for range p.opts.Workers {
		g.Go(func() error {
			for {
				n, ok := p.queue.pop(ctx)
				if !ok {
					return nil
				}
				p.process(ctx, n)
				p.queue.done()
			}
		})
	}
	_ = g.Wait()
}

// Err returns the fatal error that stopped the pool, if any.
func (p *Pool) Err() error {
	if errPtr := p.fatal.Load(); errPtr != nil {
		return *errPtr
	}
	return nil
}

func (p *Pool) setFatal(err error) {
	if p.fatal.CompareAndSwap(nil, &err) {
		p.opts.Logger.Error("scan aborted", "err", err)
		if p.cancelRun != nil {
			p.cancelRun()
		}
	}
}

func (p *Pool) track(n *node) *node {
	p.mu.Lock()
	p.nodes = append(p.nodes, n)
	p.mu.Unlock()
	return n
}

// Done reports whether the scan completed.
func (p *Pool) Done() bool {
	return p.hashed
}

// Errors returns the per-path failures recorded so far.
func (p *Pool) Errors() *scanerr.Map {
	return &p.errs
}

func (p *Pool) recordError(err error) {
	var pathErr *scanerr.PathError
	path := ""
	if errors.As(err, &pathErr) {
		path = pathErr.Path
	}
	p.errs.Add(path, err)
	p.opts.Reporter.Error(err)
	p.opts.Logger.Warn("scan error", "path", path, "err", err)
}

// process lists one directory. A unit interrupted before its listing is
// applied goes back on the queue untouched.
func (p *Pool) process(ctx context.Context, n *node) {
	if ctx.Err() != nil {
		p.queue.push(n)
		return
	}

	p.opts.Reporter.DirStarted(n.path)
	batch := p.walker.ReadBatch(ctx, n.path, n.depth, n.lineage)
	p.opts.Reporter.DirListed(n.path)

	if interrupted(batch) {
		p.queue.push(n)
		return
	}
	if err := fatalError(batch); err != nil {
		p.setFatal(err)
		p.queue.push(n)
		return
	}

	if batch.Error != nil {
		n.err = scanerr.Classify(batch.Error)
		p.recordError(batch.Error)
	}

	p.checkDirCache(n, len(batch.Entries))

	var files []*record.FileRecord
	var dirs []*node
	for _, m := range batch.Entries {
		if m.Error != nil {
			kind := scanerr.Classify(m.Error)
			switch kind {
			case scanerr.KindTransientIO:
				// stat kept failing; keep the file but do not count its size
				p.recordError(m.Error)
				files = append(files, &record.FileRecord{Path: m.Path, Ext: record.ExtOf(m.Path), Err: kind})
			default:
				n.err = kind
				p.recordError(m.Error)
			}
			continue
		}

		switch m.Kind {
		case fsscan.KindDir:
			child := p.track(newNode(n, m))
			if !m.Descend {
				child.truncated = true
				child.listed = true
			}
			dirs = append(dirs, child)
		default:
			files = append(files, p.fileRecord(m))
		}
	}
	for _, path := range batch.Cycles {
		p.opts.Reporter.Cycle(path)
		p.opts.Logger.Debug("skipping symlink cycle", "path", path)
	}

	n.files = files
	n.subdirs = dirs
	n.children = make([]string, 0, len(files)+len(dirs))
	for _, f := range files {
		n.children = append(n.children, f.Path)
	}
	for _, d := range dirs {
		n.children = append(n.children, d.path)
	}
	slices.Sort(n.children)
	n.listed = true

	p.mu.Lock()
	p.files = append(p.files, files...)
	p.mu.Unlock()

	n.pending.Store(int64(len(dirs)) + 1)
	for _, d := range dirs {
		switch {
		case d.truncated:
			d.pending.Store(1)
			p.release(d)
		case !p.queue.tryPush(d):
			p.process(ctx, d)
		}
	}
	p.release(n)
}

func interrupted(batch fsscan.Batch) bool {
	if scanerr.Classify(batch.Error) == scanerr.KindCancelled {
		return true
	}
	for _, m := range batch.Entries {
		if scanerr.Classify(m.Error) == scanerr.KindCancelled {
			return true
		}
	}
	return false
}

func fatalError(batch fsscan.Batch) error {
	if scanerr.Classify(batch.Error).Fatal() {
		return batch.Error
	}
	for _, m := range batch.Entries {
		if scanerr.Classify(m.Error).Fatal() {
			return m.Error
		}
	}
	return nil
}

func (p *Pool) fileRecord(m fsscan.FileMetadata) *record.FileRecord {
	f := &record.FileRecord{
		Path:    m.Path,
		Size:    m.Size,
		ModTime: time.Unix(0, m.Mtime),
		Ext:     record.ExtOf(m.Path),
	}
	if m.Atime != 0 {
		f.AccessTime = time.Unix(0, m.Atime)
	}
	p.opts.Reporter.FileScanned(m.Path, m.Size)

	if c := p.opts.Cache; c != nil {
		e, hit := c.Reuse(m.Path, m.Size, m.Mtime)
		p.opts.Reporter.CacheResult(hit)
		if hit && !e.IsDir && len(e.Hash) > 0 {
			f.Hash = e.Hash
		}
		c.Store(m.Path, scancache.Entry{Size: m.Size, ModTime: m.Mtime, Hash: f.Hash})
	}
	return f
}

func (p *Pool) checkDirCache(n *node, entries int) {
	c := p.opts.Cache
	if c == nil {
		return
	}
	e, hit := c.Reuse(n.path, 0, n.mtime)
	p.opts.Reporter.CacheResult(hit)
	if hit && e.ChildCount != entries {
		p.opts.Logger.Debug("directory listing changed", "path", n.path, "cached", e.ChildCount, "now", entries)
	}
}

// release drops one pending token of n and finalizes every ancestor whose
// last token it was.
func (p *Pool) release(n *node) {
	for n != nil && n.pending.Add(-1) == 0 {
		n.rec = n.aggregate()
		if c := p.opts.Cache; c != nil && n.err == scanerr.KindNone && !n.truncated {
			c.Store(n.path, scancache.Entry{IsDir: true, ModTime: n.mtime, ChildCount: n.rec.ChildCount})
		}
		p.opts.Reporter.DirFinished(n.path)
		n = n.parent
	}
}

// Tree assembles the records gathered so far. Directories that were not
// finalized are reported incomplete with a zero size. It must not be called
// while Run is active.
func (p *Pool) Tree() *record.Tree {
	root := p.walker.Root()
	b := record.NewBuilder(root)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		rec := n.rec
		if rec == nil {
			rec = n.partial()
		}
		if err := b.AddDir(rec); err != nil {
			p.opts.Logger.Error("dropping directory record", "path", n.path, "err", err)
		}
	}
	for _, f := range p.files {
		if err := b.AddFile(f); err != nil {
			p.opts.Logger.Error("dropping file record", "path", f.Path, "err", err)
		}
	}
	switch {
	case p.hashed && p.opts.SkipHashing:
		b.DisableDuplicates()
	case p.hashed:
		b.SetDuplicates(p.duplicates)
	}
	return b.Build()
}
