// Package fsscan enumerates directories for the scanner. It applies the
// exclusion and depth policy, avoids symlink cycles, and classifies failures
// so a single unreadable entry never stops a traversal.
package fsscan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/garethgeorge/storagestats/internal/scanerr"
)

var (
	ErrCancelled  = errors.New("scan cancelled")
	ErrNotDir     = errors.New("scan root is not a directory")
	ErrBadPattern = errors.New("invalid exclusion pattern")
)

type Options struct {
	// Exclusions are doublestar glob patterns. A relative pattern is matched
	// against the slash path relative to the root and, without a slash,
	// against the entry name. An absolute pattern is matched against the
	// absolute path.
	Exclusions []string
	// SkipHidden drops entries whose name starts with a dot. The root is
	// scanned even when hidden.
	SkipHidden bool
	// MaxDepth limits how far below the root directories are enumerated.
	// Directories at depth MaxDepth are reported but not descended. Zero
	// means unlimited.
	MaxDepth       int
	FollowSymlinks bool
}

// Lineage is the chain of directory identities from the root down to a
// directory. It is immutable; Push returns a new link.
type Lineage struct {
	id     DevIno
	path   string
	parent *Lineage
}

func (l *Lineage) Push(id DevIno, path string) *Lineage {
	return &Lineage{id: id, path: path, parent: l}
}

// Contains reports whether the identity (or, without one, the resolved path)
// already appears on the chain.
func (l *Lineage) Contains(id DevIno, resolved string) bool {
	for cur := l; cur != nil; cur = cur.parent {
		if id.valid() && cur.id == id {
			return true
		}
		if !id.valid() && resolved != "" && cur.path == resolved {
			return true
		}
	}
	return false
}

// Batch is the result of enumerating exactly one directory.
type Batch struct {
	Dir     string
	Depth   int
	Lineage *Lineage
	Entries []FileMetadata

	// Counts of entries dropped before they became records.
	Excluded int
	Hidden   int
	Skipped  int // symlinks not followed, special files, vanished entries
	Cycles   []string

	// Error is set when the directory itself could not be listed.
	Error error
}

type Walker struct {
	fsys FS
	root string
	opts Options
}

func NewWalker(fsys FS, root string, opts Options) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	for _, pattern := range opts.Exclusions {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
		}
	}
	return &Walker{
		fsys: fsys,
		root: filepath.Clean(abs),
		opts: opts,
	}, nil
}

func (w *Walker) Root() string {
	return w.root
}

func (w *Walker) FS() FS {
	return w.fsys
}

// Stat returns the metadata of the root, which must be a directory.
func (w *Walker) Stat(ctx context.Context) (FileMetadata, error) {
	info, err := scanerr.RetryValue(ctx, func() (fs.FileInfo, error) {
		return w.fsys.Stat(w.root)
	})
	if err != nil {
		return FileMetadata{}, scanerr.Wrap(w.root, err)
	}
	if !info.IsDir() {
		return FileMetadata{}, fmt.Errorf("%s: %w", w.root, ErrNotDir)
	}
	m := metadataFromInfo(w.root, info)
	m.Descend = true
	return m, nil
}

// Excluded reports whether path matches one of the exclusion patterns.
func (w *Walker) Excluded(path string) bool {
	if len(w.opts.Exclusions) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	name := filepath.Base(path)
	for _, pattern := range w.opts.Exclusions {
		if filepath.IsAbs(pattern) {
			abs := filepath.ToSlash(filepath.Clean(pattern))
			if matched, matchErr := doublestar.Match(abs, filepath.ToSlash(path)); matchErr == nil && matched {
				return true
			}
			continue
		}
		if matched, matchErr := doublestar.Match(pattern, rel); matchErr == nil && matched {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if matched, matchErr := doublestar.Match(pattern, name); matchErr == nil && matched {
				return true
			}
		}
	}
	return false
}

// ReadBatch lists dir (at the given depth below the root) and stats every
// entry that survives the exclusion patterns and the hidden filter. Dropped
// entries are never stat'ed.
func (w *Walker) ReadBatch(ctx context.Context, dir string, depth int, lineage *Lineage) Batch {
	batch := Batch{Dir: dir, Depth: depth, Lineage: lineage}

	entries, err := scanerr.RetryValue(ctx, func() ([]fs.DirEntry, error) {
		return w.fsys.ReadDir(dir)
	})
	if err != nil {
		batch.Error = scanerr.Wrap(dir, err)
		return batch
	}

	batch.Entries = make([]FileMetadata, 0, len(entries))
	for _, entry := range entries {
		if w.opts.SkipHidden && strings.HasPrefix(entry.Name(), ".") {
			batch.Hidden++
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if w.Excluded(path) {
			batch.Excluded++
			continue
		}

		m, keep := w.statEntry(ctx, path, entry, depth+1, lineage)
		if !keep {
			if m.Error != nil && scanerr.Classify(m.Error) == scanerr.KindSymlinkCycle {
				batch.Cycles = append(batch.Cycles, path)
			} else {
				batch.Skipped++
			}
			continue
		}
		batch.Entries = append(batch.Entries, m)
	}
	return batch
}

func (w *Walker) statEntry(ctx context.Context, path string, entry fs.DirEntry, depth int, lineage *Lineage) (FileMetadata, bool) {
	isLink := entry.Type()&fs.ModeSymlink != 0
	if isLink && !w.opts.FollowSymlinks {
		return FileMetadata{Path: path}, false
	}

	stat := w.fsys.Lstat
	if isLink {
		stat = w.fsys.Stat
	}
	info, err := scanerr.RetryValue(ctx, func() (fs.FileInfo, error) {
		return stat(path)
	})
	if err != nil {
		kind := scanerr.Classify(err)
		if kind == scanerr.KindPathVanished {
			return FileMetadata{Path: path}, false
		}
		return FileMetadata{Path: path, Error: scanerr.Wrap(path, err)}, true
	}

	m := metadataFromInfo(path, info)
	switch {
	case info.IsDir():
		resolved := ""
		if isLink && !m.ID.valid() {
			resolved, _ = filepath.EvalSymlinks(path)
		}
		if lineage.Contains(m.ID, resolved) {
			m.Error = scanerr.WrapKind(path, scanerr.KindSymlinkCycle, nil)
			return m, false
		}
		m.Descend = w.opts.MaxDepth == 0 || depth < w.opts.MaxDepth
		return m, true
	case info.Mode().IsRegular():
		return m, true
	}
	// devices, sockets, fifos
	return m, false
}

type walkItem struct {
	dir     string
	depth   int
	lineage *Lineage
}

// Walk enumerates the tree serially, one batch per directory. Each call
// starts a fresh traversal; stopping the range loop ends it early.
func (w *Walker) Walk(ctx context.Context) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		root, err := w.Stat(ctx)
		if err != nil {
			yield(Batch{Dir: w.root, Error: err})
			return
		}

		stack := []walkItem{{dir: w.root, lineage: (*Lineage)(nil).Push(root.ID, w.root)}}
		for len(stack) > 0 {
			if ctx.Err() != nil {
				yield(Batch{Dir: stack[len(stack)-1].dir, Error: ErrCancelled})
				return
			}
			item := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			batch := w.ReadBatch(ctx, item.dir, item.depth, item.lineage)
			if !yield(batch) {
				return
			}
			for _, m := range batch.Entries {
				if m.Kind == KindDir && m.Descend && m.Error == nil {
					stack = append(stack, walkItem{
						dir:     m.Path,
						depth:   item.depth + 1,
						lineage: item.lineage.Push(m.ID, m.Path),
					})
				}
			}
		}
	}
}
