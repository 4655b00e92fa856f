package scancache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/garethgeorge/storagestats/internal/hashing"
	"github.com/garethgeorge/storagestats/internal/scanerr"
	"github.com/klauspost/compress/zstd"
)

// Persister loads and saves the cache of one scan root. Load always returns a
// usable cache: when the stored snapshot is unreadable it returns an empty
// cache alongside an error matching scanerr.ErrCacheCorrupt.
type Persister interface {
	Load(ctx context.Context, root string, algorithm hashing.Algorithm) (*Cache, error)
	Save(ctx context.Context, root string, c *Cache) error
}

// FilePersister stores one zstd-compressed snapshot file per root in Dir.
type FilePersister struct {
	Dir    string
	Logger *log.Logger
}

var _ Persister = (*FilePersister)(nil)

func NewFilePersister(dir string, logger *log.Logger) *FilePersister {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &FilePersister{Dir: dir, Logger: logger}
}

// Path returns the snapshot file used for root.
func (p *FilePersister) Path(root string) string {
	return filepath.Join(p.Dir, fmt.Sprintf("scan_%016x.cache.zst", xxhash.Sum64String(root)))
}

func (p *FilePersister) Load(ctx context.Context, root string, algorithm hashing.Algorithm) (*Cache, error) {
	path := p.Path(root)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		p.Logger.Debug("no cache snapshot", "root", root, "path", path)
		return New(algorithm), nil
	} else if err != nil {
		return New(algorithm), scanerr.WrapKind(path, scanerr.KindCacheCorrupt, err)
	}
	defer f.Close()

	entries, err := readSnapshot(ctx, f, root, algorithm)
	if err != nil {
		if ctx.Err() != nil {
			return New(algorithm), ctx.Err()
		}
		p.Logger.Warn("discarding cache snapshot", "path", path, "err", err)
		return New(algorithm), scanerr.WrapKind(path, scanerr.KindCacheCorrupt, err)
	}
	p.Logger.Debug("loaded cache snapshot", "root", root, "entries", len(entries))
	return New(algorithm, entries...), nil
}

// readSnapshot decodes a snapshot. A snapshot for another root or algorithm
// yields no entries and no error.
func readSnapshot(ctx context.Context, r io.Reader, root string, algorithm hashing.Algorithm) ([]Entry, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	rr, h, err := newRecordReader(zr)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadRecord, h.Version)
	}
	if h.Root != root || h.Algorithm != string(algorithm) {
		return nil, nil
	}

	var entries []Entry
	var last string
	for e, err := range rr.Iter() {
		if err != nil {
			return nil, fmt.Errorf("read entry %d: %w", len(entries), err)
		}
		if len(entries) > 0 && e.Path <= last {
			return nil, fmt.Errorf("%w: entry %q out of order", ErrBadRecord, e.Path)
		}
		last = e.Path
		entries = append(entries, e)
		if len(entries)%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return entries, nil
}

func writeSnapshot(ctx context.Context, w io.Writer, root string, c *Cache) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderCRC(true))
	if err != nil {
		return err
	}
	rw, err := newRecordWriter(zw, &header{
		Version:   formatVersion,
		Timestamp: time.Now().UnixNano(),
		Root:      root,
		Algorithm: string(c.Algorithm()),
	})
	if err != nil {
		zw.Close()
		return err
	}
	var n int
	for e := range c.Entries() {
		if err := rw.Write(&e); err != nil {
			zw.Close()
			return fmt.Errorf("write entry %q: %w", e.Path, err)
		}
		n++
		if n%1024 == 0 && ctx.Err() != nil {
			zw.Close()
			return ctx.Err()
		}
	}
	return zw.Close()
}

// Save writes the next snapshot to a temporary file and renames it over the
// previous one.
func (p *FilePersister) Save(ctx context.Context, root string, c *Cache) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	path := p.Path(root)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create cache snapshot: %w", err)
	}
	if err := writeSnapshot(ctx, f, root, c); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write cache snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close cache snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename cache snapshot: %w", err)
	}
	p.Logger.Debug("saved cache snapshot", "root", root, "path", path, "entries", c.Len())
	return nil
}
