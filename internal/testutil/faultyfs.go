package testutil

import (
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
)

// FS matches the scanner filesystem interface so FaultyFS can stand in for
// the host filesystem.
type FS interface {
	ReadDir(name string) ([]fs.DirEntry, error)
	Lstat(name string) (fs.FileInfo, error)
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (fs.File, error)
}

type osFS struct{}

func (osFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (osFS) Lstat(name string) (fs.FileInfo, error)     { return os.Lstat(name) }
func (osFS) Stat(name string) (fs.FileInfo, error)      { return os.Stat(name) }
func (osFS) Open(name string) (fs.File, error)          { return os.Open(name) }

type Op uint8

const (
	OpReadDir Op = iota
	OpLstat
	OpStat
	OpOpen
)

type fault struct {
	op   Op
	path string
}

type injected struct {
	err error
	// remaining is the number of calls still to fail; negative means always.
	remaining int
}

// FaultyFS wraps a filesystem and fails selected calls. It also counts file
// opens so tests can assert how much content was read.
type FaultyFS struct {
	inner FS

	mu     sync.Mutex
	faults map[fault]*injected

	opens    atomic.Int64
	readDirs atomic.Int64

	// OnReadDir, when set, runs before every ReadDir. Tests use it to hold a
	// worker at a known point.
	OnReadDir func(path string)
	// OnOpen runs before every Open.
	OnOpen func(path string)
}

var _ FS = (*FaultyFS)(nil)

// NewFaultyFS wraps inner, or the host filesystem when inner is nil.
func NewFaultyFS(inner FS) *FaultyFS {
	if inner == nil {
		inner = osFS{}
	}
	return &FaultyFS{inner: inner, faults: make(map[fault]*injected)}
}

// Fail makes every op on path return err.
func (f *FaultyFS) Fail(op Op, path string, err error) {
	f.FailTimes(op, path, -1, err)
}

// FailTimes makes the next n calls of op on path return err.
func (f *FaultyFS) FailTimes(op Op, path string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[fault{op, path}] = &injected{err: err, remaining: n}
}

// Heal removes every injected fault.
func (f *FaultyFS) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.faults)
}

func (f *FaultyFS) Opens() int64 {
	return f.opens.Load()
}

func (f *FaultyFS) ReadDirs() int64 {
	return f.readDirs.Load()
}

func (f *FaultyFS) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.faults[fault{op, path}]
	if !ok || in.remaining == 0 {
		return nil
	}
	if in.remaining > 0 {
		in.remaining--
	}
	return &fs.PathError{Op: opName(op), Path: path, Err: in.err}
}

func opName(op Op) string {
	switch op {
	case OpReadDir:
		return "readdirent"
	case OpLstat:
		return "lstat"
	case OpStat:
		return "stat"
	default:
		return "open"
	}
}

func (f *FaultyFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if f.OnReadDir != nil {
		f.OnReadDir(name)
	}
	f.readDirs.Add(1)
	if err := f.check(OpReadDir, name); err != nil {
		return nil, err
	}
	return f.inner.ReadDir(name)
}

func (f *FaultyFS) Lstat(name string) (fs.FileInfo, error) {
	if err := f.check(OpLstat, name); err != nil {
		return nil, err
	}
	return f.inner.Lstat(name)
}

func (f *FaultyFS) Stat(name string) (fs.FileInfo, error) {
	if err := f.check(OpStat, name); err != nil {
		return nil, err
	}
	return f.inner.Stat(name)
}

func (f *FaultyFS) Open(name string) (fs.File, error) {
	if f.OnOpen != nil {
		f.OnOpen(name)
	}
	f.opens.Add(1)
	if err := f.check(OpOpen, name); err != nil {
		return nil, err
	}
	return f.inner.Open(name)
}
