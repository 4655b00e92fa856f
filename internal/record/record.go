// Package record holds the value types a scan produces. Records carry no
// behaviour beyond accessors; they are filled in by the worker that owns a
// path and are read-only once handed out in a Tree.
package record

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/garethgeorge/storagestats/internal/scanerr"
)

var (
	ErrRelativePath  = errors.New("record path must be absolute")
	ErrNegativeSize  = errors.New("record size must not be negative")
	ErrIncompleteDir = errors.New("incomplete directory must not report a size")
	ErrDuplicatePath = errors.New("path already recorded")
)

// FileRecord describes one regular file.
type FileRecord struct {
	Path       string       `json:"path"`
	Size       int64        `json:"size"`
	ModTime    time.Time    `json:"mod_time"`
	AccessTime time.Time    `json:"access_time,omitzero"` // zero when the platform does not expose it
	Ext        string       `json:"ext"`
	Hash       []byte       `json:"hash,omitempty"`
	Err        scanerr.Kind `json:"error,omitzero"`
}

func (f *FileRecord) Errored() bool {
	return f.Err != scanerr.KindNone
}

// LastUsed is the later of the access and modification times.
func (f *FileRecord) LastUsed() time.Time {
	if f.AccessTime.After(f.ModTime) {
		return f.AccessTime
	}
	return f.ModTime
}

func (f *FileRecord) validate() error {
	if !filepath.IsAbs(f.Path) {
		return fmt.Errorf("file %q: %w", f.Path, ErrRelativePath)
	}
	if f.Size < 0 {
		return fmt.Errorf("file %q: %w", f.Path, ErrNegativeSize)
	}
	return nil
}

// DirectoryRecord describes one directory and the aggregate of everything
// below it. A directory whose subtree was not fully processed has
// Complete == false and a zero Size.
type DirectoryRecord struct {
	Path       string       `json:"path"`
	Size       int64        `json:"size"`
	ChildCount int          `json:"child_count"`
	FileCount  int64        `json:"file_count"`
	DirCount   int64        `json:"dir_count"`
	Children   []string     `json:"children,omitempty"`
	Err        scanerr.Kind `json:"error,omitzero"`
	Complete   bool         `json:"complete"`
	// Truncated marks a directory at the depth limit whose contents were
	// not enumerated.
	Truncated bool `json:"truncated,omitempty"`
}

func (d *DirectoryRecord) Errored() bool {
	return d.Err != scanerr.KindNone
}

func (d *DirectoryRecord) validate() error {
	if !filepath.IsAbs(d.Path) {
		return fmt.Errorf("directory %q: %w", d.Path, ErrRelativePath)
	}
	if d.Size < 0 {
		return fmt.Errorf("directory %q: %w", d.Path, ErrNegativeSize)
	}
	if !d.Complete && d.Size != 0 {
		return fmt.Errorf("directory %q: %w", d.Path, ErrIncompleteDir)
	}
	return nil
}

// DuplicateGroup is a set of files confirmed identical by size and content
// hash.
type DuplicateGroup struct {
	Size  int64    `json:"size"`
	Hash  []byte   `json:"hash"`
	Paths []string `json:"paths"`
}

func (g DuplicateGroup) Count() int {
	return len(g.Paths)
}

// Wasted is the space held by the redundant copies.
func (g DuplicateGroup) Wasted() int64 {
	if len(g.Paths) < 2 {
		return 0
	}
	return g.Size * int64(len(g.Paths)-1)
}

// ExtOf returns the lower-cased extension of path including the dot, or ""
// for names without one. Leading dots of hidden files do not count.
func ExtOf(path string) string {
	base := filepath.Base(path)
	if strings.LastIndexByte(base, '.') <= 0 {
		return ""
	}
	return strings.ToLower(filepath.Ext(base))
}

// Detection is the state of duplicate detection for a tree.
type Detection uint8

const (
	DetectionIncomplete Detection = iota
	DetectionComplete
	DetectionDisabled
)

var detectionNames = [...]string{
	DetectionIncomplete: "incomplete",
	DetectionComplete:   "complete",
	DetectionDisabled:   "disabled",
}

func (d Detection) String() string {
	if int(d) < len(detectionNames) {
		return detectionNames[d]
	}
	return fmt.Sprintf("detection(%d)", d)
}

func (d Detection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
