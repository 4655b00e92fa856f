package fsscan

import (
	"io/fs"
)

type EntryKind uint8

const (
	KindFile EntryKind = iota
	KindDir
)

// DevIno identifies a directory for symlink cycle detection. The zero value
// means the platform did not provide an identity.
type DevIno struct {
	Dev uint64
	Ino uint64
}

func (d DevIno) valid() bool {
	return d != DevIno{}
}

// FileMetadata is the stat result for one kept directory entry.
type FileMetadata struct {
	Path  string
	Kind  EntryKind
	Size  int64
	Mtime int64 // unix nanoseconds
	Atime int64 // unix nanoseconds, zero when unavailable
	Mode  fs.FileMode
	ID    DevIno

	// Descend is set on directories the walker will enumerate. It is false
	// for directories at the depth limit.
	Descend bool

	// Error is set when the entry was listed but could not be stat'ed.
	Error error
}

func metadataFromInfo(path string, info fs.FileInfo) FileMetadata {
	id, atime := statIdentity(info)
	m := FileMetadata{
		Path:  path,
		Size:  info.Size(),
		Mtime: info.ModTime().UnixNano(),
		Atime: atime,
		Mode:  info.Mode(),
		ID:    id,
	}
	if info.IsDir() {
		m.Kind = KindDir
		m.Size = 0
	}
	return m
}
