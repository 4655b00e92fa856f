package fsscan

import (
	"io/fs"
	"os"
)

// FS is the slice of the operating system filesystem the scanner needs.
// Tests wrap OSFS to inject failures.
type FS interface {
	ReadDir(name string) ([]fs.DirEntry, error)
	Lstat(name string) (fs.FileInfo, error)
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (fs.File, error)
}

// OSFS reads the host filesystem using absolute paths.
type OSFS struct{}

var _ FS = OSFS{}

func (OSFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (OSFS) Lstat(name string) (fs.FileInfo, error)     { return os.Lstat(name) }
func (OSFS) Stat(name string) (fs.FileInfo, error)      { return os.Stat(name) }
func (OSFS) Open(name string) (fs.File, error)          { return os.Open(name) }
