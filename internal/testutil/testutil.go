package testutil

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

// TreeConfig defines the structure of a generated filesystem tree.
type TreeConfig struct {
	// Depth is the maximum depth of the directory tree (0 = root only).
	Depth int

	// BreadthPerDir is the number of subdirectories to create at each level.
	BreadthPerDir int

	// FilesPerDir is the number of files to create in each directory.
	FilesPerDir int

	// LeafFilesOnly, if true, only creates files at the maximum depth (leaf directories).
	LeafFilesOnly bool

	// FileSize is the size of each generated file in bytes.
	FileSize int

	// SharedContent makes every file byte-identical, so each one is a
	// duplicate of every other.
	SharedContent bool

	// ModTime is the modification time for all files and directories.
	// If zero, uses the current time.
	ModTime time.Time
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		Depth:         3,
		BreadthPerDir: 2,
		FilesPerDir:   3,
		FileSize:      1024,
		ModTime:       time.Unix(1234567890, 0),
	}
}

// GenerateMapFS creates a testing/fstest.MapFS with a tree structure
// defined by the given configuration.
func GenerateMapFS(config TreeConfig) fstest.MapFS {
	if config.ModTime.IsZero() {
		config.ModTime = time.Now()
	}

	mapFS := make(fstest.MapFS)
	generateTree(mapFS, "", 0, config)
	return mapFS
}

func generateTree(mapFS fstest.MapFS, currentPath string, currentDepth int, config TreeConfig) {
	if !config.LeafFilesOnly || currentDepth == config.Depth {
		for i := 0; i < config.FilesPerDir; i++ {
			filePath := path.Join(currentPath, fmt.Sprintf("file%d.txt", i))
			seed := filePath
			if config.SharedContent {
				seed = "shared"
			}
			mapFS[filePath] = &fstest.MapFile{
				Data:    makeFileContent(seed, config.FileSize),
				Mode:    0o644,
				ModTime: config.ModTime,
			}
		}
	}

	if currentDepth < config.Depth {
		for i := 0; i < config.BreadthPerDir; i++ {
			dirPath := path.Join(currentPath, fmt.Sprintf("dir%d", i))
			mapFS[dirPath] = &fstest.MapFile{
				Mode:    fs.ModeDir | 0o755,
				ModTime: config.ModTime,
			}
			generateTree(mapFS, dirPath, currentDepth+1, config)
		}
	}
}

// makeFileContent generates deterministic content of the given size.
func makeFileContent(seed string, size int) []byte {
	if size == 0 {
		return []byte{}
	}
	content := make([]byte, size)
	pattern := []byte(fmt.Sprintf("Content for %s\n", seed))
	for i := 0; i < size; i++ {
		content[i] = pattern[i%len(pattern)]
	}
	return content
}

// WriteMapFS materializes mapFS below dir on the real filesystem and applies
// the recorded modification times.
func WriteMapFS(t testing.TB, dir string, mapFS fstest.MapFS) {
	t.Helper()
	var dirs []string
	for name, file := range mapFS {
		target := filepath.Join(dir, filepath.FromSlash(name))
		if file.Mode.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", target, err)
			}
			dirs = append(dirs, target)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, file.Data, 0o644); err != nil {
			t.Fatalf("write %s: %v", target, err)
		}
		if !file.ModTime.IsZero() {
			if err := os.Chtimes(target, file.ModTime, file.ModTime); err != nil {
				t.Fatalf("chtimes %s: %v", target, err)
			}
		}
	}
	// directory mtimes last, writing children bumps them
	for _, d := range dirs {
		rel, _ := filepath.Rel(dir, d)
		if mt := mapFS[filepath.ToSlash(rel)].ModTime; !mt.IsZero() {
			_ = os.Chtimes(d, mt, mt)
		}
	}
}

// GenerateTree writes a generated tree into a fresh temporary directory and
// returns its path.
func GenerateTree(t testing.TB, config TreeConfig) string {
	t.Helper()
	dir := t.TempDir()
	WriteMapFS(t, dir, GenerateMapFS(config))
	return dir
}

// ScenarioTree writes the reference tree used across the scanner tests:
//
//	root/a    100 bytes, same content as b
//	root/b    100 bytes
//	root/c     50 bytes
//	root/d/e  200 bytes
func ScenarioTree(t testing.TB) string {
	t.Helper()
	mtime := time.Unix(1234567890, 0)
	dir := t.TempDir()
	WriteMapFS(t, dir, fstest.MapFS{
		"a":   {Data: makeFileContent("dup", 100), Mode: 0o644, ModTime: mtime},
		"b":   {Data: makeFileContent("dup", 100), Mode: 0o644, ModTime: mtime},
		"c":   {Data: makeFileContent("c", 50), Mode: 0o644, ModTime: mtime},
		"d":   {Mode: fs.ModeDir | 0o755, ModTime: mtime},
		"d/e": {Data: makeFileContent("e", 200), Mode: 0o644, ModTime: mtime},
	})
	return dir
}

// CountExpectedFiles calculates how many files will be generated with the given config.
func CountExpectedFiles(config TreeConfig) int {
	return countFilesAtDepth(0, config)
}

func countFilesAtDepth(depth int, config TreeConfig) int {
	dirsAtDepth := 1
	for i := 0; i < depth; i++ {
		dirsAtDepth *= config.BreadthPerDir
	}

	var filesAtDepth int
	if !config.LeafFilesOnly || depth == config.Depth {
		filesAtDepth = dirsAtDepth * config.FilesPerDir
	}
	if depth < config.Depth {
		filesAtDepth += countFilesAtDepth(depth+1, config)
	}
	return filesAtDepth
}

// CountExpectedDirs calculates how many directories will be generated,
// including the root.
func CountExpectedDirs(config TreeConfig) int {
	total := 1
	for depth := 1; depth <= config.Depth; depth++ {
		dirsAtDepth := 1
		for i := 0; i < depth; i++ {
			dirsAtDepth *= config.BreadthPerDir
		}
		total += dirsAtDepth
	}
	return total
}

// CountExpectedEntries calculates the total number of entries (files + directories).
func CountExpectedEntries(config TreeConfig) int {
	return CountExpectedFiles(config) + CountExpectedDirs(config)
}

// ExpectedSize is the aggregate size of a generated tree.
func ExpectedSize(config TreeConfig) int64 {
	return int64(CountExpectedFiles(config)) * int64(config.FileSize)
}
