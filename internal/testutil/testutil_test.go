package testutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMapFS_BasicStructure(t *testing.T) {
	config := TreeConfig{
		Depth:         2,
		BreadthPerDir: 2,
		FilesPerDir:   2,
		FileSize:      100,
	}

	mapFS := GenerateMapFS(config)

	// MapFS has no explicit root entry
	assert.Len(t, mapFS, CountExpectedEntries(config)-1)
}

func TestGenerateMapFS_LeafFilesOnly(t *testing.T) {
	config := TreeConfig{
		Depth:         2,
		BreadthPerDir: 2,
		FilesPerDir:   3,
		LeafFilesOnly: true,
		FileSize:      100,
	}

	fileCount, dirCount := 0, 0
	for _, entry := range GenerateMapFS(config) {
		if entry.Mode.IsDir() {
			dirCount++
		} else {
			fileCount++
		}
	}
	assert.Equal(t, CountExpectedDirs(config)-1, dirCount)
	assert.Equal(t, 12, fileCount)
	assert.Equal(t, CountExpectedFiles(config), fileCount)
}

func TestCountExpectedFiles(t *testing.T) {
	tests := []struct {
		name     string
		config   TreeConfig
		expected int
	}{
		{"root only", TreeConfig{FilesPerDir: 3}, 3},
		{"depth 1", TreeConfig{Depth: 1, BreadthPerDir: 2, FilesPerDir: 2}, 2 + 2*2},
		{"depth 1 leaf only", TreeConfig{Depth: 1, BreadthPerDir: 2, FilesPerDir: 2, LeafFilesOnly: true}, 2 * 2},
		{"depth 2 breadth 3", TreeConfig{Depth: 2, BreadthPerDir: 3, FilesPerDir: 1}, 1 + 3 + 9},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CountExpectedFiles(tc.config))
		})
	}
}

func TestGenerateTreeOnDisk(t *testing.T) {
	config := DefaultTreeConfig()
	dir := GenerateTree(t, config)

	var files int
	var size int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			files++
			size += info.Size()
			assert.True(t, info.ModTime().Equal(config.ModTime), path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, CountExpectedFiles(config), files)
	assert.Equal(t, ExpectedSize(config), size)
}

func TestScenarioTree(t *testing.T) {
	dir := ScenarioTree(t)
	a, err := os.ReadFile(filepath.Join(dir, "a"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "b"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 100)

	info, err := os.Stat(filepath.Join(dir, "d", "e"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), info.Size())
}

func TestFaultyFS(t *testing.T) {
	dir := ScenarioTree(t)
	ffs := NewFaultyFS(nil)
	boom := errors.New("boom")

	ffs.FailTimes(OpStat, filepath.Join(dir, "a"), 2, boom)
	for range 2 {
		_, err := ffs.Stat(filepath.Join(dir, "a"))
		assert.ErrorIs(t, err, boom)
	}
	_, err := ffs.Stat(filepath.Join(dir, "a"))
	assert.NoError(t, err)

	ffs.Fail(OpReadDir, dir, fs.ErrPermission)
	_, err = ffs.ReadDir(dir)
	assert.ErrorIs(t, err, fs.ErrPermission)
	ffs.Heal()
	entries, err := ffs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, int64(2), ffs.ReadDirs())

	f, err := ffs.Open(filepath.Join(dir, "c"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, int64(1), ffs.Opens())
}
