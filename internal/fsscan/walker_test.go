package fsscan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"testing"

	"github.com/garethgeorge/storagestats/internal/scanerr"
	"github.com/garethgeorge/storagestats/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, w *Walker) map[string]Batch {
	t.Helper()
	batches := make(map[string]Batch)
	for b := range w.Walk(context.Background()) {
		batches[b.Dir] = b
	}
	return batches
}

func entryNames(b Batch) []string {
	var names []string
	for _, e := range b.Entries {
		names = append(names, filepath.Base(e.Path))
	}
	slices.Sort(names)
	return names
}

func TestWalk_BasicStructure(t *testing.T) {
	root := testutil.ScenarioTree(t)
	w, err := NewWalker(OSFS{}, root, Options{})
	require.NoError(t, err)

	batches := collect(t, w)
	require.Len(t, batches, 2)

	top := batches[root]
	require.NoError(t, top.Error)
	assert.Equal(t, []string{"a", "b", "c", "d"}, entryNames(top))
	for _, e := range top.Entries {
		assert.True(t, filepath.IsAbs(e.Path))
		assert.NoError(t, e.Error)
		assert.NotZero(t, e.Mtime)
		if filepath.Base(e.Path) == "d" {
			assert.Equal(t, KindDir, e.Kind)
			assert.True(t, e.Descend)
			assert.Zero(t, e.Size)
		} else {
			assert.Equal(t, KindFile, e.Kind)
			assert.True(t, e.Mode.IsRegular())
		}
	}

	sub := batches[filepath.Join(root, "d")]
	assert.Equal(t, 1, sub.Depth)
	require.Len(t, sub.Entries, 1)
	assert.Equal(t, int64(200), sub.Entries[0].Size)
}

func TestWalk_GeneratedTree(t *testing.T) {
	config := testutil.DefaultTreeConfig()
	root := testutil.GenerateTree(t, config)
	w, err := NewWalker(OSFS{}, root, Options{})
	require.NoError(t, err)

	var files int
	var size int64
	batches := collect(t, w)
	for _, b := range batches {
		for _, e := range b.Entries {
			if e.Kind == KindFile {
				files++
				size += e.Size
			}
		}
	}
	assert.Len(t, batches, testutil.CountExpectedDirs(config))
	assert.Equal(t, testutil.CountExpectedFiles(config), files)
	assert.Equal(t, testutil.ExpectedSize(config), size)
}

func TestWalk_NonExistentRoot(t *testing.T) {
	w, err := NewWalker(OSFS{}, "/path/that/does/not/exist/xyz123", Options{})
	require.NoError(t, err)

	var results []Batch
	for b := range w.Walk(context.Background()) {
		results = append(results, b)
	}
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Error, scanerr.ErrPathVanished)
}

func TestWalk_RootIsFile(t *testing.T) {
	root := testutil.ScenarioTree(t)
	w, err := NewWalker(OSFS{}, filepath.Join(root, "a"), Options{})
	require.NoError(t, err)
	_, err = w.Stat(context.Background())
	assert.ErrorIs(t, err, ErrNotDir)
}

func TestWalk_EarlyStop(t *testing.T) {
	root := testutil.GenerateTree(t, testutil.DefaultTreeConfig())
	w, err := NewWalker(OSFS{}, root, Options{})
	require.NoError(t, err)

	count := 0
	for range w.Walk(context.Background()) {
		count++
		if count >= 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestWalk_Cancelled(t *testing.T) {
	root := testutil.ScenarioTree(t)
	w, err := NewWalker(OSFS{}, root, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var results []Batch
	for b := range w.Walk(ctx) {
		results = append(results, b)
	}
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Error, ErrCancelled)
}

func TestWalk_Exclusions(t *testing.T) {
	root := testutil.ScenarioTree(t)
	ffs := testutil.NewFaultyFS(nil)
	// an excluded entry must never be stat'ed
	ffs.Fail(testutil.OpLstat, filepath.Join(root, "c"), syscall.ENOMEM)

	w, err := NewWalker(ffs, root, Options{Exclusions: []string{"c", "d/*"}})
	require.NoError(t, err)

	batches := collect(t, w)
	top := batches[root]
	assert.Equal(t, []string{"a", "b", "d"}, entryNames(top))
	assert.Equal(t, 1, top.Excluded)

	sub := batches[filepath.Join(root, "d")]
	assert.Empty(t, sub.Entries)
	assert.Equal(t, 1, sub.Excluded)

	assert.True(t, w.Excluded(filepath.Join(root, "x", "c")), "bare name matches at any depth")
	assert.False(t, w.Excluded(filepath.Join(root, "a")))
}

func TestWalk_AbsoluteExclusions(t *testing.T) {
	root := testutil.ScenarioTree(t)
	ffs := testutil.NewFaultyFS(nil)
	ffs.Fail(testutil.OpLstat, filepath.Join(root, "d"), syscall.ENOMEM)

	w, err := NewWalker(ffs, root, Options{Exclusions: []string{
		filepath.Join(root, "d"),
		filepath.Join(root, "*.tmp"),
		root + "/c/",
	}})
	require.NoError(t, err)

	batches := collect(t, w)
	require.Len(t, batches, 1, "the excluded directory is never listed")
	top := batches[root]
	assert.Equal(t, []string{"a", "b"}, entryNames(top))
	assert.Equal(t, 2, top.Excluded)

	assert.True(t, w.Excluded(filepath.Join(root, "x.tmp")))
	assert.False(t, w.Excluded(filepath.Join(root, "d", "x.tmp")))
	assert.False(t, w.Excluded(filepath.Join(t.TempDir(), "d")), "absolute patterns do not match by name")
}

func TestWalk_SkipHidden(t *testing.T) {
	root := testutil.ScenarioTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", ".keep"), nil, 0o644))

	ffs := testutil.NewFaultyFS(nil)
	// hidden entries are dropped before they are stat'ed
	ffs.Fail(testutil.OpLstat, filepath.Join(root, ".env"), syscall.ENOMEM)
	w, err := NewWalker(ffs, root, Options{SkipHidden: true})
	require.NoError(t, err)

	batches := collect(t, w)
	require.Len(t, batches, 2)
	top := batches[root]
	assert.Equal(t, []string{"a", "b", "c", "d"}, entryNames(top))
	assert.Equal(t, 2, top.Hidden)
	sub := batches[filepath.Join(root, "d")]
	assert.Equal(t, []string{"e"}, entryNames(sub))
	assert.Equal(t, 1, sub.Hidden)

	w, err = NewWalker(OSFS{}, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{".env", ".git", "a", "b", "c", "d"}, entryNames(collect(t, w)[root]))
}

func TestWalk_HiddenRootIsScanned(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".hidden")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("x"), 0o644))

	w, err := NewWalker(OSFS{}, root, Options{SkipHidden: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, entryNames(collect(t, w)[root]))
}

func TestNewWalker_BadPattern(t *testing.T) {
	_, err := NewWalker(OSFS{}, t.TempDir(), Options{Exclusions: []string{"[unterminated"}})
	assert.ErrorIs(t, err, ErrBadPattern)
}

func TestWalk_MaxDepth(t *testing.T) {
	root := testutil.ScenarioTree(t)
	w, err := NewWalker(OSFS{}, root, Options{MaxDepth: 1})
	require.NoError(t, err)

	batches := collect(t, w)
	require.Len(t, batches, 1)
	for _, e := range batches[root].Entries {
		if e.Kind == KindDir {
			assert.False(t, e.Descend)
		}
	}
}

func TestWalk_Symlinks(t *testing.T) {
	root := testutil.ScenarioTree(t)
	d := filepath.Join(root, "d")
	require.NoError(t, os.Symlink(root, filepath.Join(d, "loop")))
	require.NoError(t, os.Symlink(filepath.Join(root, "c"), filepath.Join(root, "c-link")))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "dangling")))

	t.Run("not followed", func(t *testing.T) {
		w, err := NewWalker(OSFS{}, root, Options{})
		require.NoError(t, err)
		batches := collect(t, w)
		assert.Equal(t, []string{"a", "b", "c", "d"}, entryNames(batches[root]))
		assert.Equal(t, 2, batches[root].Skipped)
		assert.Equal(t, []string{"e"}, entryNames(batches[d]))
		assert.Empty(t, batches[d].Cycles)
	})

	t.Run("followed", func(t *testing.T) {
		w, err := NewWalker(OSFS{}, root, Options{FollowSymlinks: true})
		require.NoError(t, err)
		batches := collect(t, w)
		require.Len(t, batches, 2, "the loop must not be descended")
		assert.Equal(t, []string{"a", "b", "c", "c-link", "d"}, entryNames(batches[root]))
		assert.Equal(t, 1, batches[root].Skipped, "dangling link")
		assert.Equal(t, []string{filepath.Join(d, "loop")}, batches[d].Cycles)
	})
}

func TestWalk_Faults(t *testing.T) {
	root := testutil.ScenarioTree(t)
	d := filepath.Join(root, "d")
	ffs := testutil.NewFaultyFS(nil)
	ffs.Fail(testutil.OpReadDir, d, fs.ErrPermission)
	ffs.Fail(testutil.OpLstat, filepath.Join(root, "a"), fs.ErrPermission)
	ffs.Fail(testutil.OpLstat, filepath.Join(root, "b"), fs.ErrNotExist)
	ffs.FailTimes(testutil.OpLstat, filepath.Join(root, "c"), 2, syscall.EAGAIN)

	w, err := NewWalker(ffs, root, Options{})
	require.NoError(t, err)
	batches := collect(t, w)

	top := batches[root]
	require.NoError(t, top.Error)
	assert.Equal(t, []string{"a", "c", "d"}, entryNames(top), "vanished entries are dropped")
	assert.Equal(t, 1, top.Skipped)
	for _, e := range top.Entries {
		switch filepath.Base(e.Path) {
		case "a":
			assert.ErrorIs(t, e.Error, scanerr.ErrPermissionDenied)
		case "c":
			assert.NoError(t, e.Error, "transient failures are retried")
			assert.Equal(t, int64(50), e.Size)
		}
	}

	assert.ErrorIs(t, batches[d].Error, scanerr.ErrPermissionDenied)
}

func TestLineage(t *testing.T) {
	var l *Lineage
	assert.False(t, l.Contains(DevIno{1, 1}, ""))

	l = l.Push(DevIno{1, 1}, "/r").Push(DevIno{1, 2}, "/r/a")
	assert.True(t, l.Contains(DevIno{1, 1}, ""))
	assert.False(t, l.Contains(DevIno{1, 3}, "/r"), "identity wins when available")
	assert.True(t, l.Contains(DevIno{}, "/r/a"))
	assert.False(t, l.Contains(DevIno{}, ""))
}
