package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/garethgeorge/storagestats/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI with an isolated config and cache directory.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	root := NewRootCommand(&stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestScanJSON(t *testing.T) {
	dir := testutil.ScenarioTree(t)
	stdout, _, err := run(t, "scan", "--output", "json", dir)
	require.NoError(t, err)

	var out struct {
		Scan struct {
			State string `json:"state"`
			Files int64  `json:"files"`
		} `json:"scan"`
		Report struct {
			Summary struct {
				Complete           bool   `json:"complete"`
				DuplicateDetection string `json:"duplicate_detection"`
				TotalSize          int64  `json:"total_size"`
				DuplicateGroups    int    `json:"duplicate_groups"`
				WastedSpace        int64  `json:"wasted_space"`
			} `json:"summary"`
			LargestFiles []struct {
				Path string `json:"path"`
			} `json:"largest_files"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "completed", out.Scan.State)
	assert.Equal(t, int64(4), out.Scan.Files)
	assert.True(t, out.Report.Summary.Complete)
	assert.Equal(t, "complete", out.Report.Summary.DuplicateDetection)
	assert.Equal(t, int64(450), out.Report.Summary.TotalSize)
	assert.Equal(t, 1, out.Report.Summary.DuplicateGroups)
	assert.Equal(t, int64(100), out.Report.Summary.WastedSpace)
	require.NotEmpty(t, out.Report.LargestFiles)
	assert.Equal(t, filepath.Join(dir, "d", "e"), out.Report.LargestFiles[0].Path)
}

func TestScanTable(t *testing.T) {
	dir := testutil.ScenarioTree(t)
	stdout, _, err := run(t, "scan", "--exclude", "d", "--no-cache", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Scanned "+dir)
	assert.Contains(t, stdout, "250 B")
	assert.Contains(t, stdout, "Duplicates:")
	assert.NotContains(t, stdout, filepath.Join(dir, "d", "e"))
}

type summaryOutput struct {
	Report struct {
		Summary struct {
			Complete           bool   `json:"complete"`
			DuplicateDetection string `json:"duplicate_detection"`
			TotalSize          int64  `json:"total_size"`
			Files              int    `json:"files"`
			DuplicateGroups    int    `json:"duplicate_groups"`
		} `json:"summary"`
	} `json:"report"`
}

func scanSummary(t *testing.T, args ...string) summaryOutput {
	t.Helper()
	stdout, _, err := run(t, append([]string{"scan", "--no-cache", "-o", "json"}, args...)...)
	require.NoError(t, err)
	var out summaryOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	return out
}

func TestScanNoHash(t *testing.T) {
	dir := testutil.ScenarioTree(t)
	s := scanSummary(t, "--no-hash", dir).Report.Summary
	assert.True(t, s.Complete)
	assert.Equal(t, "disabled", s.DuplicateDetection)
	assert.Zero(t, s.DuplicateGroups)
	assert.Equal(t, int64(450), s.TotalSize)

	stdout, _, err := run(t, "scan", "--no-cache", "--no-hash", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "duplicate detection disabled")
	assert.NotContains(t, stdout, "Duplicates:")
}

func TestScanHidden(t *testing.T) {
	dir := testutil.ScenarioTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".history"), make([]byte, 1000), 0o644))

	s := scanSummary(t, dir).Report.Summary
	assert.Equal(t, int64(450), s.TotalSize, "hidden files are skipped by default")
	assert.Equal(t, 4, s.Files)

	s = scanSummary(t, "--hidden", dir).Report.Summary
	assert.Equal(t, int64(1450), s.TotalSize)
	assert.Equal(t, 5, s.Files)
}

func TestScanAbsoluteExclude(t *testing.T) {
	dir := testutil.ScenarioTree(t)
	s := scanSummary(t, "--exclude", filepath.Join(dir, "d"), dir).Report.Summary
	assert.Equal(t, int64(250), s.TotalSize)
	assert.Equal(t, 3, s.Files)
}

func TestScanUsesCache(t *testing.T) {
	dir := testutil.ScenarioTree(t)
	cacheDir := t.TempDir()

	_, _, err := run(t, "scan", "-o", "json", "--cache-dir", cacheDir, dir)
	require.NoError(t, err)
	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	stdout, _, err := run(t, "scan", "-o", "json", "--cache-dir", cacheDir, dir)
	require.NoError(t, err)
	var out struct {
		Scan struct {
			CacheHits   int64 `json:"cache_hits"`
			HashedFiles int64 `json:"hashed_files"`
		} `json:"scan"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, int64(6), out.Scan.CacheHits)
	assert.Zero(t, out.Scan.HashedFiles)
}

func TestScanSQLiteCache(t *testing.T) {
	dir := testutil.ScenarioTree(t)
	cacheDir := t.TempDir()
	_, _, err := run(t, "scan", "-o", "json", "--cache-backend", "sqlite", "--cache-dir", cacheDir, dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cacheDir, "cache.db"))
}

func TestScanErrors(t *testing.T) {
	_, _, err := run(t, "scan", "--no-cache", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, _, err = run(t, "scan", "--output", "yaml", t.TempDir())
	assert.ErrorContains(t, err, "invalid output format")

	_, _, err = run(t, "scan", "--hash", "md5", t.TempDir())
	assert.Error(t, err)

	_, _, err = run(t, "scan", "a", "b")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	stdout, _, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# source: (defaults)")
	assert.Contains(t, stdout, "[scan]")
	assert.Contains(t, stdout, "[analysis]")

	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scan]\nworkers = 9\n"), 0o644))
	stdout, _, err = run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# source: "+path)
	assert.Contains(t, stdout, "workers = 9")

	stdout, _, err = run(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", stdout)
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: exitCancelled, Err: assert.AnError}
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, assert.AnError.Error(), err.Error())
}
