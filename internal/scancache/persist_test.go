package scancache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/garethgeorge/storagestats/internal/hashing"
	"github.com/garethgeorge/storagestats/internal/scanerr"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledCache(alg hashing.Algorithm) *Cache {
	c := New(alg)
	for _, e := range sampleEntries() {
		c.Store(e.Path, e)
	}
	return c
}

func priorEntries(c *Cache) []Entry {
	var out []Entry
	for _, e := range sampleEntries() {
		if got, ok := c.Lookup(e.Path); ok {
			out = append(out, got)
		}
	}
	return out
}

func TestPersisters(t *testing.T) {
	ctx := context.Background()
	persisters := map[string]func(t *testing.T) Persister{
		"file": func(t *testing.T) Persister {
			return NewFilePersister(filepath.Join(t.TempDir(), "cache"), nil)
		},
		"sqlite": func(t *testing.T) Persister {
			p, err := OpenSQLite(filepath.Join(t.TempDir(), "cache", "scan.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { p.Close() })
			return p
		},
	}

	for name, newPersister := range persisters {
		t.Run(name, func(t *testing.T) {
			p := newPersister(t)

			empty, err := p.Load(ctx, "/r", hashing.Blake3)
			require.NoError(t, err, "a missing snapshot is an empty cache")
			assert.Zero(t, empty.Stats().Prior)

			require.NoError(t, p.Save(ctx, "/r", filledCache(hashing.Blake3)))

			loaded, err := p.Load(ctx, "/r", hashing.Blake3)
			require.NoError(t, err)
			assert.Equal(t, sampleEntries(), priorEntries(loaded))

			other, err := p.Load(ctx, "/r", hashing.SHA256)
			require.NoError(t, err)
			assert.Zero(t, other.Stats().Prior, "hashes of another algorithm are not reused")

			elsewhere, err := p.Load(ctx, "/other", hashing.Blake3)
			require.NoError(t, err)
			assert.Zero(t, elsewhere.Stats().Prior)

			// saving again replaces the snapshot, vanished paths drop out
			next := New(hashing.Blake3)
			next.Store("/r/a", sampleEntries()[1])
			require.NoError(t, p.Save(ctx, "/r", next))
			loaded, err = p.Load(ctx, "/r", hashing.Blake3)
			require.NoError(t, err)
			assert.Equal(t, 1, loaded.Stats().Prior)
			_, ok := loaded.Lookup("/r/b")
			assert.False(t, ok)
		})
	}
}

func TestFilePersisterCorrupt(t *testing.T) {
	ctx := context.Background()
	p := NewFilePersister(t.TempDir(), nil)
	require.NoError(t, p.Save(ctx, "/r", filledCache(hashing.Blake3)))
	path := p.Path("/r")
	valid, err := os.ReadFile(path)
	require.NoError(t, err)

	// raw stream of a file with a bad record after the header
	var raw bytes.Buffer
	_, err = newRecordWriter(&raw, &header{Version: formatVersion, Root: "/r", Algorithm: "blake3"})
	require.NoError(t, err)
	raw.Write([]byte{3, 0, 0xff, 0xff, 0xff})
	badRecord := compress(t, raw.Bytes())

	var unordered bytes.Buffer
	rw, err := newRecordWriter(&unordered, &header{Version: formatVersion, Root: "/r", Algorithm: "blake3"})
	require.NoError(t, err)
	require.NoError(t, rw.Write(&Entry{Path: "/r/b"}))
	require.NoError(t, rw.Write(&Entry{Path: "/r/a"}))

	var future bytes.Buffer
	_, err = newRecordWriter(&future, &header{Version: 99, Root: "/r", Algorithm: "blake3"})
	require.NoError(t, err)

	tests := map[string][]byte{
		"not zstd":     []byte("definitely not a cache"),
		"truncated":    valid[:len(valid)/2],
		"bad record":   badRecord,
		"out of order": compress(t, unordered.Bytes()),
		"version":      compress(t, future.Bytes()),
		"empty stream": compress(t, nil),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, data, 0o644))
			c, err := p.Load(ctx, "/r", hashing.Blake3)
			assert.ErrorIs(t, err, scanerr.ErrCacheCorrupt)
			require.NotNil(t, c)
			assert.Zero(t, c.Stats().Prior)
		})
	}
}

func TestFilePersisterSaveLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	p := NewFilePersister(dir, nil)
	require.NoError(t, p.Save(context.Background(), "/r", filledCache(hashing.Blake3)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(p.Path("/r")), entries[0].Name())
	assert.Regexp(t, `^scan_[0-9a-f]{16}\.cache\.zst$`, entries[0].Name())
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
