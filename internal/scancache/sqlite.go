package scancache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/garethgeorge/storagestats/internal/hashing"
	"github.com/garethgeorge/storagestats/internal/scanerr"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS roots (
    root TEXT PRIMARY KEY,
    algorithm TEXT NOT NULL,
    scanned_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    root TEXT NOT NULL,
    path TEXT NOT NULL,
    size INTEGER NOT NULL,
    mtime_ns INTEGER NOT NULL,
    hash BLOB,
    is_dir INTEGER NOT NULL DEFAULT 0,
    child_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (root, path)
);
`

// SQLitePersister keeps the snapshots of every root in one database.
type SQLitePersister struct {
	db     *sql.DB
	logger *log.Logger
}

var _ Persister = (*SQLitePersister)(nil)

func OpenSQLite(path string, logger *log.Logger) (*SQLitePersister, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	db.Exec(`PRAGMA journal_mode=WAL;`)
	db.Exec(`PRAGMA synchronous=NORMAL;`)
	db.Exec(`PRAGMA busy_timeout=5000;`)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLitePersister{db: db, logger: logger}, nil
}

func (p *SQLitePersister) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *SQLitePersister) Load(ctx context.Context, root string, algorithm hashing.Algorithm) (*Cache, error) {
	var stored string
	err := p.db.QueryRowContext(ctx, `SELECT algorithm FROM roots WHERE root = ?`, root).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return New(algorithm), nil
	} else if err != nil {
		return New(algorithm), scanerr.WrapKind(root, scanerr.KindCacheCorrupt, err)
	}
	if stored != string(algorithm) {
		p.logger.Debug("cache algorithm changed", "root", root, "stored", stored, "want", algorithm)
		return New(algorithm), nil
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT path, size, mtime_ns, hash, is_dir, child_count FROM entries WHERE root = ? ORDER BY path`, root)
	if err != nil {
		return New(algorithm), scanerr.WrapKind(root, scanerr.KindCacheCorrupt, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.Size, &e.ModTime, &e.Hash, &e.IsDir, &e.ChildCount); err != nil {
			return New(algorithm), scanerr.WrapKind(root, scanerr.KindCacheCorrupt, err)
		}
		if len(e.Hash) == 0 {
			e.Hash = nil
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return New(algorithm), scanerr.WrapKind(root, scanerr.KindCacheCorrupt, err)
	}
	p.logger.Debug("loaded cache rows", "root", root, "entries", len(entries))
	return New(algorithm, entries...), nil
}

// Save replaces every row of root in a single transaction.
func (p *SQLitePersister) Save(ctx context.Context, root string, c *Cache) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE root = ?`, root); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO roots (root, algorithm, scanned_at)
        VALUES (?, ?, ?)
        ON CONFLICT(root) DO UPDATE SET
            algorithm = excluded.algorithm,
            scanned_at = excluded.scanned_at
    `, root, string(c.Algorithm()), time.Now().Unix()); err != nil {
		return fmt.Errorf("update root: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (root, path, size, mtime_ns, hash, is_dir, child_count) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for e := range c.Entries() {
		if _, err := stmt.ExecContext(ctx, root, e.Path, e.Size, e.ModTime, e.Hash, e.IsDir, e.ChildCount); err != nil {
			return fmt.Errorf("insert %q: %w", e.Path, err)
		}
	}
	return tx.Commit()
}
