// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists serialized cache entries across runs.
type Store interface {
	Get(ctx context.Context, namespace, key string) (value []byte, insertedAt time.Time, ok bool, err error)
	Put(ctx context.Context, namespace, key string, value []byte, insertedAt time.Time) error
}

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the cache database at path and creates
// the schema if it does not exist.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "creating cache directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrap(err, "opening cache database")
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "creating cache schema")
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			inserted_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_inserted ON cache_entries(inserted_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return eris.Wrap(err, "executing schema statement")
		}
	}
	return nil
}

// Get returns the stored value for (namespace, key).
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, time.Time, bool, error) {
	var value []byte
	var inserted string
	err := s.db.QueryRowContext(ctx,
		`SELECT value, inserted_at FROM cache_entries WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value, &inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, eris.Wrap(err, "reading cache entry")
	}
	at, err := time.Parse(timeLayout, inserted)
	if err != nil {
		return nil, time.Time{}, false, eris.Wrapf(err, "parsing inserted_at %q", inserted)
	}
	return value, at, true, nil
}

// Put inserts or replaces the value for (namespace, key).
func (s *SQLiteStore) Put(ctx context.Context, namespace, key string, value []byte, insertedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (namespace, key, value, inserted_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, inserted_at = excluded.inserted_at`,
		namespace, key, value, insertedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return eris.Wrap(err, "writing cache entry")
	}
	return nil
}

// Prune deletes entries inserted before cutoff and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE inserted_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, eris.Wrap(err, "pruning cache entries")
	}
	return res.RowsAffected()
}
