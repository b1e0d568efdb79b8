// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagestore

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SQLiteConfig holds the parameters for opening a [SQLiteStore].
type SQLiteConfig struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is the number of pooled connections. If zero or
	// negative, defaults to 4. Writes are serialized by SQLite
	// regardless; extra connections serve concurrent reads.
	PoolSize int

	// Logger receives open/close messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// SQLiteStore is a sparse Store that keeps non-zero pages as rows.
//
// Every connection runs with journal_mode=WAL and synchronous=FULL:
// governance state must survive power loss, not only process crashes.
type SQLiteStore struct {
	paged
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pages (
	idx  INTEGER PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// OpenSQLite opens or creates the page database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("pagestore: sqlite path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLiteConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("pagestore: opening sqlite %s: %w", cfg.Path, err)
	}

	store := &SQLiteStore{
		pool:   pool,
		path:   cfg.Path,
		logger: logger,
	}
	if err := store.paged.init(store); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pagestore: sqlite %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite page store opened",
		"path", cfg.Path,
		"pool_size", poolSize,
		"pages", store.pages,
	)
	return store, nil
}

func prepareSQLiteConnection(conn *sqlite.Conn) error {
	for _, pragma := range sqlitePragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("creating page schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadPage(index uint64, dst []byte) (bool, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, "SELECT data FROM pages WHERE idx = ?", &sqlitex.ExecOptions{
		Args: []any{int64(index)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if length := stmt.ColumnLen(0); length != PageSize {
				return fmt.Errorf("page %d holds %d bytes, want %d", index, length, PageSize)
			}
			stmt.ColumnBytes(0, dst)
			found = true
			return nil
		},
	})
	return found, err
}

func (s *SQLiteStore) loadPageCount() (uint64, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT value FROM meta WHERE key = 'page_count'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, fmt.Errorf("negative page count %d", count)
	}
	return uint64(count), nil
}

func (s *SQLiteStore) commit(pages map[uint64][]byte, pageCount uint64) (err error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, index := range slices.Sorted(maps.Keys(pages)) {
		data := pages[index]
		if data == nil {
			err = sqlitex.Execute(conn, "DELETE FROM pages WHERE idx = ?", &sqlitex.ExecOptions{
				Args: []any{int64(index)},
			})
		} else {
			err = sqlitex.Execute(conn,
				"INSERT INTO pages (idx, data) VALUES (?, ?) ON CONFLICT(idx) DO UPDATE SET data = excluded.data",
				&sqlitex.ExecOptions{Args: []any{int64(index), data}})
		}
		if err != nil {
			return fmt.Errorf("writing page %d: %w", index, err)
		}
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO meta (key, value) VALUES ('page_count', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{int64(pageCount)}})
	if err != nil {
		return fmt.Errorf("writing page count: %w", err)
	}
	return nil
}

// sync checkpoints the WAL into the main database file.
func (s *SQLiteStore) sync() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA wal_checkpoint(FULL)", nil); err != nil {
		return fmt.Errorf("checkpointing %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite page store close error", "path", s.path, "error", err)
		return fmt.Errorf("pagestore: closing sqlite %s: %w", s.path, err)
	}
	s.logger.Info("sqlite page store closed", "path", s.path)
	return nil
}
