// Package sqlite provides a persistent HashCache and PatchCache backed by an
// embedded SQLite database.
//
// The store is opened at process start and closed at shutdown. Both caches
// live in one database file with one table each.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/internal/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS hash_cache (
	path     TEXT PRIMARY KEY,
	hash     INTEGER NOT NULL,
	mod_time INTEGER NOT NULL
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS patch_cache (
	key   BLOB PRIMARY KEY,
	patch BLOB NOT NULL
) WITHOUT ROWID;
`

// Store is a SQLite-backed cache.HashCache and cache.PatchCache.
type Store struct {
	pool *sqlitepool.Pool
}

var (
	_ cache.HashCache  = (*Store)(nil)
	_ cache.PatchCache = (*Store)(nil)
)

// Option configures a Store.
type Option func(*sqlitepool.Config)

// WithLogger sets the logger used by the connection pool.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *sqlitepool.Config) {
		cfg.Logger = logger
	}
}

// WithPoolSize sets the number of pooled connections.
func WithPoolSize(n int) Option {
	return func(cfg *sqlitepool.Config) {
		cfg.PoolSize = n
	}
}

// Open opens or creates the store at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := sqlitepool.Config{
		Path: path,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	pool, err := sqlitepool.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// GetHash implements cache.HashCache.
func (s *Store) GetHash(ctx context.Context, path string) (cache.HashEntry, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return cache.HashEntry{}, false, err
	}
	defer s.pool.Put(conn)

	var (
		entry cache.HashEntry
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT hash, mod_time FROM hash_cache WHERE path = ?", &sqlitex.ExecOptions{
		Args: []any{path},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry.Hash = hashing.Hash(uint64(stmt.ColumnInt64(0))) //nolint:gosec // stored bit pattern
			entry.ModTime = stmt.ColumnInt64(1)
			found = true
			return nil
		},
	})
	if err != nil {
		return cache.HashEntry{}, false, fmt.Errorf("cache store: get hash: %w", err)
	}
	return entry, found, nil
}

// PutHash implements cache.HashCache.
func (s *Store) PutHash(ctx context.Context, path string, entry cache.HashEntry) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO hash_cache (path, hash, mod_time) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, mod_time = excluded.mod_time`,
		&sqlitex.ExecOptions{
			Args: []any{path, int64(entry.Hash), entry.ModTime}, //nolint:gosec // stored bit pattern
		})
	if err != nil {
		return fmt.Errorf("cache store: put hash: %w", err)
	}
	return nil
}

// GetPatch implements cache.PatchCache.
func (s *Store) GetPatch(ctx context.Context, src, dest hashing.Hash) ([]byte, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.pool.Put(conn)

	var (
		patch []byte
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT patch FROM patch_cache WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{cache.PatchKey(src, dest)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			patch = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, patch)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache store: get patch: %w", err)
	}
	return patch, found, nil
}

// HasPatch implements cache.PatchCache.
func (s *Store) HasPatch(ctx context.Context, src, dest hashing.Hash) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	var found bool
	err = sqlitex.Execute(conn, "SELECT 1 FROM patch_cache WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{cache.PatchKey(src, dest)},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("cache store: has patch: %w", err)
	}
	return found, nil
}

// PutPatch implements cache.PatchCache. An existing entry is kept.
func (s *Store) PutPatch(ctx context.Context, src, dest hashing.Hash, patch []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO patch_cache (key, patch) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		&sqlitex.ExecOptions{
			Args: []any{cache.PatchKey(src, dest), patch},
		})
	if err != nil {
		return fmt.Errorf("cache store: put patch: %w", err)
	}
	return nil
}
