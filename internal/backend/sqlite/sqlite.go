// Package sqlite implements a single-file object store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilupskalvis/opvc/internal/backend"
)

// Name is the backend type name in the repository config.
const Name = "sqlite"

// FileName is the database file inside the store directory.
const FileName = "objects.db"

func init() {
	backend.Register(Name, func(ctx context.Context, dir string, logger *slog.Logger) (backend.Backend, error) {
		return Open(ctx, dir, logger)
	})
}

// Store implements backend.ObjectStore with one table keyed by (kind, id).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dbPath and creates the schema.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Open returns a backend over a Store in dir.
func Open(ctx context.Context, dir string, logger *slog.Logger) (*backend.ObjectBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s, err := New(ctx, filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	return backend.NewObjectBackend(Name, s, logger), nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		kind TEXT NOT NULL,
		id BLOB NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (kind, id)
	);

	CREATE INDEX IF NOT EXISTS idx_objects_created ON objects(kind, created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SetClock replaces the clock used to stamp new objects.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Get(ctx context.Context, kind backend.ObjectKind, id []byte) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM objects WHERE kind = ? AND id = ?", string(kind), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Put inserts the object; an existing row is left untouched.
func (s *Store) Put(ctx context.Context, kind backend.ObjectKind, id []byte, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO objects (kind, id, data, created_at) VALUES (?, ?, ?, ?)",
		string(kind), id, data, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, kind backend.ObjectKind, fn func(id []byte, created time.Time) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at FROM objects WHERE kind = ? ORDER BY created_at", string(kind))
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}

	type entry struct {
		id      []byte
		created time.Time
	}
	// Collect first so fn may write to the database.
	var entries []entry
	for rows.Next() {
		var (
			id      []byte
			created int64
		)
		if err := rows.Scan(&id, &created); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan object: %w", err)
		}
		entries = append(entries, entry{id: id, created: time.UnixMilli(created)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e.id, e.created); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, kind backend.ObjectKind, id []byte) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM objects WHERE kind = ? AND id = ?", string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Concurrency is 1: every statement goes through a single connection.
func (s *Store) Concurrency() int { return 1 }

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
