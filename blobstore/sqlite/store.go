// Package sqlite stores blobs in a single SQLite database file using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/annexec/blobstore"
)

// Store implements blobstore.BlobStore on a SQLite table.
type Store struct {
	db *sql.DB
}

var _ blobstore.BlobStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite: pragma failed: %w", err)
		}
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS blobs (
			name TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: schema creation failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open loads a blob into memory.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM blobs WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &blob{data: data}, nil
}

// Put inserts or replaces a blob.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO blobs (name, data) VALUES (?, ?)", name, data)
	return err
}

// Create buffers writes and stores the blob on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return &writableBlob{ctx: ctx, store: s, name: name}, nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE name = ?", name)
	return err
}

// List returns the sorted names with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM blobs ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

type blob struct {
	data []byte
}

func (b *blob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *blob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	off = min(off, int64(len(b.data)))
	end := min(off+length, int64(len(b.data)))
	return io.NopCloser(bytes.NewReader(b.data[off:end])), nil
}

func (b *blob) Bytes() ([]byte, error) { return b.data, nil }

func (b *blob) Size() int64 { return int64(len(b.data)) }

func (b *blob) Close() error { return nil }

type writableBlob struct {
	ctx   context.Context
	store *Store
	name  string
	buf   bytes.Buffer
}

func (w *writableBlob) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writableBlob) Sync() error { return nil }

func (w *writableBlob) Close() error {
	return w.store.Put(w.ctx, w.name, w.buf.Bytes())
}
