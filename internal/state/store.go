// Package state keeps small pieces of server-wide state in SQLite.
//
// Values live in named buckets. UpdateMany gives a caller one transaction
// over a bucket, which is how the trial rotation counters are read and
// advanced without two sessions observing the same value.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"grimm.is/humangym/internal/clock"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrBucketExists  = errors.New("bucket already exists")
	ErrBucketMissing = errors.New("bucket does not exist")
	ErrStoreClosed   = errors.New("store is closed")
)

// Store is the subset of SQLiteStore the rest of the server depends on.
type Store interface {
	CreateBucket(name string) error
	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	List(bucket string) (map[string][]byte, error)
	// UpdateMany runs fn in one transaction; a non-nil return rolls back.
	UpdateMany(bucket string, fn func(tx *Tx) error) error
	Close() error
}

// SQLiteStore implements Store on modernc.org/sqlite.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	clock  clock.Clock
	closed bool
}

// Options configures NewSQLiteStore.
type Options struct {
	Path    string // ":memory:" for a throwaway store
	WALMode bool
	Clock   clock.Clock
}

// DefaultOptions enables WAL for file-backed stores.
func DefaultOptions(path string) Options {
	return Options{Path: path, WALMode: true}
}

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket     TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      BLOB,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (bucket, key)
);`

// NewSQLiteStore opens (or creates) the database at opts.Path.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	// A single connection serialises writers, and an in-memory database
	// only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &SQLiteStore{db: db, clock: clk}, nil
}

// CreateBucket adds a bucket, or returns ErrBucketExists.
func (s *SQLiteStore) CreateBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(
		"INSERT INTO buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		name, s.clock.Now())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBucketExists
	}
	return nil
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	var value []byte
	err := s.UpdateMany(bucket, func(tx *Tx) (err error) {
		value, err = tx.Get(key)
		return err
	})
	return value, err
}

// Set stores value under key.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	return s.UpdateMany(bucket, func(tx *Tx) error {
		return tx.Set(key, value)
	})
}

// List returns every entry in bucket.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if err := s.checkBucket(bucket); err != nil {
		return nil, err
	}

	rows, err := s.db.Query("SELECT key, value FROM entries WHERE bucket = ?", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// UpdateMany runs fn inside one transaction scoped to bucket. Calls on the
// same store never interleave.
func (s *SQLiteStore) UpdateMany(bucket string, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := s.checkBucket(bucket); err != nil {
		return err
	}

	sqlTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, bucket: bucket, now: s.clock.Now}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Close is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// checkBucket requires s.mu.
func (s *SQLiteStore) checkBucket(bucket string) error {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM buckets WHERE name = ?", bucket).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBucketMissing, bucket)
	}
	return err
}
