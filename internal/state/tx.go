package state

import (
	"database/sql"
	"errors"
	"time"
)

// Tx is one bucket seen through an open transaction.
type Tx struct {
	tx     *sql.Tx
	bucket string
	now    func() time.Time
}

// Get reads key, including writes made earlier in the same transaction.
func (t *Tx) Get(key string) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(
		"SELECT value FROM entries WHERE bucket = ? AND key = ?", t.bucket, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

// Set inserts or replaces key.
func (t *Tx) Set(key string, value []byte) error {
	_, err := t.tx.Exec(`
		INSERT INTO entries (bucket, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		t.bucket, key, value, t.now())
	return err
}

// Clear removes every entry in the bucket.
func (t *Tx) Clear() error {
	_, err := t.tx.Exec("DELETE FROM entries WHERE bucket = ?", t.bucket)
	return err
}
