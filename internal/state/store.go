package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested entry does not exist.
var ErrNotFound = errors.New("entry not found")

// Record is a durable memory entry row. The vector clock is stored as
// opaque JSON text; interpretation belongs to the memory package.
type Record struct {
	// Namespace partitions the key space.
	Namespace string
	// Key is the entry key, unique within its namespace.
	Key string
	// Value is the entry payload.
	Value []byte
	// Clock is the JSON-encoded vector clock.
	Clock string
	// LastWriter is the ID of the writer that produced this version.
	LastWriter string
	// WrittenAt is the wall-clock write time, used for last-writer-wins.
	WrittenAt time.Time
	// ExpiresAt is the TTL expiry, if any.
	ExpiresAt *time.Time
}

// PutRecord inserts or replaces an entry.
func (db *DB) PutRecord(r Record) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var expires any
	if r.ExpiresAt != nil {
		expires = formatTime(*r.ExpiresAt)
	}

	_, err := db.conn.Exec(`
		INSERT INTO entries (namespace, key, value, clock, last_writer, written_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = excluded.value,
			clock = excluded.clock,
			last_writer = excluded.last_writer,
			written_at = excluded.written_at,
			expires_at = excluded.expires_at
	`, r.Namespace, r.Key, r.Value, r.Clock, r.LastWriter, formatTime(r.WrittenAt), expires)
	if err != nil {
		return fmt.Errorf("put entry %s/%s: %w", r.Namespace, r.Key, err)
	}
	return nil
}

// GetRecord fetches a single entry, or ErrNotFound.
func (db *DB) GetRecord(namespace, key string) (Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT namespace, key, value, clock, last_writer, written_at, expires_at
		FROM entries WHERE namespace = ? AND key = ?
	`, namespace, key)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
	}
	return r, err
}

// ListNamespace returns all entries in a namespace, ordered by key.
// Used for restart-time recovery replay.
func (db *DB) ListNamespace(namespace string) ([]Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT namespace, key, value, clock, last_writer, written_at, expires_at
		FROM entries WHERE namespace = ? ORDER BY key
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Namespaces returns the distinct namespaces with at least one entry.
func (db *DB) Namespaces() ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`SELECT DISTINCT namespace FROM entries ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		names = append(names, ns)
	}
	return names, rows.Err()
}

// DeleteRecord removes a single entry. Missing entries are not an error.
func (db *DB) DeleteRecord(namespace, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`DELETE FROM entries WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete entry %s/%s: %w", namespace, key, err)
	}
	return nil
}

// DeleteExpired removes entries whose TTL has passed.
// Returns the number of entries deleted.
func (db *DB) DeleteExpired(now time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.Exec(`
		DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at < ?
	`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	return result.RowsAffected()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var r Record
	var writtenAt string
	var expiresAt sql.NullString

	if err := s.Scan(&r.Namespace, &r.Key, &r.Value, &r.Clock, &r.LastWriter, &writtenAt, &expiresAt); err != nil {
		return Record{}, err
	}

	t, err := parseTime(writtenAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse written_at: %w", err)
	}
	r.WrittenAt = t

	if expiresAt.Valid {
		e, err := parseTime(expiresAt.String)
		if err != nil {
			return Record{}, fmt.Errorf("parse expires_at: %w", err)
		}
		r.ExpiresAt = &e
	}

	return r, nil
}
