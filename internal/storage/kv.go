package storage

import (
	"database/sql"
	"errors"
	"time"
)

// KVSet stores value under key. A ttl of 0 never expires.
func (db *DB) KVSet(key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := db.Exec(
		`INSERT INTO kv_store (key, value, expires_at, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = CURRENT_TIMESTAMP`,
		key, value, expiresAt,
	)
	return err
}

// KVGet returns the value stored under key. Expired keys are removed and
// reported as ErrNotFound.
func (db *DB) KVGet(key string) (string, error) {
	var value string
	var expiresAt sql.NullTime

	err := db.QueryRow(
		"SELECT value, expires_at FROM kv_store WHERE key = ?",
		key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	if expired(expiresAt, time.Now()) {
		_, _ = db.Exec("DELETE FROM kv_store WHERE key = ?", key)
		return "", ErrNotFound
	}
	return value, nil
}

// KVDelete removes key, returning ErrNotFound if it was absent.
func (db *DB) KVDelete(key string) error {
	result, err := db.Exec("DELETE FROM kv_store WHERE key = ?", key)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// KVList returns the live entries whose key starts with prefix. The prefix
// is matched literally.
func (db *DB) KVList(prefix string) (map[string]string, error) {
	rows, err := db.Query(
		"SELECT key, value, expires_at FROM kv_store WHERE substr(key, 1, length(?)) = ?",
		prefix, prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		var expiresAt sql.NullTime
		if err := rows.Scan(&key, &value, &expiresAt); err != nil {
			return nil, err
		}
		if expired(expiresAt, now) {
			continue
		}
		result[key] = value
	}
	return result, rows.Err()
}

// KVCleanExpired deletes expired entries and returns how many went.
func (db *DB) KVCleanExpired() (int64, error) {
	result, err := db.Exec(
		"DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at < ?",
		time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func expired(expiresAt sql.NullTime, now time.Time) bool {
	return expiresAt.Valid && expiresAt.Time.Before(now)
}
