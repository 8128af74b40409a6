// Package storage persists script data in a local SQLite database.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"jsbox/internal/config"
	"jsbox/internal/storage/migrations"

	_ "modernc.org/sqlite"
)

// ErrNotFound reports a missing or expired record.
var ErrNotFound = errors.New("not found")

// DB wraps the database connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies
// pending migrations. A leading "~/" is expanded.
func Open(path string) (*DB, error) {
	expandedPath, err := config.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", expandedPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{DB: db, path: expandedPath}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn in a transaction, committing if it returns nil.
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := db.DB.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
