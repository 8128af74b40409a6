// Package migrations applies the numbered SQL scripts embedded in FS.
package migrations

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

type migration struct {
	version int
	name    string
	content string
}

// Run applies every script whose version is not yet recorded, in order.
func Run(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	pending, err := pendingMigrations(db)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := apply(db, m); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Version returns the highest applied version, 0 for a fresh database.
func Version(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM _migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Pending returns the versions Run would still apply.
func Pending(db *sql.DB) ([]int, error) {
	pending, err := pendingMigrations(db)
	if err != nil {
		return nil, err
	}

	versions := make([]int, len(pending))
	for i, m := range pending {
		versions[i] = m.version
	}
	return versions, nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func pendingMigrations(db *sql.DB) ([]migration, error) {
	applied, err := appliedVersions(db)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}

	all, err := loadScripts()
	if err != nil {
		return nil, fmt.Errorf("get migration files: %w", err)
	}

	var pending []migration
	for _, m := range all {
		if !applied[m.version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM _migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// loadScripts reads scripts/NNN_name.sql sorted by version. Files without
// a numeric prefix are ignored.
func loadScripts() ([]migration, error) {
	entries, err := fs.ReadDir(FS, "scripts")
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		// embed.FS paths always use forward slashes.
		content, err := fs.ReadFile(FS, "scripts/"+name)
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: version, name: name, content: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.content); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO _migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}
