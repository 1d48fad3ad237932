// Package registry provides persistent storage for graft daemon state.
// Uses pure-Go SQLite (modernc.org/sqlite), no cgo required.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database for graft registry storage.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	rdb := &DB{db: db}
	if err := rdb.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return rdb, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			status      TEXT NOT NULL DEFAULT 'mounting',
			modules     TEXT NOT NULL DEFAULT '[]',
			requests    TEXT NOT NULL DEFAULT '[]',
			error       TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL DEFAULT (datetime('now')),
			finished_at TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS sources (
			module       TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			digest       TEXT NOT NULL DEFAULT '',
			installed_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}
