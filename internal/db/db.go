// Package db stores the history of CLI runs in SQLite.
package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version. A database written
// by a newer build is refused rather than downgraded.
const schemaVersion = 1

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB holds one writer connection and a small read-only pool over
// the same WAL-mode file.
type DB struct {
	path   string
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // held for every write
}

var sharedPragmas = map[string]string{
	"_journal_mode": "WAL",
	"_busy_timeout": "5000",
	"_foreign_keys": "ON",
}

func dsn(path string, readOnly bool) string {
	q := url.Values{}
	for k, v := range sharedPragmas {
		q.Set(k, v)
	}
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("_synchronous", "NORMAL")
	}
	return path + "?" + q.Encode()
}

// Open opens the history database at path, creating it and its
// parent directory when missing.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", dsn(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	db := &DB{path: path, writer: writer}
	// The read-only pool cannot open a file that has no schema yet.
	if err := db.migrate(); err != nil {
		writer.Close()
		return nil, err
	}

	if db.reader, err = sql.Open("sqlite3", dsn(path, true)); err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	db.reader.SetMaxOpenConns(4)
	return db, nil
}

func (db *DB) migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var have int
	if err := db.writer.QueryRow("PRAGMA user_version").Scan(&have); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if have > schemaVersion {
		return fmt.Errorf(
			"database %s has schema version %d, newer than %d",
			db.path, have, schemaVersion,
		)
	}
	if _, err := db.writer.Exec(schemaSQL); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	if have < schemaVersion {
		if _, err := db.writer.Exec(
			fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
		); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
	}
	return nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// Close closes the writer and the reader pool.
func (db *DB) Close() error {
	return errors.Join(db.writer.Close(), db.reader.Close())
}
