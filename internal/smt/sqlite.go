package smt

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial schema (pre-migration)
// 1 - current: smt_nodes + journal
const currentSchemaVersion = 1

// SqliteStore is the durable NodeStore for a single domain. One database file
// per domain holds the node store and the commit journal.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite creates or opens the domain database at path, applying pragmas
// and migrations. Idempotent.
func OpenSqlite(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// SQLite supports one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Get implements NodeStore.
func (s *SqliteStore) Get(hash Hash) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM smt_nodes WHERE hash = ?", hash[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get node: %w", err)
	}
	return data, true, nil
}

// PutBatch implements NodeStore. All nodes land in one transaction; inserts
// are idempotent because nodes are content-addressed.
func (s *SqliteStore) PutBatch(nodes map[Hash][]byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite batch begin: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	stmt, err := tx.Prepare("INSERT INTO smt_nodes (hash, data) VALUES (?, ?) ON CONFLICT(hash) DO NOTHING")
	if err != nil {
		return fmt.Errorf("sqlite batch prepare: %w", err)
	}
	defer stmt.Close()

	for h, data := range nodes {
		if _, err := stmt.Exec(h[:], data); err != nil {
			return fmt.Errorf("sqlite batch insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite batch commit: %w", err)
	}
	return nil
}

// Close implements NodeStore.
func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for the journal, which shares the domain
// database file.
func (s *SqliteStore) DB() *sql.DB { return s.db }
