package smt

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// PostgresStore is a NodeStore backed by Postgres, for deployments where
// several runtime processes share one durable store. Semantics are identical
// to SqliteStore; node inserts stay idempotent via ON CONFLICT DO NOTHING.
type PostgresStore struct {
	db *sql.DB
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS smt_nodes (
    hash BYTEA PRIMARY KEY,
    data BYTEA NOT NULL
)`

// OpenPostgres opens a Postgres-backed node store and ensures the schema
// exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Get implements NodeStore.
func (s *PostgresStore) Get(hash Hash) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM smt_nodes WHERE hash = $1", hash[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get node: %w", err)
	}
	return data, true, nil
}

// PutBatch implements NodeStore.
func (s *PostgresStore) PutBatch(nodes map[Hash][]byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("postgres batch begin: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	stmt, err := tx.Prepare("INSERT INTO smt_nodes (hash, data) VALUES ($1, $2) ON CONFLICT (hash) DO NOTHING")
	if err != nil {
		return fmt.Errorf("postgres batch prepare: %w", err)
	}
	defer stmt.Close()

	for h, data := range nodes {
		if _, err := stmt.Exec(h[:], data); err != nil {
			return fmt.Errorf("postgres batch insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres batch commit: %w", err)
	}
	return nil
}

// Close implements NodeStore.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
