package smt

import (
	"context"
	"fmt"
	"os"
)

// Driver identifies a node-store backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSqlite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Environment variables for backend selection when no manifest overrides
// them:
//
//	TELIC_STORE_DRIVER=memory|sqlite|postgres (default memory)
//	TELIC_STORE_DSN=<path or postgres DSN>

// OpenStore opens a node store for the given driver. For sqlite, dsn is the
// database file path; for postgres, a connection string; memory ignores dsn.
func OpenStore(ctx context.Context, driver Driver, dsn string) (NodeStore, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSqlite:
		if dsn == "" {
			return nil, fmt.Errorf("open store: sqlite driver requires a path")
		}
		return OpenSqlite(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("open store: postgres driver requires a DSN")
		}
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("open store: unknown driver %q", driver)
	}
}

// OpenStoreFromEnv opens a node store using process environment.
func OpenStoreFromEnv(ctx context.Context) (NodeStore, error) {
	driver := Driver(os.Getenv("TELIC_STORE_DRIVER"))
	return OpenStore(ctx, driver, os.Getenv("TELIC_STORE_DSN"))
}
