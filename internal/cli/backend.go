package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/telic-run/telic/internal/runtime"
	"github.com/telic-run/telic/internal/smt"
)

// StoreOptions holds the store selection flags shared by commands that
// touch persistent state.
type StoreOptions struct {
	Driver  string // "memory" | "sqlite" | "env"
	DataDir string
}

func addStoreFlags(cmd *cobra.Command, opts *StoreOptions) {
	cmd.Flags().StringVar(&opts.Driver, "store", "sqlite", "store driver (memory|sqlite|env)")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "./telic-data", "directory holding per-domain databases")
}

// openBackend opens the node store and journal for one domain. Sqlite gets
// one database file per domain under the data dir; memory is ephemeral;
// env defers driver selection to TELIC_STORE_DRIVER / TELIC_STORE_DSN.
func openBackend(ctx context.Context, opts *StoreOptions, domain string) (smt.NodeStore, smt.Journal, error) {
	switch opts.Driver {
	case string(smt.DriverMemory):
		return smt.NewMemoryStore(), smt.NewMemoryJournal(), nil
	case string(smt.DriverSqlite):
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		path := filepath.Join(opts.DataDir, domain+".db")
		store, err := smt.OpenStore(ctx, smt.DriverSqlite, path)
		if err != nil {
			return nil, nil, err
		}
		return store, storeJournal(store), nil
	case "env":
		store, err := smt.OpenStoreFromEnv(ctx)
		if err != nil {
			return nil, nil, err
		}
		return store, storeJournal(store), nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q (memory|sqlite|env)", opts.Driver)
	}
}

// storeJournal pairs a store with its durable journal when the backend has
// one. Backends without journal tables fall back to an in-memory journal,
// so their root history lasts only as long as the process.
func storeJournal(store smt.NodeStore) smt.Journal {
	if sqlite, ok := store.(*smt.SqliteStore); ok {
		return smt.NewSqliteJournal(sqlite)
	}
	return smt.NewMemoryJournal()
}

// resumeOption reads the journal head so a restarted domain picks up at
// its last committed root instead of an empty tree.
func resumeOption(ctx context.Context, journal smt.Journal) (runtime.DomainOption, bool, error) {
	rec, ok, err := journal.Last(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return runtime.WithCheckpoint(rec.Root, rec.Seq), true, nil
}

// parseHash decodes a 32-byte hex string into a tree hash.
func parseHash(s string) (smt.Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return smt.Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(raw) != 32 {
		return smt.Hash{}, fmt.Errorf("invalid hash %q: want 32 bytes, got %d", s, len(raw))
	}
	var h smt.Hash
	copy(h[:], raw)
	return h, nil
}
