package smt

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/telic-run/telic/internal/ir"
)

// CommitRecord is one entry in a domain's append-only journal: the sequence
// number assigned by the domain's single writer, the root the commit
// produced, and a short human-readable summary of the batch.
type CommitRecord struct {
	Seq            int64  `json:"seq"`
	Root           Hash   `json:"root"`
	Summary        string `json:"summary"`
	RuntimeVersion string `json:"runtime_version"`
}

// Journal is the append-only history of committed roots for one domain. The
// journal is the authoritative linearized history: recovery replays it from
// the last manifest checkpoint forward.
type Journal interface {
	// Append records a commit. Sequence numbers must be strictly increasing.
	Append(ctx context.Context, rec CommitRecord) error

	// Last returns the most recent record, or ok=false for an empty journal.
	Last(ctx context.Context) (CommitRecord, bool, error)

	// List returns all records with seq >= from, in sequence order.
	List(ctx context.Context, from int64) ([]CommitRecord, error)
}

// SqliteJournal stores commit records in the domain's sqlite database.
type SqliteJournal struct {
	db *sql.DB
}

// NewSqliteJournal creates a journal over an opened domain database.
func NewSqliteJournal(store *SqliteStore) *SqliteJournal {
	return &SqliteJournal{db: store.DB()}
}

// Append implements Journal.
func (j *SqliteJournal) Append(ctx context.Context, rec CommitRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal (seq, root, summary, runtime_version)
		VALUES (?, ?, ?, ?)
	`, rec.Seq, rec.Root[:], rec.Summary, ir.RuntimeVersion)
	if err != nil {
		return &StorageError{Op: "journal append", Err: err}
	}
	return nil
}

// Last implements Journal.
func (j *SqliteJournal) Last(ctx context.Context) (CommitRecord, bool, error) {
	var rec CommitRecord
	var root []byte
	err := j.db.QueryRowContext(ctx, `
		SELECT seq, root, summary, runtime_version
		FROM journal ORDER BY seq DESC LIMIT 1
	`).Scan(&rec.Seq, &root, &rec.Summary, &rec.RuntimeVersion)
	if err == sql.ErrNoRows {
		return CommitRecord{}, false, nil
	}
	if err != nil {
		return CommitRecord{}, false, &StorageError{Op: "journal last", Err: err}
	}
	copy(rec.Root[:], root)
	return rec, true, nil
}

// List implements Journal.
func (j *SqliteJournal) List(ctx context.Context, from int64) ([]CommitRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, root, summary, runtime_version
		FROM journal WHERE seq >= ? ORDER BY seq ASC
	`, from)
	if err != nil {
		return nil, &StorageError{Op: "journal list", Err: err}
	}
	defer rows.Close()

	var recs []CommitRecord
	for rows.Next() {
		var rec CommitRecord
		var root []byte
		if err := rows.Scan(&rec.Seq, &root, &rec.Summary, &rec.RuntimeVersion); err != nil {
			return nil, &StorageError{Op: "journal scan", Err: err}
		}
		copy(rec.Root[:], root)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "journal iterate", Err: err}
	}
	return recs, nil
}

// MemoryJournal keeps commit records in memory. Used by tests and ephemeral
// domains alongside MemoryStore.
type MemoryJournal struct {
	mu   sync.Mutex
	recs []CommitRecord
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal { return &MemoryJournal{} }

// Append implements Journal.
func (j *MemoryJournal) Append(_ context.Context, rec CommitRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n := len(j.recs); n > 0 && rec.Seq <= j.recs[n-1].Seq {
		return fmt.Errorf("journal append: seq %d not after %d", rec.Seq, j.recs[n-1].Seq)
	}
	rec.RuntimeVersion = ir.RuntimeVersion
	j.recs = append(j.recs, rec)
	return nil
}

// Last implements Journal.
func (j *MemoryJournal) Last(_ context.Context) (CommitRecord, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.recs) == 0 {
		return CommitRecord{}, false, nil
	}
	return j.recs[len(j.recs)-1], true, nil
}

// List implements Journal.
func (j *MemoryJournal) List(_ context.Context, from int64) ([]CommitRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []CommitRecord
	for _, rec := range j.recs {
		if rec.Seq >= from {
			out = append(out, rec)
		}
	}
	return out, nil
}
