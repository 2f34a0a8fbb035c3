package smt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/ir"
)

func TestMemoryJournal(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()

	_, ok, err := j.Last(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	r1 := CommitRecord{Seq: 1, Root: EmptyRoot(), Summary: "genesis", RuntimeVersion: ir.RuntimeVersion}
	require.NoError(t, j.Append(ctx, r1))

	r2 := CommitRecord{Seq: 2, Root: hashLeaf("k", []byte("v")), Summary: "effect commit", RuntimeVersion: ir.RuntimeVersion}
	require.NoError(t, j.Append(ctx, r2))

	last, ok, err := j.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r2, last)

	all, err := j.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []CommitRecord{r1, r2}, all)

	tail, err := j.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []CommitRecord{r2}, tail)
}

func TestMemoryJournal_RejectsNonMonotonicSeq(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, CommitRecord{Seq: 5, Root: EmptyRoot()}))
	assert.Error(t, j.Append(ctx, CommitRecord{Seq: 5, Root: EmptyRoot()}), "duplicate seq")
	assert.Error(t, j.Append(ctx, CommitRecord{Seq: 3, Root: EmptyRoot()}), "seq going backwards")
}

func TestSqliteStoreAndJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telic.db")

	store, err := OpenSqlite(path)
	require.NoError(t, err)
	defer store.Close()

	tr := NewTree(store)
	root, err := tr.Batch([]Op{
		{Key: "teg-resource-01", Value: []byte("alpha")},
		{Key: "teg-effect-02", Value: []byte("beta")},
	})
	require.NoError(t, err)

	j := NewSqliteJournal(store)
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, CommitRecord{Seq: 1, Root: root, Summary: "batch", RuntimeVersion: ir.RuntimeVersion}))

	// Reopen from the journal checkpoint and read through the persisted nodes.
	require.NoError(t, store.Close())
	store2, err := OpenSqlite(path)
	require.NoError(t, err)
	defer store2.Close()

	last, ok, err := NewSqliteJournal(store2).Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, root, last.Root)

	reloaded := LoadTree(store2, last.Root)
	got, found, err := reloaded.Get("teg-resource-01")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("alpha"), got)
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domain.yaml")

	m := Manifest{
		Domain:      "settlement",
		Config:      ir.DefaultDomainConfig(),
		StoreDriver: DriverSqlite,
		StoreDSN:    "telic.db",
	}
	require.NoError(t, m.Save(path))

	got, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
