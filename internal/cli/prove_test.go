package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/smt"
)

func TestProveMembership(t *testing.T) {
	_, dataDir := seedJournal(t)

	// Prove a never-written nullifier key against the journal head; the
	// non-membership proof still folds to the root.
	buf := &bytes.Buffer{}
	cmd := NewProveCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"amm", smt.NullifierKey(ir.Nullifier{}), "--store", "sqlite", "--data-dir", dataDir})
	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ProofResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.False(t, result.Member)
	assert.Len(t, result.Siblings, 256)
	assert.NotEmpty(t, result.Root)
}

func TestProveEmptyJournalRequiresRoot(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewProveCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"amm", "some-key", "--store", "sqlite", "--data-dir", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestProveExplicitRoot(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewProveCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{
		"amm", "some-key",
		"--store", "memory",
		"--root", smt.EmptyRoot().Hex(),
	})
	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestParseHash(t *testing.T) {
	h, err := parseHash(smt.EmptyRoot().Hex())
	require.NoError(t, err)
	assert.Equal(t, smt.EmptyRoot(), h)

	_, err = parseHash("zz")
	require.Error(t, err)

	_, err = parseHash("abcd")
	require.Error(t, err)
}
