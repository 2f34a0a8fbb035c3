package cli

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/blob"
	"github.com/telic-run/telic/internal/ir"
)

func writeIntent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intent.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runSubmitCommand(t *testing.T, args []string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewSubmitCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestSubmitNoopIntent(t *testing.T) {
	dir := writeManifest(t, goodManifest)
	intent := writeIntent(t, `{"name":"noop","priority":0,"inputs":[],"outputs":[],"timestamp":1}`)

	buf, err := runSubmitCommand(t, []string{
		dir, "amm",
		"--intent", intent,
		"--store", "memory",
	})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSubmitConservedFlow(t *testing.T) {
	dir := writeManifest(t, goodManifest)
	domainHex := ir.Hex(ir.NewDomainID("amm"))
	intent := writeIntent(t, fmt.Sprintf(`{
		"name": "transfer",
		"priority": 0,
		"inputs":  [{"resource_type":"amm.token","quantity":100,"domain_id":%q}],
		"outputs": [{"resource_type":"amm.token","quantity":100,"domain_id":%q}],
		"timestamp": 1
	}`, domainHex, domainHex))

	buf, err := runSubmitCommand(t, []string{
		dir, "amm",
		"--intent", intent,
		"--store", "memory",
		"--seed", "pool:amm.token:100",
	})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result SubmitResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.NotEmpty(t, result.Root)
}

func TestSubmitArchivesResultArtifact(t *testing.T) {
	dir := writeManifest(t, goodManifest)
	artifacts := t.TempDir()
	domainHex := ir.Hex(ir.NewDomainID("amm"))
	intent := writeIntent(t, fmt.Sprintf(`{
		"name": "transfer",
		"priority": 0,
		"inputs":  [{"resource_type":"amm.token","quantity":100,"domain_id":%q}],
		"outputs": [{"resource_type":"amm.token","quantity":100,"domain_id":%q}],
		"timestamp": 1
	}`, domainHex, domainHex))

	buf, err := runSubmitCommand(t, []string{
		dir, "amm",
		"--intent", intent,
		"--store", "memory",
		"--seed", "pool:amm.token:100",
		"--artifact-dir", artifacts,
	})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result SubmitResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.NotEmpty(t, result.Artifact)

	// The ref resolves through the store to the archived outcome, and the
	// archived root matches the one the command reported.
	refBytes, err := hex.DecodeString(result.Artifact)
	require.NoError(t, err)
	var ref blob.Ref
	copy(ref[:], refBytes)

	store, err := blob.Open(context.Background(), blob.DriverFilesystem, artifacts)
	require.NoError(t, err)
	defer store.Close()

	stored, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	var archived struct {
		Intent string `json:"intent"`
		Root   string `json:"root"`
	}
	require.NoError(t, json.Unmarshal(stored, &archived))
	assert.Equal(t, result.Intent, archived.Intent)
	assert.Equal(t, result.Root, archived.Root)
}

func TestSubmitUnknownDomain(t *testing.T) {
	dir := writeManifest(t, goodManifest)
	intent := writeIntent(t, `{"name":"noop","inputs":[],"outputs":[],"timestamp":1}`)

	_, err := runSubmitCommand(t, []string{
		dir, "lending",
		"--intent", intent,
		"--store", "memory",
	})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSubmitUnbindableInputs(t *testing.T) {
	dir := writeManifest(t, goodManifest)
	domainHex := ir.Hex(ir.NewDomainID("amm"))
	intent := writeIntent(t, fmt.Sprintf(`{
		"name": "transfer",
		"inputs":  [{"resource_type":"amm.token","quantity":100,"domain_id":%q}],
		"outputs": [{"resource_type":"amm.token","quantity":100,"domain_id":%q}],
		"timestamp": 1
	}`, domainHex, domainHex))

	// No seeds: nothing can cover the input flow.
	_, err := runSubmitCommand(t, []string{
		dir, "amm",
		"--intent", intent,
		"--store", "memory",
	})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSubmitResumesCommittedState(t *testing.T) {
	manifests := writeManifest(t, goodManifest)
	dataDir := t.TempDir()
	domainHex := ir.Hex(ir.NewDomainID("amm"))
	intent := writeIntent(t, fmt.Sprintf(`{
		"name": "transfer",
		"priority": 0,
		"inputs":  [{"resource_type":"amm.token","quantity":100,"domain_id":%q}],
		"outputs": [{"resource_type":"amm.token","quantity":100,"domain_id":%q}],
		"timestamp": 1
	}`, domainHex, domainHex))

	submitOnce := func(seed string) SubmitResult {
		t.Helper()
		buf, err := runSubmitCommand(t, []string{
			manifests, "amm",
			"--intent", intent,
			"--store", "sqlite",
			"--data-dir", dataDir,
			"--seed", seed,
		})
		require.NoError(t, err)
		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		require.Equal(t, "ok", resp.Status)
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		var result SubmitResult
		require.NoError(t, json.Unmarshal(data, &result))
		return result
	}

	first := submitOnce("pool:amm.token:100")
	second := submitOnce("pool2:amm.token:100")
	assert.NotEqual(t, first.Root, second.Root)

	// Both invocations extend one journal; the second did not restart the
	// root history from an empty tree.
	store, journal, err := openBackend(context.Background(), &StoreOptions{Driver: "sqlite", DataDir: dataDir}, "amm")
	require.NoError(t, err)
	defer store.Close()

	records, err := journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(records), 2)
	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i].Seq, records[i-1].Seq)
	}
	roots := make([]string, 0, len(records))
	for _, rec := range records {
		roots = append(roots, rec.Root.Hex())
	}
	assert.Contains(t, roots, first.Root)
	assert.Contains(t, roots, second.Root)
}

func TestParseSeed(t *testing.T) {
	name, resourceType, quantity, err := parseSeed("pool:amm.token:1000")
	require.NoError(t, err)
	assert.Equal(t, "pool", name)
	assert.Equal(t, "amm.token", resourceType)
	assert.Equal(t, uint64(1000), quantity)

	_, _, _, err = parseSeed("pool:1000")
	require.Error(t, err)

	_, _, _, err = parseSeed("pool:amm.token:lots")
	require.Error(t, err)
}
