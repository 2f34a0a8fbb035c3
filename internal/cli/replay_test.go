package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedJournal runs one sqlite-backed submit so replay and status have a
// journal to walk.
func seedJournal(t *testing.T) (manifests, dataDir string) {
	t.Helper()
	manifests = writeManifest(t, goodManifest)
	dataDir = t.TempDir()
	intent := writeIntent(t, `{"name":"noop","inputs":[],"outputs":[],"timestamp":1}`)

	_, err := runSubmitCommand(t, []string{
		manifests, "amm",
		"--intent", intent,
		"--store", "sqlite",
		"--data-dir", dataDir,
	})
	require.NoError(t, err)
	return manifests, dataDir
}

func TestReplayVerifiesJournal(t *testing.T) {
	_, dataDir := seedJournal(t)

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"amm", "--store", "sqlite", "--data-dir", dataDir})
	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ReplayResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Records)
}

func TestReplayEmptyJournal(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"amm", "--store", "sqlite", "--data-dir", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatusReportsJournalHead(t *testing.T) {
	manifests, dataDir := seedJournal(t)

	buf := &bytes.Buffer{}
	cmd := NewStatusCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{manifests, "--store", "sqlite", "--data-dir", dataDir})
	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var statuses []DomainStatus
	require.NoError(t, json.Unmarshal(data, &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "amm", statuses[0].Domain)
	assert.Positive(t, statuses[0].Commits)
	assert.NotEmpty(t, statuses[0].Root)
}

func TestStatusFreshDomain(t *testing.T) {
	manifests := writeManifest(t, goodManifest)

	buf := &bytes.Buffer{}
	cmd := NewStatusCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{manifests, "--store", "sqlite", "--data-dir", t.TempDir()})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "no commits")
}
