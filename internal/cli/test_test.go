package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

func TestTestCommand_Scenarios(t *testing.T) {
	out, err := execute(t, "test", scenariosDir, "--golden", "../harness/testdata/golden", "--format", "json")
	require.NoError(t, err, out)

	var result TestResult
	decodeResponse(t, out, &result)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 4, result.Passed)
	golden := map[string]string{}
	for _, s := range result.Scenarios {
		golden[s.Name] = s.Golden
	}
	assert.Equal(t, "match", golden["quote_rollback"])
	assert.Equal(t, "match", golden["emergency_order"])
	assert.Equal(t, "missing", golden["reception_variance"])
}

func TestTestCommand_FilterAndUpdate(t *testing.T) {
	goldenDir := t.TempDir()
	out, err := execute(t, "test", scenariosDir, "--filter", "quote_*", "--golden", goldenDir, "--update", "--format", "json")
	require.NoError(t, err, out)

	var result TestResult
	decodeResponse(t, out, &result)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "updated", result.Scenarios[0].Golden)

	written, err := os.ReadFile(filepath.Join(goldenDir, "quote_rollback.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/quote_rollback.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	goldenDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "quote_rollback.golden"), []byte("{}"), 0o644))

	out, err := execute(t, "test", scenariosDir, "--filter", "quote_*", "--golden", goldenDir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeTestFailed, decodeResponse(t, out, nil).Error.Code)
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`name: wrong
steps:
  - create: {id: q-1, type: quote, actor: alice}
  - transition: {document: q-1, to: Approved, actor: carol}
`), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "expected ok, got INVALID_TRANSITION")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", "no/such/dir")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
