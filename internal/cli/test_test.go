package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../harness/testdata/scenarios"

func TestTestCommand_GoldenPass(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "test", scenarioDir, "--golden", "../harness/testdata/golden")
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS  basic_sync")
	assert.Contains(t, out, "0 failed")
}

func TestTestCommand_JSONAndFilter(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "test", scenarioDir, "--filter", "update_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "update_then_delete", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Pass)
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	env := newTestEnv(t)
	golden := filepath.Join(env.dir, "golden")

	_, err := env.run(t, "test", filepath.Join(scenarioDir, "basic_sync.yaml"), "--golden", golden, "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(golden, "basic_sync.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/basic_sync.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	require.NoError(t, os.WriteFile(filepath.Join(golden, "basic_sync.golden"), []byte("{}"), 0o644))
	out, err := env.run(t, "test", filepath.Join(scenarioDir, "basic_sync.yaml"), "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "snapshot differs")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: bad
steps:
  - ingest: []
expect:
  horizon: 1
`), 0o644))

	out, err := env.run(t, "test", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL  bad")
	assert.Contains(t, out, "empty_batch")
}

func TestTestCommand_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "test", filepath.Join(env.dir, "nope"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run(t, "test", scenarioDir, "--update")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	path := filepath.Join(env.dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nbogus: 1\n"), 0o644))
	_, err = env.run(t, "test", path)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
