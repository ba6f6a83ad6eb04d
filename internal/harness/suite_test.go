package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingScenario = `
name: ping
flow:
  - dispatch:
      - type: event
        payload: {eventName: PING}
  - process: true
    expect: {outcome: ok}
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.yaml", pingScenario)
	writeScenario(t, dir, "a.yml", pingScenario)
	writeScenario(t, dir, "nested/c.yaml", pingScenario)
	writeScenario(t, dir, "golden/ignored.yaml", pingScenario)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested/c.yaml"),
	}, files)

	files, err = FindScenarios(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, files)

	_, err = FindScenarios(dir, "[")
	assert.Error(t, err)
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t, filepath.Join("x", "golden", "ping.golden"), GoldenPath(filepath.Join("x", "ping.yaml")))
}

func TestRunFile_UpdateThenMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "ping.yaml", pingScenario)

	out := RunFile(path, SuiteOptions{})
	assert.True(t, out.Pass, out.Errors)
	assert.Empty(t, out.Golden)

	out = RunFile(path, SuiteOptions{Update: true})
	assert.True(t, out.Pass, out.Errors)
	assert.Equal(t, GoldenUpdated, out.Golden)
	assert.FileExists(t, GoldenPath(path))

	out = RunFile(path, SuiteOptions{})
	assert.True(t, out.Pass, out.Errors)
	assert.Equal(t, GoldenMatch, out.Golden)
}

func TestRunFile_Mismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "ping.yaml", pingScenario)
	writeScenario(t, dir, "golden/ping.golden", `{"scenario_name":"ping","trace":[]}`)

	out := RunFile(path, SuiteOptions{})
	assert.False(t, out.Pass)
	assert.Equal(t, GoldenMismatch, out.Golden)
	assert.Contains(t, out.Errors, "trace does not match golden file (run with --update to regenerate)")
}

func TestRunFile_LoadError(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out := RunFile(path, SuiteOptions{})
	assert.False(t, out.Pass)
	assert.Equal(t, "broken.yaml", out.Name)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "failed to load scenario")
}

func TestRunSuite_Tallies(t *testing.T) {
	dir := t.TempDir()
	good := writeScenario(t, dir, "good.yaml", pingScenario)
	bad := writeScenario(t, dir, "bad.yaml", `
name: bad
flow:
  - process: true
    expect: {outcome: ok}
`)

	res := RunSuite([]string{good, bad}, SuiteOptions{})
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "ping", res.Scenarios[0].Name)
	assert.False(t, res.Scenarios[1].Pass)
}
