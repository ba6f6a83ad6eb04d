package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidDefinitions(t *testing.T) {
	for _, name := range []string{"store-info.yaml", "review.cue"} {
		t.Run(name, func(t *testing.T) {
			out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}),
				filepath.Join(definitionsDir, name))
			require.NoError(t, err)
			assert.Contains(t, out, "is valid (1 pages)")
		})
	}
}

func TestValidateJSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}),
		filepath.Join(definitionsDir, "store-info.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Pages)
}

func TestValidateUnknownPlugin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin.yaml")
	def := `
pages:
  - stateName: start
    actions:
      - type: plugin
        payload: {pluginName: score}
`
	require.NoError(t, os.WriteFile(path, []byte(def), 0o644))

	// Without --plugin the plugin name is not checked.
	_, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.NoError(t, err)

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), path, "--plugin", "stamp")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  CLIError         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, "E222", resp.Error.Code)
}

func TestValidateUnknownActionType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "action.yaml")
	def := `
pages:
  - stateName: start
    actions:
      - type: email
`
	require.NoError(t, os.WriteFile(path, []byte(def), 0o644))

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Contains(t, out, "E221")

	_, err = execute(t, NewValidateCommand(&RootOptions{Format: "text"}), path,
		"--action-type", "email")
	require.NoError(t, err)
}

func TestValidateNonExistentFile(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/flow.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, out, "not found")
}
