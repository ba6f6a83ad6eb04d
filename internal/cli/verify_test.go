package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowrt/internal/store"
)

func TestVerifyIntact(t *testing.T) {
	db := seedStore(t)

	out, err := execute(t, NewVerifyCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Verified 1 flow(s)")
	assert.Contains(t, out, "✓ merchant-1: 2 snapshot(s), 2 batch(es), 1 failed, last seq 4")
	assert.Contains(t, out, "✓ All flows intact")
}

func TestVerifyJSON(t *testing.T) {
	db := seedStore(t)

	out, err := execute(t, NewVerifyCommand(&RootOptions{Format: "json"}), "--db", db, "--flow", "merchant-1")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   VerifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllIntact)
	require.Len(t, resp.Data.Flows, 1)
	assert.Equal(t, int64(4), resp.Data.Flows[0].LastSeq)
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name    string
		stmt    string
		problem string
	}{
		{
			name:    "snapshot document edited",
			stmt:    `UPDATE context_snapshots SET document = '{"step":"forged"}' WHERE id = 1`,
			problem: "document hashes to",
		},
		{
			name:    "batch hash without snapshot",
			stmt:    `UPDATE batches SET context_hash = 'deadbeef' WHERE id = 'batch-1'`,
			problem: "matches no snapshot",
		},
		{
			name:    "sequence reordered",
			stmt:    `UPDATE batch_actions SET seq = 1 WHERE id = 'batch-2:4'`,
			problem: "does not follow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := seedStore(t)
			st, err := store.Open(db)
			require.NoError(t, err)
			_, err = st.DB().ExecContext(context.Background(), tt.stmt)
			require.NoError(t, err)
			require.NoError(t, st.Close())

			out, err := execute(t, NewVerifyCommand(&RootOptions{Format: "text"}), "--db", db)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, tt.problem)
			assert.Contains(t, out, "✗ Integrity check failed")
		})
	}
}

func TestVerifyTamperingJSON(t *testing.T) {
	db := seedStore(t)
	st, err := store.Open(db)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(context.Background(), `UPDATE context_snapshots SET hash = 'bad'`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, NewVerifyCommand(&RootOptions{Format: "json"}), "--db", db)
	require.Error(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   VerifyResult `json:"data"`
		Error  CLIError     `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeIntegrity, resp.Error.Code)
	assert.False(t, resp.Data.AllIntact)
}

func TestVerifyEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, NewVerifyCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No flows found in database.")
}

func TestVerifyMissingDatabase(t *testing.T) {
	_, err := execute(t, NewVerifyCommand(&RootOptions{Format: "text"}), "--db", "/nonexistent/flow.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
