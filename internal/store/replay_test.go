package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowrt/internal/ir"
)

func TestGetFlowState_Empty(t *testing.T) {
	s := createTestStore(t)

	state, err := s.GetFlowState(context.Background(), "new")
	require.NoError(t, err)
	assert.False(t, state.HasContext)
	assert.Equal(t, ir.Document{}, state.Context)
	assert.Zero(t, state.LastSeq)
	assert.Zero(t, state.Batches)
	assert.Empty(t, state.LastOutcome)
}

func TestGetFlowState_Resume(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteContext(ctx, "f", 1, ir.Document{"foo": 1.0}))
	require.NoError(t, s.RecordBatch(ctx, createTestBatch("b1", "f", ir.OutcomeOK, 1, "api", "event")))
	require.NoError(t, s.RecordBatch(ctx, createTestBatch("b2", "f", ir.OutcomeFailed, 3, "plugin")))

	state, err := s.GetFlowState(ctx, "f")
	require.NoError(t, err)
	assert.True(t, state.HasContext)
	assert.Equal(t, 1.0, state.Context["foo"])
	assert.Equal(t, int64(3), state.LastSeq)
	assert.Equal(t, 2, state.Batches)
	assert.Equal(t, 1, state.FailedBatches)
	assert.Equal(t, ir.OutcomeFailed, state.LastOutcome)
}

func TestListFlowIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteContext(ctx, "beta", 1, ir.Document{}))
	require.NoError(t, s.RecordBatch(ctx, createTestBatch("b1", "alpha", ir.OutcomeOK, 1, "api")))
	require.NoError(t, s.WriteContext(ctx, "alpha", 1, ir.Document{}))

	ids, err := s.ListFlowIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}
