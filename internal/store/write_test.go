package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

func TestWriteContext_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := ir.Document{
		"entity": map[string]any{"data": map[string]any{"name": "Shop", "rank": 3.0}},
		"tags":   []any{"a", "b"},
	}
	require.NoError(t, s.WriteContext(ctx, "flow-1", 1, doc))

	snap, err := s.LatestContext(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "flow-1", snap.FlowID)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, doc, snap.Document)
	assert.Equal(t, ir.MustDocumentHash(doc), snap.Hash)
}

func TestLatestContext_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LatestContext(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestContextHistory_InsertionOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Versions restart after a process restart; history follows insertion order.
	require.NoError(t, s.WriteContext(ctx, "f", 1, ir.Document{"step": "a"}))
	require.NoError(t, s.WriteContext(ctx, "f", 2, ir.Document{"step": "b"}))
	require.NoError(t, s.WriteContext(ctx, "f", 1, ir.Document{"step": "c"}))
	require.NoError(t, s.WriteContext(ctx, "other", 1, ir.Document{"step": "x"}))

	history, err := s.ContextHistory(ctx, "f")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "a", history[0].Document["step"])
	assert.Equal(t, "c", history[2].Document["step"])

	latest, err := s.LatestContext(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.Document["step"])

	empty, err := s.ContextHistory(ctx, "none")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestContextPersister_WithMachine(t *testing.T) {
	s := createTestStore(t)
	m := machine.New(nil, ir.UIState{}, machine.WithPersister(s.ContextPersister("flow-m")))

	m.SetContext(ir.Document{"foo": 1.0})
	m.SetContext(ir.Document{"foo": 2.0})

	history, err := s.ContextHistory(context.Background(), "flow-m")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].Version)
	assert.Equal(t, uint64(2), history[1].Version)
	assert.Equal(t, 2.0, history[1].Document["foo"])
}

func TestRecordBatch_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestBatch("b1", "flow-1", ir.OutcomeOK, 1, "api", "event")
	rec.ContextHash = "hash-1"
	require.NoError(t, s.RecordBatch(ctx, rec))

	got, err := s.ReadBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, int64(1), got.FirstSeq())
}

func TestRecordBatch_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestBatch("b1", "flow-1", ir.OutcomeOK, 1, "api")
	require.NoError(t, s.RecordBatch(ctx, rec))
	require.NoError(t, s.RecordBatch(ctx, rec), "second write is a no-op")

	batches, err := s.ReadBatches(ctx, "flow-1")
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestRecordBatch_FailedWithDropped(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := ir.BatchRecord{
		BatchID: "b-fail",
		FlowID:  "flow-1",
		Outcome: ir.OutcomeFailed,
		Error:   "boom",
		Actions: []ir.ActionRecord{
			{ID: "x1", Seq: 4, Type: "api", Outcome: ir.OutcomeOK},
			{ID: "x2", Seq: 5, Type: "plugin", Outcome: ir.OutcomeFailed, Error: "boom"},
			{ID: "x3", Seq: 6, Type: "event", Outcome: ir.OutcomeDropped},
		},
	}
	require.NoError(t, s.RecordBatch(ctx, rec))

	got, err := s.ReadBatch(ctx, "b-fail")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRecordBatch_RejectsInvalid(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.RecordBatch(ctx, ir.BatchRecord{}), "empty batch id")

	bad := createTestBatch("b-bad", "flow-1", "maybe", 1, "api")
	assert.Error(t, s.RecordBatch(ctx, bad), "outcome outside the CHECK constraint")

	_, err := s.ReadBatch(ctx, "b-bad")
	assert.True(t, errors.Is(err, ErrNotFound), "failed transaction leaves nothing behind")
}
