package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/flowrt/internal/ir"
)

// createTestStore opens a store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBatch builds a journal entry with one action per type.
func createTestBatch(batchID, flowID, outcome string, firstSeq int64, types ...string) ir.BatchRecord {
	rec := ir.BatchRecord{BatchID: batchID, FlowID: flowID, Outcome: outcome}
	for i, typ := range types {
		seq := firstSeq + int64(i)
		rec.Actions = append(rec.Actions, ir.ActionRecord{
			ID:      batchID + "/" + typ,
			Seq:     seq,
			Type:    typ,
			Payload: map[string]any{"n": float64(seq)},
			Outcome: ir.OutcomeOK,
		})
	}
	return rec
}
