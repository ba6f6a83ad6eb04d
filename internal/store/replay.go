package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
)

// FlowState summarizes a stored flow for recovery.
type FlowState struct {
	FlowID        string
	Context       ir.Document // latest snapshot, empty when none
	ContextHash   string
	HasContext    bool
	LastSeq       int64
	Batches       int
	FailedBatches int
	LastOutcome   string // outcome of the most recent batch, "" when none
}

// GetFlowState loads what a runtime needs to resume a flow: the latest
// context and the last sequence number handed out.
func (s *Store) GetFlowState(ctx context.Context, flowID string) (FlowState, error) {
	state := FlowState{FlowID: flowID, Context: ir.Document{}}

	snap, err := s.LatestContext(ctx, flowID)
	switch {
	case err == nil:
		state.Context = snap.Document
		state.ContextHash = snap.Hash
		state.HasContext = true
	case errors.Is(err, ErrNotFound):
	default:
		return state, fmt.Errorf("get flow state: %w", err)
	}

	if state.LastSeq, err = s.GetLastSeqForFlow(ctx, flowID); err != nil {
		return state, fmt.Errorf("get flow state: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0)
		FROM batches
		WHERE flow_id = ?
	`, flowID).Scan(&state.Batches, &state.FailedBatches)
	if err != nil {
		return state, fmt.Errorf("get flow state: count batches: %w", err)
	}

	if state.Batches > 0 {
		err = s.db.QueryRowContext(ctx, `
			SELECT outcome FROM batches
			WHERE flow_id = ?
			ORDER BY first_seq DESC, id COLLATE BINARY DESC
			LIMIT 1
		`, flowID).Scan(&state.LastOutcome)
		if err != nil {
			return state, fmt.Errorf("get flow state: last outcome: %w", err)
		}
	}

	return state, nil
}

// GetLastSeqForFlow returns the highest action seq journalled for a flow.
// Used to resume the dispatcher's logical clock.
func (s *Store) GetLastSeqForFlow(ctx context.Context, flowID string) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(a.seq), 0)
		FROM batch_actions a
		JOIN batches b ON a.batch_id = b.id
		WHERE b.flow_id = ?
	`, flowID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return maxSeq, nil
}

// ListFlowIDs returns all flow ids with snapshots or journal entries,
// ordered alphabetically.
func (s *Store) ListFlowIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow_id FROM context_snapshots
		UNION
		SELECT flow_id FROM batches
		ORDER BY flow_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list flow ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan flow id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow ids: %w", err)
	}
	return ids, nil
}
