package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Snapshot is one stored context version.
type Snapshot struct {
	ID       int64       `json:"id"`
	FlowID   string      `json:"flow_id"`
	Version  uint64      `json:"version"`
	Hash     string      `json:"hash"`
	Document ir.Document `json:"document"`
}

// LatestContext returns the most recent snapshot of a flow, or ErrNotFound.
func (s *Store) LatestContext(ctx context.Context, flowID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, version, hash, document
		FROM context_snapshots
		WHERE flow_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, flowID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("latest context for flow %q: %w", flowID, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest context: %w", err)
	}
	return snap, nil
}

// ContextHistory returns every snapshot of a flow, oldest first.
// Returns an empty slice (not nil) when the flow has none.
func (s *Store) ContextHistory(ctx context.Context, flowID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, version, hash, document
		FROM context_snapshots
		WHERE flow_id = ?
		ORDER BY id ASC
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var snap Snapshot
	var docJSON string
	if err := row.Scan(&snap.ID, &snap.FlowID, &snap.Version, &snap.Hash, &docJSON); err != nil {
		return Snapshot{}, err
	}
	doc, err := unmarshalDocument(docJSON)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %d: %w", snap.ID, err)
	}
	snap.Document = doc
	return snap, nil
}

// ReadBatches returns the journal of a flow.
// Results are ordered deterministically: ORDER BY first_seq ASC, id ASC COLLATE BINARY.
func (s *Store) ReadBatches(ctx context.Context, flowID string) ([]ir.BatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, outcome, error, context_hash
		FROM batches
		WHERE flow_id = ?
		ORDER BY first_seq ASC, id COLLATE BINARY ASC
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}

	records := []ir.BatchRecord{}
	for rows.Next() {
		var rec ir.BatchRecord
		if err := rows.Scan(&rec.BatchID, &rec.FlowID, &rec.Outcome, &rec.Error, &rec.ContextHash); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	// Close before the per-batch queries: the pool has a single connection.
	rows.Close()

	for i := range records {
		actions, err := s.readBatchActions(ctx, records[i].BatchID)
		if err != nil {
			return nil, err
		}
		records[i].Actions = actions
	}
	return records, nil
}

// ReadBatch returns one journal entry, or ErrNotFound.
func (s *Store) ReadBatch(ctx context.Context, batchID string) (ir.BatchRecord, error) {
	var rec ir.BatchRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, outcome, error, context_hash
		FROM batches
		WHERE id = ?
	`, batchID).Scan(&rec.BatchID, &rec.FlowID, &rec.Outcome, &rec.Error, &rec.ContextHash)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.BatchRecord{}, fmt.Errorf("batch %q: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return ir.BatchRecord{}, fmt.Errorf("read batch: %w", err)
	}

	actions, err := s.readBatchActions(ctx, batchID)
	if err != nil {
		return ir.BatchRecord{}, err
	}
	rec.Actions = actions
	return rec, nil
}

func (s *Store) readBatchActions(ctx context.Context, batchID string) ([]ir.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, type, payload, outcome, error
		FROM batch_actions
		WHERE batch_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch actions: %w", err)
	}
	defer rows.Close()

	actions := []ir.ActionRecord{}
	for rows.Next() {
		var a ir.ActionRecord
		var payload string
		if err := rows.Scan(&a.ID, &a.Seq, &a.Type, &payload, &a.Outcome, &a.Error); err != nil {
			return nil, fmt.Errorf("scan batch action: %w", err)
		}
		if a.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, fmt.Errorf("batch %s action %d: %w", batchID, a.Seq, err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch actions: %w", err)
	}
	return actions, nil
}
