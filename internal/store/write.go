package store

import (
	"context"
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
)

// WriteContext appends a context snapshot for a flow.
//
// The document is stored as canonical JSON next to its hash, so identical
// contexts always produce identical rows.
func (s *Store) WriteContext(ctx context.Context, flowID string, version uint64, doc ir.Document) error {
	docJSON, err := marshalDocument(doc)
	if err != nil {
		return fmt.Errorf("write context: %w", err)
	}
	hash, err := ir.DocumentHash(doc)
	if err != nil {
		return fmt.Errorf("write context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context_snapshots (flow_id, version, hash, document)
		VALUES (?, ?, ?, ?)
	`, flowID, version, hash, docJSON)
	if err != nil {
		return fmt.Errorf("write context: %w", err)
	}
	return nil
}

// ContextPersister binds the store to one flow. It satisfies
// machine.Persister.
type ContextPersister struct {
	store  *Store
	flowID string
}

// ContextPersister returns a persister writing snapshots for flowID.
func (s *Store) ContextPersister(flowID string) *ContextPersister {
	return &ContextPersister{store: s, flowID: flowID}
}

// PersistContext writes a snapshot.
func (p *ContextPersister) PersistContext(doc ir.Document, version uint64) error {
	return p.store.WriteContext(context.Background(), p.flowID, version, doc)
}

// RecordBatch journals a processed batch and its actions in one transaction.
// Uses ON CONFLICT DO NOTHING: recording the same batch twice is a no-op.
func (s *Store) RecordBatch(ctx context.Context, rec ir.BatchRecord) (err error) {
	if rec.BatchID == "" {
		return fmt.Errorf("record batch: empty batch id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record batch: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO batches (id, flow_id, first_seq, outcome, error, context_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.BatchID, rec.FlowID, rec.FirstSeq(), rec.Outcome, rec.Error, rec.ContextHash)
	if err != nil {
		return fmt.Errorf("record batch %s: %w", rec.BatchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	for _, a := range rec.Actions {
		payload, err := marshalPayload(a.Payload)
		if err != nil {
			return fmt.Errorf("record batch %s: %w", rec.BatchID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO batch_actions (id, batch_id, seq, type, payload, outcome, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.ID, rec.BatchID, a.Seq, a.Type, payload, a.Outcome, a.Error)
		if err != nil {
			return fmt.Errorf("record batch %s: action %d: %w", rec.BatchID, a.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record batch %s: commit: %w", rec.BatchID, err)
	}
	return nil
}
