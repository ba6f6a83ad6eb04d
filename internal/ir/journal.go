package ir

// Batch and action outcomes recorded in the journal.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// BatchRecord is the journal entry of one processed batch.
//
// Records carry no wall-clock time; batches are ordered by the sequence
// number of their first action.
type BatchRecord struct {
	BatchID     string         `json:"batch_id"`
	FlowID      string         `json:"flow_id,omitempty"`
	Outcome     string         `json:"outcome"`
	Error       string         `json:"error,omitempty"`
	ContextHash string         `json:"context_hash,omitempty"`
	Actions     []ActionRecord `json:"actions"`
}

// ActionRecord is the journal entry of one action within a batch.
type ActionRecord struct {
	ID      string         `json:"id"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	Outcome string         `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

// FirstSeq returns the sequence number of the batch's first action.
func (b BatchRecord) FirstSeq() int64 {
	if len(b.Actions) == 0 {
		return 0
	}
	return b.Actions[0].Seq
}
