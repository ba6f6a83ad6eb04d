package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowrt/internal/actions"
	"github.com/roach88/flowrt/internal/ir"
)

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(100)
	assert.Equal(t, int64(100), c.Current(), "clock should resume at the journal's last seq")
	assert.Equal(t, int64(101), c.Next())
	assert.Equal(t, int64(101), c.Current())
}

// A second dispatcher for the same flow picks up after the highest seq the
// first one journaled, so seqs stay strictly increasing across restarts.
func TestClock_ResumesFromJournal(t *testing.T) {
	rec := &memRecorder{}
	first, _ := newTestDispatcher(t, nil, []actions.Handler{appendHandler("step")}, WithRecorder(rec))
	first.Dispatch(tagged("step", "A"))
	first.Dispatch(tagged("step", "B"))
	_, err := first.ProcessPending(context.Background())
	require.NoError(t, err)

	var lastSeq int64
	for _, r := range rec.records {
		for _, a := range r.Actions {
			lastSeq = max(lastSeq, a.Seq)
		}
	}
	require.Equal(t, int64(2), lastSeq)

	second, _ := newTestDispatcher(t, nil, []actions.Handler{appendHandler("step")},
		WithRecorder(rec), WithClock(NewClockAt(lastSeq)))
	seq, ok := second.Submit(tagged("step", "C"))
	require.True(t, ok)
	assert.Equal(t, int64(3), seq)

	_, err = second.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.records, 2)
	assert.Equal(t, int64(3), rec.records[1].Actions[0].Seq)
}

// Submit reports the seq each caller's own action got, even when callers
// race, and the batch runs the actions in that seq order.
func TestClock_ConcurrentSubmitReportsOwnSeq(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, []actions.Handler{appendHandler("step")})
	const callers = 50

	var mu sync.Mutex
	bySeq := make(map[int64]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := fmt.Sprintf("c%d", i)
			seq, ok := d.Submit(tagged("step", tag))
			assert.True(t, ok)
			mu.Lock()
			bySeq[seq] = tag
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	require.Len(t, bySeq, callers, "every seq is unique")

	res, err := d.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Actions, callers)

	seqs := make([]int64, len(res.Actions))
	for i, a := range res.Actions {
		seqs[i] = a.Seq
		assert.Equal(t, bySeq[a.Seq], a.PayloadString("tag"), "seq %d belongs to another caller", a.Seq)
	}
	assert.True(t, sort.SliceIsSorted(seqs, func(i, j int) bool { return seqs[i] < seqs[j] }))
	assert.Equal(t, int64(callers), d.Clock().Current())
}

func TestClock_RejectedDispatchDoesNotAdvance(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	d.Submit(ir.Action{Type: "step"})
	d.Stop()

	seq, ok := d.Submit(ir.Action{Type: "step"})
	assert.False(t, ok)
	assert.Zero(t, seq)
	assert.Equal(t, int64(1), d.Clock().Current())
}
