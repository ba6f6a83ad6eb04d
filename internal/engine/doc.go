// Package engine implements the action dispatcher.
//
// Actions are dispatched fire-and-forget onto an unbounded FIFO queue and
// processed in batches. A batch is everything queued when the batch starts:
//
//  1. Drain the queue and move to ProcessingBatch.
//  2. Read the context once through machine.API.
//  3. Run each action's handler in enqueue order, threading the context
//     returned by one handler into the next.
//  4. On success write the final context back once. On failure drop the
//     rest of the batch, leave the context untouched and return a
//     *BatchError.
//  5. Return to Idle.
//
// At most one batch runs at a time. Actions dispatched while a batch runs
// stay queued for the next one.
//
// Every action is stamped with a sequence number from the logical Clock at
// dispatch time. Batches carry generated ids (UUIDv7 by default) and, with a
// Recorder, are journalled with the canonical hash of the resulting context.
package engine
