// Package store provides SQLite-backed durable storage for flow contexts and
// the batch journal.
//
// Two record kinds are kept:
//   - Context snapshots: the full context after every write-back, stored as
//     canonical JSON with its hash
//   - Batches: one row per processed batch plus one row per action, with the
//     outcome of each (ok, failed or dropped)
//
// Ordering never uses wall time. Snapshots are ordered by insertion id;
// batches by the sequence number of their first action, ties broken by
// batch id. Every journal query orders explicitly.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Store.ContextPersister satisfies machine.Persister and Store satisfies
// engine.Recorder.
package store
