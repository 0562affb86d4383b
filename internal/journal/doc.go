// Package journal provides SQLite-backed bookkeeping for dispatch batches.
//
// The git logs remain the system of record; the journal is an append-only
// audit trail answering "what did the engine do, and when":
//   - Batches: one row per engine pass over a project (bootstrap, no-op,
//     published or failed), keyed by a UUIDv7 batch ID
//   - Directives: the outcome of every dispatched command, in dispatch order
//   - Publishes: every commit/push attempt per log, including failures
//
// Rows inside a batch are ordered by the engine's logical seq counter, never
// by wall-clock time. Batches are ordered by insertion.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package journal
