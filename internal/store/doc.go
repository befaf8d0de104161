// Package store provides a SQLite-backed journal of lowering runs.
//
// Each run records the source and target graph hashes, the pass settings
// and every committed target node as canonical JSON, so a later run of the
// same source at the same opset can be compared against it.
//
// # Critical Patterns
//
// Append-only:
//   - Rows are inserted by RecordRun in a single transaction and never updated
//
// Logical ordering:
//   - Runs are ordered by seq INTEGER, assigned at insert, NEVER by started_at
//   - Nodes and failures are ordered by their position in the pass
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
