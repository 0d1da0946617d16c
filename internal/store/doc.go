// Package store provides SQLite-backed storage for simulation runs.
//
// The store keeps:
//   - Runs: one row per executed scenario, with its telemetry digest
//   - Events: the full telemetry stream of every run
//   - Outcomes: adversarial harness results per attack candidate
//
// # Critical Patterns
//
// Logical ordering:
//   - Events are keyed and ordered by (run_id, seq), NEVER by timestamps
//   - Outcomes carry their own seq so archive order survives restarts
//
// Idempotency:
//   - Event and outcome inserts use ON CONFLICT DO NOTHING, so replaying a
//     telemetry file into the store twice is harmless
//   - A retained candidate re-runs under its old id; its outcomes differ by seq
//
// # Database Configuration
//
// Set per connection through the driver DSN:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
