// Package store provides SQLite-backed durable storage for stateful entities.
//
// Every graph-driven table carries the same scheduling columns (state,
// state_changed, state_attempted, state_attempts, state_locked_until), and
// the generic methods in stator.go operate on any of them by table name.
//
// # Coordination
//
// The store is the only shared mutable resource between workers. All
// coordination is a single conditional UPDATE:
//   - Claim: sets state_locked_until only when the row is still in the
//     expected state and its lease is absent or expired
//   - Handler writes (transition, attempt bookkeeping): apply only when the
//     row still has the claimed state, state_changed and lease, and clear
//     the lease
//   - External transitions: compare-and-swap on state and state_changed,
//     leaving any lease in place
//   - Release: clears the lease only if it is still the one being released
//
// # Determinism
//
//   - Due queries order by state_attempted (NULL first), then id
//   - Timestamps are stored as INTEGER unix milliseconds (UTC)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
