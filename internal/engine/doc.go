// Package engine drives stator models: it repeatedly finds due entities,
// claims them with a lease, and runs each one step through its graph.
//
// ARCHITECTURE:
//
// Scheduling Cycle:
// One goroutine (Run or RunOnce) owns the cycle. Per registered model it
//  1. bulk-deletes entities parked in states with DeleteAfter long enough,
//  2. queries due entities, oldest attempt first, ties by id,
//  3. claims each with a conditional write on state_locked_until,
//  4. submits the claimed entity to the model's worker subpool.
//
// Entity Processing:
// A worker processes one claimed entity in this order:
//   - DeleteAfter elapsed: the entity is deleted, the handler is not called.
//   - TimeoutAfter elapsed: TimeoutTarget is forced, the handler is not called.
//   - Otherwise the state's handler runs and its Outcome is applied.
//
// Every write after the claim is conditional on the entity still being as it
// was claimed: same state, same state_changed, same lease. An external
// transition (stator.Perform) racing a handler wins but keeps the lease, so
// the entity is not claimed in its new state until the handler returns. The
// handler's write then matches zero rows, its outcome is dropped and the
// lease is released.
//
// Concurrency Caps:
// A global pond pool bounds in-flight handlers across all models and one
// subpool per model bounds each model. The cycle only claims as many
// entities as there is free capacity, so leases are never held by work
// sitting in a queue.
//
// ERROR HANDLING:
//
// No handler failure reaches the cycle. Errors and panics are logged with
// the model, entity id and state and recorded as a failed attempt, so the
// entity is retried after its TryInterval and stays visible through
// state_attempts.
package engine
