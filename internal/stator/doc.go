// Package stator describes the state graphs that drive persisted entities
// through their lifecycles.
//
// A Graph is static metadata: states, the transitions between them, and the
// timing policy of each state (try interval, timeout, expiry). A Model binds
// a graph to the table its entities live in and to a handler dispatch table
// keyed by state name. Models are collected in a Registry that is built at
// process start and handed to the engine; there is no global registry.
//
// # Timing Policy
//
//   - TryInterval: minimum time between automatic attempts while in a state.
//   - ExternallyProgressed: the state is only left by an explicit domain
//     action (see Perform); the engine never schedules it.
//   - DeleteAfter: entities sitting in the state longer than this are deleted.
//   - TimeoutAfter/TimeoutTarget: the engine forces TimeoutTarget once the
//     entity has been in the state this long, without invoking the handler.
//
// # Validation
//
// Build rejects graphs with zero or multiple initial states, transitions to
// undeclared states, unreachable states, automatic states without a try
// interval, and terminal states with timing that could never apply.
// NewModel rejects handler tables that do not match the graph: a handler on
// an externally progressed or terminal state, or a missing handler for an
// automatic state.
package stator
