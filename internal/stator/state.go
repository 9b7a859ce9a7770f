package stator

import "time"

// StateName identifies a state within one graph.
type StateName string

// State is a node in a state graph together with its timing policy.
type State struct {
	Name StateName

	// TryInterval is the minimum time between automatic attempts.
	// Zero for externally progressed and terminal states.
	TryInterval time.Duration

	// ForceInitial marks the entry state. Exactly one per graph.
	ForceInitial bool

	// ExternallyProgressed states are never scheduled by the engine.
	ExternallyProgressed bool

	// DeleteAfter, when positive, garbage-collects entities that have been
	// in this state for at least this long.
	DeleteAfter time.Duration

	// TimeoutAfter, when positive, forces TimeoutTarget once the entity has
	// been in this state for at least this long.
	TimeoutAfter  time.Duration
	TimeoutTarget StateName

	// DelayFirstAttempt stamps state_attempted on entry so the first attempt
	// waits a full TryInterval instead of running on the next cycle.
	DelayFirstAttempt bool
}

// HasTimeout reports whether the state declares a timeout.
func (s State) HasTimeout() bool {
	return s.TimeoutAfter > 0 && s.TimeoutTarget != ""
}

// TimedOut reports whether an entity that entered this state at changed has
// exceeded the state's timeout at now.
func (s State) TimedOut(changed, now time.Time) bool {
	return s.HasTimeout() && now.Sub(changed) >= s.TimeoutAfter
}

// Expired reports whether an entity that entered this state at changed is
// due for deletion at now.
func (s State) Expired(changed, now time.Time) bool {
	return s.DeleteAfter > 0 && now.Sub(changed) >= s.DeleteAfter
}
