package stator

import (
	"context"
	"fmt"
	"time"
)

// Status is the scheduling view of one persisted entity. Zero times stand
// for NULL columns.
type Status struct {
	ID          string
	State       StateName
	Changed     time.Time
	Attempted   time.Time
	Attempts    int
	LockedUntil time.Time
}

// Locked reports whether a lease is held at now.
func (s Status) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && s.LockedUntil.After(now)
}

// Clock supplies wall-clock time to the engine and to handlers.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Transitioner is the storage the Perform helper needs.
type Transitioner interface {
	LoadStatus(ctx context.Context, table, id string) (Status, error)
	// CompareAndTransition moves an entity to to provided it still has
	// from's state and change time. Any lease is left in place.
	CompareAndTransition(ctx context.Context, table, id string, from Status, to StateName, now, attempted time.Time) (bool, error)
}

// EntryAttempted returns the state_attempted value for an entity entering
// state at now: zero (due immediately) unless the state delays its first
// attempt.
func EntryAttempted(g *Graph, state StateName, now time.Time) time.Time {
	if s, ok := g.State(state); ok && s.DelayFirstAttempt {
		return now
	}
	return time.Time{}
}

// Perform moves an entity to state on behalf of domain code (an accepted
// follow request, a re-armed hashtag). The transition must be declared by
// the graph. Performing the state the entity is already in re-enters it
// when the state is automatic, so a handler already running against the
// old entry loses its write and the work is redone; otherwise it is a
// no-op.
//
// A lease held by a running handler is kept: the entity is not claimed in
// its new state until that handler has finished.
func Perform(ctx context.Context, t Transitioner, m *Model, id string, to StateName, now time.Time) error {
	current, err := t.LoadStatus(ctx, m.Table(), id)
	if err != nil {
		return fmt.Errorf("perform %s on %s %s: %w", to, m.Name(), id, err)
	}
	if current.State == to {
		if !m.Graph().IsAutomatic(to) {
			return nil
		}
	} else if err := m.Graph().CheckTransition(current.State, to); err != nil {
		return err
	}

	changed := enteredAt(current, now)
	ok, err := t.CompareAndTransition(ctx, m.Table(), id, current, to, changed, EntryAttempted(m.Graph(), to, changed))
	if err != nil {
		return fmt.Errorf("perform %s on %s %s: %w", to, m.Name(), id, err)
	}
	if !ok {
		return fmt.Errorf("perform %s on %s %s: %w", to, m.Name(), id, ErrConflict)
	}
	return nil
}

// enteredAt is the change time for a new entry into a state: now, but
// always later than the previous entry at the millisecond resolution
// change times are stored with, so the two entries stay distinguishable.
func enteredAt(current Status, now time.Time) time.Time {
	if floor := current.Changed.Truncate(time.Millisecond).Add(time.Millisecond); now.Before(floor) {
		return floor
	}
	return now
}
