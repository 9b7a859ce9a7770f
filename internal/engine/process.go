package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avaraline/incarnator/internal/stator"
)

// process runs one claimed entity one step through its graph. Every path
// ends with the lease released, either by the write that records the result
// or explicitly when that write finds the entity changed underneath it.
func (r *Runner) process(ctx context.Context, m *stator.Model, st stator.Status) {
	now := r.clock.Now()
	state, ok := m.Graph().State(st.State)
	if !ok {
		// Only reachable if the table holds a state the graph no longer declares.
		r.logger.Error("entity in undeclared state",
			"model", m.Name(),
			"entity_id", st.ID,
			"state", st.State,
		)
		r.release(ctx, m, st)
		return
	}

	if state.Expired(st.Changed, now) {
		if err := r.store.DeleteEntity(ctx, m.Table(), st.ID); err != nil {
			r.logger.Error("delete failed", "model", m.Name(), "entity_id", st.ID, "error", err)
			r.release(ctx, m, st)
			return
		}
		deleted.WithLabelValues(m.Name()).Inc()
		r.logger.Debug("entity deleted", "model", m.Name(), "entity_id", st.ID, "state", st.State)
		return
	}

	if state.TimedOut(st.Changed, now) {
		r.transition(ctx, m, st, state.TimeoutTarget, now, true)
		return
	}

	handler := m.HandlerFor(st.State)
	if handler == nil {
		r.logger.Error("no handler for due state", "model", m.Name(), "entity_id", st.ID, "state", st.State)
		r.release(ctx, m, st)
		return
	}

	out, err := r.invoke(ctx, m, st, handler)
	done := r.clock.Now()
	if err != nil {
		label := "error"
		if IsPanic(err) {
			label = "panic"
		}
		handled.WithLabelValues(m.Name(), label).Inc()
		r.logger.Error("handler failed",
			"model", m.Name(),
			"entity_id", st.ID,
			"state", st.State,
			"attempts", st.Attempts+1,
			"error", err,
		)
		r.recordAttempt(ctx, m, st, done, true)
		return
	}

	handled.WithLabelValues(m.Name(), out.Kind.String()).Inc()
	switch out.Kind {
	case stator.OutcomeTransition:
		r.transition(ctx, m, st, out.To, done, false)
	case stator.OutcomeDefer:
		r.recordAttempt(ctx, m, st, done, false)
	default:
		r.recordAttempt(ctx, m, st, done, true)
	}
}

// invoke calls the handler inside a span, converting errors and panics into
// a HandlerError.
func (r *Runner) invoke(ctx context.Context, m *stator.Model, st stator.Status, h stator.Handler) (out stator.Outcome, err error) {
	ctx, span := r.tracer.Start(ctx, "stator."+m.Name()+"."+string(st.State),
		trace.WithAttributes(
			attribute.String("stator.model", m.Name()),
			attribute.String("stator.entity_id", st.ID),
			attribute.String("stator.state", string(st.State)),
			attribute.Int("stator.attempts", st.Attempts),
			attribute.String("stator.worker_id", r.workerID),
		))
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic",
				"model", m.Name(),
				"entity_id", st.ID,
				"state", st.State,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err = &HandlerError{Model: m.Name(), EntityID: st.ID, State: st.State, Err: fmt.Errorf("%v", p), Panic: true}
		}
		handlerSeconds.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("stator.outcome", out.Kind.String()))
		}
		span.End()
	}()

	out, err = h(ctx, st.ID)
	if err != nil {
		return stator.Outcome{}, &HandlerError{Model: m.Name(), EntityID: st.ID, State: st.State, Err: err}
	}
	return out, nil
}

// transition applies a move out of the claimed state. An undeclared target
// counts as a failed attempt. A lost compare-and-swap means the entity was
// moved or re-entered while the handler ran; the outcome is dropped and the
// lease released so the entity is picked up in its new state.
func (r *Runner) transition(ctx context.Context, m *stator.Model, st stator.Status, to stator.StateName, now time.Time, forced bool) {
	if err := m.Graph().CheckTransition(st.State, to); err != nil {
		r.logger.Error("handler returned illegal transition",
			"model", m.Name(),
			"entity_id", st.ID,
			"from_state", st.State,
			"to_state", to,
			"error", err,
		)
		r.recordAttempt(ctx, m, st, now, true)
		return
	}

	ok, err := r.store.TransitionClaimed(ctx, m.Table(), st, to, now, stator.EntryAttempted(m.Graph(), to, now))
	if err != nil {
		r.logger.Error("transition failed",
			"model", m.Name(),
			"entity_id", st.ID,
			"from_state", st.State,
			"to_state", to,
			"error", err,
		)
		r.release(ctx, m, st)
		return
	}
	if !ok {
		r.logger.Debug("transition lost to a concurrent change",
			"model", m.Name(),
			"entity_id", st.ID,
			"from_state", st.State,
			"to_state", to,
		)
		r.release(ctx, m, st)
		return
	}

	transitions.WithLabelValues(m.Name(), string(st.State), string(to), strconv.FormatBool(forced)).Inc()
	if forced {
		r.logger.Info("state timed out",
			"model", m.Name(),
			"entity_id", st.ID,
			"from_state", st.State,
			"to_state", to,
		)
		return
	}
	r.logger.Debug("state transition",
		"model", m.Name(),
		"entity_id", st.ID,
		"from_state", st.State,
		"to_state", to,
	)
}

// recordAttempt stamps the attempt. When the entity changed while the
// handler ran, the attempt belongs to an entry that no longer exists and
// only the lease is released.
func (r *Runner) recordAttempt(ctx context.Context, m *stator.Model, st stator.Status, now time.Time, countFailure bool) {
	ok, err := r.store.RecordAttempt(ctx, m.Table(), st, now, countFailure)
	if err != nil {
		r.logger.Error("record attempt failed", "model", m.Name(), "entity_id", st.ID, "error", err)
		r.release(ctx, m, st)
		return
	}
	if !ok {
		r.logger.Debug("attempt superseded by a concurrent change", "model", m.Name(), "entity_id", st.ID, "state", st.State)
		r.release(ctx, m, st)
	}
}

func (r *Runner) release(ctx context.Context, m *stator.Model, st stator.Status) {
	if err := r.store.Release(ctx, m.Table(), st.ID, st.LockedUntil); err != nil {
		r.logger.Error("release failed", "model", m.Name(), "entity_id", st.ID, "error", err)
	}
}
