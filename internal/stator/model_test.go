package stator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, string) (Outcome, error) { return NoChange, nil }

func handshakeGraph() *Graph {
	return NewGraph("handshake").
		State(State{Name: "requested", TryInterval: time.Minute, ForceInitial: true}).
		State(State{Name: "pending", ExternallyProgressed: true}).
		State(State{Name: "accepting", TryInterval: time.Hour, DelayFirstAttempt: true}).
		State(State{Name: "accepted"}).
		Transition("requested", "pending", "accepting").
		Transition("pending", "accepting").
		Transition("accepting", "accepted").
		MustBuild()
}

func TestNewModel(t *testing.T) {
	g := handshakeGraph()

	m, err := NewModel("follows", g, Handlers{"requested": noop, "accepting": noop})
	require.NoError(t, err)
	assert.Equal(t, "handshake", m.Name())
	assert.Equal(t, "follows", m.Table())
	assert.NotNil(t, m.HandlerFor("requested"))
	assert.Nil(t, m.HandlerFor("pending"))
}

func TestNewModel_Rejects(t *testing.T) {
	g := handshakeGraph()

	tests := []struct {
		name     string
		handlers Handlers
		code     ValidationCode
	}{
		{"missing handler", Handlers{"requested": noop}, ErrCodeMissingHandler},
		{"handler on external state", Handlers{"requested": noop, "accepting": noop, "pending": noop}, ErrCodeHandlerOnExternal},
		{"handler on terminal state", Handlers{"requested": noop, "accepting": noop, "accepted": noop}, ErrCodeHandlerOnTerminal},
		{"handler on undeclared state", Handlers{"requested": noop, "accepting": noop, "bogus": noop}, ErrCodeUndeclaredState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel("follows", g, tt.handlers)
			require.Error(t, err)
			assert.True(t, HasValidationCode(err, tt.code), "got %v", err)
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := MustModel("a_rows", deliveryGraph().MustBuild(), Handlers{sending: noop})
	b := MustModel("b_rows", handshakeGraph(), Handlers{"requested": noop, "accepting": noop})

	require.NoError(t, reg.Register(a, b))

	got, ok := reg.Lookup("handshake")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, []*Model{a, b}, reg.Models())

	err := reg.Register(a)
	assert.True(t, HasValidationCode(err, ErrCodeDuplicateModel))
}

type transitionCall struct {
	from               Status
	to                 StateName
	changed, attempted time.Time
}

type fakeTransitioner struct {
	status    Status
	loadErr   error
	casResult bool
	calls     []transitionCall
}

func (f *fakeTransitioner) LoadStatus(context.Context, string, string) (Status, error) {
	return f.status, f.loadErr
}

func (f *fakeTransitioner) CompareAndTransition(_ context.Context, _, _ string, from Status, to StateName, changed, attempted time.Time) (bool, error) {
	f.calls = append(f.calls, transitionCall{from: from, to: to, changed: changed, attempted: attempted})
	return f.casResult, nil
}

func TestPerform(t *testing.T) {
	m := MustModel("follows", handshakeGraph(), Handlers{"requested": noop, "accepting": noop})
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("legal transition", func(t *testing.T) {
		f := &fakeTransitioner{status: Status{ID: "f1", State: "pending", Changed: now.Add(-time.Hour)}, casResult: true}
		require.NoError(t, Perform(ctx, f, m, "f1", "accepting", now))
		require.Len(t, f.calls, 1)
		assert.Equal(t, StateName("pending"), f.calls[0].from.State)
		assert.Equal(t, now.Add(-time.Hour), f.calls[0].from.Changed)
		assert.Equal(t, now, f.calls[0].changed)
		// accepting delays its first attempt
		assert.Equal(t, now, f.calls[0].attempted)
	})

	t.Run("illegal transition", func(t *testing.T) {
		f := &fakeTransitioner{status: Status{ID: "f1", State: "requested"}, casResult: true}
		err := Perform(ctx, f, m, "f1", "accepted", now)
		assert.True(t, IsIllegalTransition(err))
		assert.Empty(t, f.calls)
	})

	t.Run("already in a waiting state", func(t *testing.T) {
		f := &fakeTransitioner{status: Status{ID: "f1", State: "accepted"}}
		require.NoError(t, Perform(ctx, f, m, "f1", "accepted", now))
		assert.Empty(t, f.calls)
	})

	t.Run("already in an automatic state re-enters it", func(t *testing.T) {
		f := &fakeTransitioner{status: Status{ID: "f1", State: "accepting", Changed: now, Attempts: 3}, casResult: true}
		require.NoError(t, Perform(ctx, f, m, "f1", "accepting", now))
		require.Len(t, f.calls, 1)
		assert.Equal(t, StateName("accepting"), f.calls[0].to)
		// The clock has not moved, but the new entry must still be later.
		assert.Equal(t, now.Add(time.Millisecond), f.calls[0].changed)
		assert.Equal(t, now.Add(time.Millisecond), f.calls[0].attempted)
	})

	t.Run("lost race", func(t *testing.T) {
		f := &fakeTransitioner{status: Status{ID: "f1", State: "pending"}, casResult: false}
		err := Perform(ctx, f, m, "f1", "accepting", now)
		assert.True(t, errors.Is(err, ErrConflict))
	})

	t.Run("load error", func(t *testing.T) {
		boom := errors.New("boom")
		f := &fakeTransitioner{loadErr: boom}
		err := Perform(ctx, f, m, "f1", "accepting", now)
		assert.ErrorIs(t, err, boom)
	})
}

func TestEntryAttempted(t *testing.T) {
	g := handshakeGraph()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	assert.True(t, EntryAttempted(g, "requested", now).IsZero())
	assert.Equal(t, now, EntryAttempted(g, "accepting", now))
}

func TestOutcomes(t *testing.T) {
	assert.Equal(t, OutcomeNoChange, NoChange.Kind)
	assert.Equal(t, OutcomeDefer, Defer.Kind)
	out := TransitionTo("accepted")
	assert.Equal(t, OutcomeTransition, out.Kind)
	assert.Equal(t, StateName("accepted"), out.To)
	assert.Equal(t, "defer", OutcomeDefer.String())
}
