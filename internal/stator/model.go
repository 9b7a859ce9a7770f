package stator

import (
	"context"
	"fmt"
)

// Handler advances one entity from its current state. It receives the
// entity's primary key and loads whatever it needs itself; a returned error
// is treated as NoChange by the engine.
type Handler func(ctx context.Context, id string) (Outcome, error)

// Handlers is a dispatch table keyed by state.
type Handlers map[StateName]Handler

// Model binds a graph to its entity table and handler dispatch table.
type Model struct {
	graph    *Graph
	table    string
	handlers Handlers
}

// NewModel checks handlers against the graph: every automatic state needs a
// handler, and nothing else may have one.
func NewModel(table string, g *Graph, handlers Handlers) (*Model, error) {
	for name := range handlers {
		s, ok := g.State(name)
		switch {
		case !ok:
			return nil, g.invalid(ErrCodeUndeclaredState, name, "handler registered for undeclared state")
		case s.ExternallyProgressed:
			return nil, g.invalid(ErrCodeHandlerOnExternal, name, "externally progressed states cannot have a handler")
		case g.IsTerminal(name):
			return nil, g.invalid(ErrCodeHandlerOnTerminal, name, "terminal states cannot have a handler")
		}
	}
	for _, rule := range g.DueRules() {
		if handlers[rule.State] == nil {
			return nil, g.invalid(ErrCodeMissingHandler, rule.State, "automatic state has no handler")
		}
	}

	copied := make(Handlers, len(handlers))
	for k, v := range handlers {
		copied[k] = v
	}
	return &Model{graph: g, table: table, handlers: copied}, nil
}

// MustModel is NewModel for wiring code where a mismatch is a programming error.
func MustModel(table string, g *Graph, handlers Handlers) *Model {
	m, err := NewModel(table, g, handlers)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the model name (the graph name).
func (m *Model) Name() string { return m.graph.Name() }

// Table returns the entity table.
func (m *Model) Table() string { return m.table }

// Graph returns the model's graph.
func (m *Model) Graph() *Graph { return m.graph }

// HandlerFor returns the handler for state, or nil when the state is not
// automatic.
func (m *Model) HandlerFor(state StateName) Handler {
	return m.handlers[state]
}

// Registry is the set of models the engine schedules, in registration order.
type Registry struct {
	models []*Model
	byName map[string]*Model
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Model)}
}

// Register adds models. Model names must be unique.
func (r *Registry) Register(models ...*Model) error {
	for _, m := range models {
		if _, dup := r.byName[m.Name()]; dup {
			return &ValidationError{
				Graph:   m.Name(),
				Code:    ErrCodeDuplicateModel,
				Message: fmt.Sprintf("model %s registered twice", m.Name()),
			}
		}
		r.byName[m.Name()] = m
		r.models = append(r.models, m)
	}
	return nil
}

// Models returns registered models in registration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, len(r.models))
	copy(out, r.models)
	return out
}

// Lookup returns the model called name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	m, ok := r.byName[name]
	return m, ok
}
