package stator

import (
	"fmt"
	"time"
)

// Graph is an immutable state graph. Construct with NewGraph and Build.
type Graph struct {
	name    string
	initial StateName
	order   []StateName
	states  map[StateName]State
	edges   map[StateName][]StateName
}

// GraphBuilder accumulates states and transitions before validation.
type GraphBuilder struct {
	name   string
	states []State
	edges  [][2]StateName
}

// NewGraph starts a graph definition.
func NewGraph(name string) *GraphBuilder {
	return &GraphBuilder{name: name}
}

// State declares a state. Declaration order is preserved for rendering and
// for the order of LegalTransitions.
func (b *GraphBuilder) State(s State) *GraphBuilder {
	b.states = append(b.states, s)
	return b
}

// Transition declares from -> to for every target.
func (b *GraphBuilder) Transition(from StateName, to ...StateName) *GraphBuilder {
	for _, t := range to {
		b.edges = append(b.edges, [2]StateName{from, t})
	}
	return b
}

// Build validates the definition and returns the graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	g := &Graph{
		name:   b.name,
		states: make(map[StateName]State, len(b.states)),
		edges:  make(map[StateName][]StateName, len(b.states)),
	}

	for _, s := range b.states {
		if _, dup := g.states[s.Name]; dup {
			return nil, g.invalid(ErrCodeDuplicateState, s.Name, "state declared twice")
		}
		g.states[s.Name] = s
		g.order = append(g.order, s.Name)
		if s.ForceInitial {
			if g.initial != "" {
				return nil, g.invalid(ErrCodeMultipleInitial, s.Name,
					fmt.Sprintf("%s is already the initial state", g.initial))
			}
			g.initial = s.Name
		}
	}
	if g.initial == "" {
		return nil, g.invalid(ErrCodeNoInitial, "", "no state is marked ForceInitial")
	}

	for _, e := range b.edges {
		if err := g.addEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	// Timeouts are implicit transitions.
	for _, name := range g.order {
		s := g.states[name]
		if s.TimeoutAfter == 0 && s.TimeoutTarget == "" {
			continue
		}
		if s.TimeoutAfter <= 0 || s.TimeoutTarget == "" {
			return nil, g.invalid(ErrCodeBadTimeout, name, "timeout needs both a duration and a target")
		}
		if err := g.addEdge(name, s.TimeoutTarget); err != nil {
			return nil, err
		}
	}

	for _, name := range g.order {
		s := g.states[name]
		terminal := g.IsTerminal(name)
		switch {
		case terminal && (s.TryInterval > 0 || s.HasTimeout()):
			return nil, g.invalid(ErrCodeTerminalTiming, name, "terminal state cannot retry or time out")
		case !terminal && !s.ExternallyProgressed && s.TryInterval <= 0:
			return nil, g.invalid(ErrCodeMissingInterval, name, "automatic state needs a positive TryInterval")
		case s.ExternallyProgressed && s.HasTimeout():
			return nil, g.invalid(ErrCodeBadTimeout, name, "externally progressed states are never scheduled, so cannot time out")
		}
	}

	if err := g.checkReachable(); err != nil {
		return nil, err
	}

	return g, nil
}

// MustBuild is Build for package-level graph definitions.
func (b *GraphBuilder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Graph) addEdge(from, to StateName) error {
	if _, ok := g.states[from]; !ok {
		return g.invalid(ErrCodeUndeclaredState, from, fmt.Sprintf("transition source (-> %s) is not declared", to))
	}
	if _, ok := g.states[to]; !ok {
		return g.invalid(ErrCodeUndeclaredState, to, fmt.Sprintf("transition target (from %s) is not declared", from))
	}
	for _, existing := range g.edges[from] {
		if existing == to {
			return nil
		}
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// checkReachable walks the graph from the initial state. Cycles are fine.
func (g *Graph) checkReachable() error {
	seen := map[StateName]bool{g.initial: true}
	frontier := []StateName{g.initial}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, next := range g.edges[cur] {
			if !seen[next] {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	for _, name := range g.order {
		if !seen[name] {
			return g.invalid(ErrCodeUnreachableState, name, "state cannot be reached from "+string(g.initial))
		}
	}
	return nil
}

func (g *Graph) invalid(code ValidationCode, state StateName, msg string) *ValidationError {
	return &ValidationError{Graph: g.name, Code: code, State: state, Message: msg}
}

// Name returns the graph name, which is also the model name.
func (g *Graph) Name() string { return g.name }

// Initial returns the entry state.
func (g *Graph) Initial() StateName { return g.initial }

// State returns the state metadata for name.
func (g *Graph) State(name StateName) (State, bool) {
	s, ok := g.states[name]
	return s, ok
}

// States returns all states in declaration order.
func (g *Graph) States() []State {
	out := make([]State, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.states[name])
	}
	return out
}

// LegalTransitions returns the states reachable from name in one step.
func (g *Graph) LegalTransitions(name StateName) []StateName {
	out := make([]StateName, len(g.edges[name]))
	copy(out, g.edges[name])
	return out
}

// CanTransition reports whether from -> to is declared.
func (g *Graph) CanTransition(from, to StateName) bool {
	for _, t := range g.edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an IllegalTransitionError unless from -> to is declared.
func (g *Graph) CheckTransition(from, to StateName) error {
	if !g.CanTransition(from, to) {
		return &IllegalTransitionError{Graph: g.name, From: from, To: to}
	}
	return nil
}

// IsTerminal reports whether name has no outgoing transitions.
func (g *Graph) IsTerminal(name StateName) bool {
	return len(g.edges[name]) == 0
}

// IsAutomatic reports whether the engine retries name's handler.
func (g *Graph) IsAutomatic(name StateName) bool {
	s, ok := g.states[name]
	return ok && !s.ExternallyProgressed && !g.IsTerminal(name)
}

// DueRule is the scheduling policy of one automatic state, in the shape the
// entity store needs to select due rows.
type DueRule struct {
	State        StateName
	TryInterval  time.Duration
	TimeoutAfter time.Duration
}

// DueRules returns one rule per automatic state, in declaration order.
func (g *Graph) DueRules() []DueRule {
	var rules []DueRule
	for _, name := range g.order {
		if !g.IsAutomatic(name) {
			continue
		}
		s := g.states[name]
		rule := DueRule{State: name, TryInterval: s.TryInterval}
		if s.HasTimeout() {
			rule.TimeoutAfter = s.TimeoutAfter
		}
		rules = append(rules, rule)
	}
	return rules
}

// ExpiringStates returns states that declare DeleteAfter, in declaration order.
func (g *Graph) ExpiringStates() []State {
	var out []State
	for _, name := range g.order {
		if s := g.states[name]; s.DeleteAfter > 0 {
			out = append(out, s)
		}
	}
	return out
}
