package stator

import (
	"fmt"
	"io"
	"strings"
)

// GraphSummary is the serializable description of a graph.
type GraphSummary struct {
	Name    string         `json:"name"`
	Table   string         `json:"table,omitempty"`
	Initial StateName      `json:"initial"`
	States  []StateSummary `json:"states"`
}

// StateSummary describes one state. Durations are whole seconds.
type StateSummary struct {
	Name              StateName   `json:"name"`
	Initial           bool        `json:"initial,omitempty"`
	External          bool        `json:"externally_progressed,omitempty"`
	Terminal          bool        `json:"terminal,omitempty"`
	TryInterval       int64       `json:"try_interval,omitempty"`
	DeleteAfter       int64       `json:"delete_after,omitempty"`
	TimeoutAfter      int64       `json:"timeout_seconds,omitempty"`
	TimeoutTarget     StateName   `json:"timeout_target,omitempty"`
	DelayFirstAttempt bool        `json:"delay_first_attempt,omitempty"`
	Transitions       []StateName `json:"transitions"`
}

// Summary returns the serializable description of the graph.
func (g *Graph) Summary() GraphSummary {
	sum := GraphSummary{Name: g.name, Initial: g.initial}
	for _, s := range g.States() {
		sum.States = append(sum.States, StateSummary{
			Name:              s.Name,
			Initial:           s.ForceInitial,
			External:          s.ExternallyProgressed,
			Terminal:          g.IsTerminal(s.Name),
			TryInterval:       int64(s.TryInterval.Seconds()),
			DeleteAfter:       int64(s.DeleteAfter.Seconds()),
			TimeoutAfter:      int64(s.TimeoutAfter.Seconds()),
			TimeoutTarget:     s.TimeoutTarget,
			DelayFirstAttempt: s.DelayFirstAttempt,
			Transitions:       g.LegalTransitions(s.Name),
		})
	}
	return sum
}

// Summary describes the model's graph together with its table.
func (m *Model) Summary() GraphSummary {
	sum := m.graph.Summary()
	sum.Table = m.table
	return sum
}

// Describe writes a human-readable rendering of the graph.
func (g *Graph) Describe(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "graph %s (initial: %s)\n", g.name, g.initial); err != nil {
		return err
	}
	for _, s := range g.Summary().States {
		var attrs []string
		switch {
		case s.Terminal:
			attrs = append(attrs, "terminal")
		case s.External:
			attrs = append(attrs, "external")
		default:
			attrs = append(attrs, fmt.Sprintf("try=%ds", s.TryInterval))
		}
		if s.TimeoutAfter > 0 {
			attrs = append(attrs, fmt.Sprintf("timeout=%ds->%s", s.TimeoutAfter, s.TimeoutTarget))
		}
		if s.DeleteAfter > 0 {
			attrs = append(attrs, fmt.Sprintf("delete_after=%ds", s.DeleteAfter))
		}
		if s.DelayFirstAttempt {
			attrs = append(attrs, "delayed")
		}
		if _, err := fmt.Fprintf(w, "  %s [%s]\n", s.Name, strings.Join(attrs, " ")); err != nil {
			return err
		}
		for _, to := range s.Transitions {
			if _, err := fmt.Fprintf(w, "    -> %s\n", to); err != nil {
				return err
			}
		}
	}
	return nil
}
