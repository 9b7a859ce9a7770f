package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/avaraline/incarnator/internal/config"
	"github.com/avaraline/incarnator/internal/stator"
)

// NewGraphsCommand creates the graphs command.
func NewGraphsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graphs [model]",
		Short: "Describe the state graphs",
		Long: `Print every state graph with its states, timings and legal transitions.
Does not read the configuration or open the database.

Example:
  incarnator graphs
  incarnator graphs follow --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showGraphs(cmd, rootOpts, args)
		},
	}
}

// graphList renders as one Describe block per graph.
type graphList []*stator.Model

func (g graphList) RenderText(w io.Writer) error {
	for i, m := range g {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "# table %s\n", m.Table()); err != nil {
			return err
		}
		if err := m.Graph().Describe(w); err != nil {
			return err
		}
	}
	return nil
}

func (g graphList) MarshalJSON() ([]byte, error) {
	sums := make([]stator.GraphSummary, len(g))
	for i, m := range g {
		sums[i] = m.Summary()
	}
	return json.Marshal(sums)
}

func showGraphs(cmd *cobra.Command, opts *RootOptions, args []string) error {
	cfg := config.Default()
	svcs, err := newServices(&cfg, servicesDeps{}, slog.New(slog.DiscardHandler))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build graphs", err)
	}
	defer svcs.Close()

	list := graphList(svcs.registry.Models())
	if len(args) == 1 {
		m, ok := svcs.registry.Lookup(args[0])
		if !ok {
			names := make([]string, len(list))
			for i, m := range list {
				names[i] = m.Name()
			}
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown model %q: must be one of %v", args[0], names))
		}
		list = graphList{m}
	}
	return opts.Output(cmd).Success(list)
}
