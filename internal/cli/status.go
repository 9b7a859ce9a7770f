package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/avaraline/incarnator/internal/store"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how many entities sit in each state",
		Long: `For every state graph, count entities per state together with the most
attempts any of them has made and how many are currently claimed by a worker.

Example:
  incarnator status
  incarnator status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd, rootOpts)
		},
	}
}

// ModelStatus is the state breakdown of one model.
type ModelStatus struct {
	Model  string             `json:"model"`
	Table  string             `json:"table"`
	States []store.StateCount `json:"states"`
}

// statusReport renders as one aligned table.
type statusReport []ModelStatus

func (r statusReport) RenderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSTATE\tCOUNT\tMAX ATTEMPTS\tLOCKED")
	for _, m := range r {
		if len(m.States) == 0 {
			fmt.Fprintf(tw, "%s\t-\t0\t0\t0\n", m.Model)
			continue
		}
		for _, c := range m.States {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", m.Model, c.State, c.Count, c.MaxAttempts, c.Locked)
		}
	}
	return tw.Flush()
}

func showStatus(cmd *cobra.Command, opts *RootOptions) (err error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, opts.Logger(cmd))
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	now := time.Now()
	report := statusReport{}
	for _, m := range a.registry.Models() {
		counts, err := a.store.StateCounts(cmd.Context(), m.Table(), now)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to count states", err)
		}
		report = append(report, ModelStatus{Model: m.Name(), Table: m.Table(), States: counts})
	}
	return opts.Output(cmd).Success(report)
}
