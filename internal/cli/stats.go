package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCalculateStatsCommand creates the calculatestats command.
func NewCalculateStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "calculatestats",
		Short: "Recount statistics for every local identity",
		Long: `Recount posts, followers and following for every local identity and store
the results. Remote identities are refreshed by their sync graph instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return calculateStats(cmd, rootOpts)
		},
	}
}

// StatsResult reports a calculatestats run.
type StatsResult struct {
	Identities int `json:"identities"`
}

func (r StatsResult) String() string {
	return fmt.Sprintf("Recalculated stats for %d local identities", r.Identities)
}

func calculateStats(cmd *cobra.Command, opts *RootOptions) (err error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, opts.Logger(cmd))
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	n, err := a.users.CalculateStats(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to calculate stats", err)
	}
	return opts.Output(cmd).Success(StatsResult{Identities: n})
}
