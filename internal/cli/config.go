package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avaraline/incarnator/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Long: `Load the configuration named by --config, apply INCARNATOR_* environment
overrides and validate the result against the schema. Every problem found is
reported.

Example:
  incarnator config check --config incarnator.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig(cmd, rootOpts)
		},
	})
	return cmd
}

// ConfigResult reports a valid configuration.
type ConfigResult struct {
	Path   string         `json:"path"`
	Config *config.Config `json:"config"`
}

func (r ConfigResult) String() string {
	return fmt.Sprintf("%s: OK (database %s, concurrency %d/%d)",
		r.Path, r.Config.Database, r.Config.Stator.Concurrency, r.Config.Stator.ConcurrencyPerModel)
}

func checkConfig(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("invalid config %s", opts.ConfigPath), err)
	}
	return opts.Output(cmd).Success(ConfigResult{Path: opts.ConfigPath, Config: cfg})
}
