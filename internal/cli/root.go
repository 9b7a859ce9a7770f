package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/avaraline/incarnator/internal/config"
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "incarnator.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// LoadConfig reads the file named by --config.
func (o *RootOptions) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to load config %s", o.ConfigPath), err)
	}
	return cfg, nil
}

// Logger returns a logger for diagnostics on cmd's error stream.
func (o *RootOptions) Logger(cmd *cobra.Command) *slog.Logger {
	return NewLogger(cmd.ErrOrStderr(), o.Format, o.Verbose)
}

// Output returns a formatter for cmd's output stream.
func (o *RootOptions) Output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// NewRootCommand creates the root command for the incarnator CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are written to stderr in the selected format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	format := opts.Format
	if !slices.Contains(ValidFormats, format) {
		format = "text"
	}
	out := &OutputFormatter{Format: format, Writer: stderr}
	if werr := out.Error(err); werr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "incarnator",
		Short: "incarnator - federated server background processing",
		Long: `Runs and inspects the state graphs that drive incarnator's background work:
hashtag statistics, push notifications, post interaction fan-out, follows,
blocks and remote identity sync.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to the YAML or CUE configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunStatorCommand(opts))
	cmd.AddCommand(NewGraphsCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCalculateStatsCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd, opts
}
