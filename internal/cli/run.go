package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/avaraline/incarnator/internal/engine"
	"github.com/avaraline/incarnator/internal/remote"
)

// dnsRefreshInterval is how often cached remote hosts are re-resolved while
// the stator runs.
const dnsRefreshInterval = 5 * time.Minute

// RunStatorOptions holds flags for the runstator command.
type RunStatorOptions struct {
	*RootOptions
	Once   bool
	RunFor int
}

// NewRunStatorCommand creates the runstator command.
func NewRunStatorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunStatorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runstator",
		Short: "Run the state graph workers",
		Long: `Run the stator: repeatedly find entities that are due in every state graph,
claim them and run their state handlers, until interrupted.

Example:
  incarnator runstator --config /etc/incarnator.yaml
  incarnator runstator --once --verbose
  incarnator runstator --run-for 300

Send SIGHUP to start the next scheduling cycle immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStator(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single scheduling cycle and exit")
	cmd.Flags().IntVar(&opts.RunFor, "run-for", -1, "stop after this many seconds (0 runs forever; default from config)")

	return cmd
}

func runStator(cmd *cobra.Command, opts *RunStatorOptions) (err error) {
	logger := opts.Logger(cmd)
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if opts.RunFor >= 0 {
		cfg.Stator.RunForSeconds = opts.RunFor
	}

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	runner := engine.New(a.store, a.registry,
		engine.WithLogger(logger),
		engine.WithConcurrency(cfg.Stator.Concurrency, cfg.Stator.ConcurrencyPerModel),
		engine.WithBatchSize(cfg.Stator.BatchSize),
		engine.WithLease(cfg.Stator.Lease()),
		engine.WithScheduleInterval(cfg.Stator.ScheduleInterval()),
		engine.WithRunFor(cfg.Stator.RunFor()),
		engine.WithLivenessFile(cfg.Stator.LivenessFile),
	)
	defer runner.Close()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Once {
		runner.RunOnce(ctx)
		logger.Info("stator cycle complete", "worker_id", runner.WorkerID())
		return nil
	}

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, logger)
		defer shutdownMetrics(srv, logger)
	}
	go refreshDNS(ctx, a.client)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go wakeOn(ctx, hup, runner, logger)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "stator error", err)
	}
	logger.Info("stator stopped gracefully")
	return nil
}

// serveMetrics exposes the Prometheus registry on addr until shut down.
func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "listen", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "listen", addr, "error", err)
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
}

// waker is the part of engine.Runner that wakeOn needs.
type waker interface {
	Wake()
}

// wakeOn starts a scheduling cycle early whenever a signal arrives, so a
// process that has just created due entities can send SIGHUP instead of
// waiting out the schedule interval.
func wakeOn(ctx context.Context, sigs <-chan os.Signal, w waker, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			logger.Debug("waking stator", "signal", sig.String())
			w.Wake()
		}
	}
}

// refreshDNS keeps the remote client's DNS cache fresh, dropping hosts that
// were not contacted since the previous refresh.
func refreshDNS(ctx context.Context, client *remote.Client) {
	ticker := time.NewTicker(dnsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.RefreshDNS(true)
		}
	}
}
