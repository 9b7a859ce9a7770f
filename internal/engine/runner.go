package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/avaraline/incarnator/internal/stator"
)

// Defaults for Runner options.
const (
	DefaultConcurrency         = 20
	DefaultConcurrencyPerModel = 4
	DefaultBatchSize           = 50
	DefaultLease               = 5 * time.Minute
	DefaultScheduleInterval    = time.Second
)

// EntityStore is the durable storage the runner coordinates through. Every
// method is a single statement; conditional writes are the only form of
// locking.
type EntityStore interface {
	stator.Transitioner
	QueryDue(ctx context.Context, table string, rules []stator.DueRule, asOf time.Time, limit int) ([]stator.Status, error)
	TryClaim(ctx context.Context, table, id string, state stator.StateName, now, until time.Time) (bool, error)
	Release(ctx context.Context, table, id string, until time.Time) error
	RecordAttempt(ctx context.Context, table string, claimed stator.Status, now time.Time, countFailure bool) (bool, error)
	TransitionClaimed(ctx context.Context, table string, claimed stator.Status, to stator.StateName, now, attempted time.Time) (bool, error)
	DeleteEntity(ctx context.Context, table, id string) error
	DeleteExpired(ctx context.Context, table string, state stator.StateName, changedBefore, now time.Time) (int64, error)
}

// Runner schedules every model in a registry against one entity store.
//
// Thread-safety model:
//   - Run(), RunOnce(): at most one of them at a time per Runner
//   - Wake(): safe from any goroutine
//   - Handlers: run concurrently on pool workers, bounded by the caps
type Runner struct {
	store    EntityStore
	models   []*modelWorker
	logger   *slog.Logger
	clock    stator.Clock
	tracer   trace.Tracer
	workerID string

	batchSize        int
	lease            time.Duration
	scheduleInterval time.Duration
	runFor           time.Duration
	livenessFile     string
	concurrency      int
	perModel         int

	pool     pond.Pool
	inflight *atomic.Int64
	active   sync.WaitGroup
	wake     *wakeSignal
}

// modelWorker is the per-model scheduling state.
type modelWorker struct {
	model    *stator.Model
	rules    []stator.DueRule
	expiring []stator.State
	pool     pond.Pool
	inflight *atomic.Int64
}

// RunnerOption allows configuration of runner parameters.
type RunnerOption func(*Runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithClock sets the wall clock used for due checks and state timestamps.
// Tests pass a fake clock; production uses stator.SystemClock.
func WithClock(c stator.Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithTracer sets the tracer for handler spans. Default: the global
// otel tracer provider.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = t
	}
}

// WithBatchSize caps how many due entities are queried per model per cycle.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		r.batchSize = n
	}
}

// WithLease sets how long a claim holds an entity. It must cover the slowest
// handler; a crashed worker's claims become due again once it expires.
func WithLease(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.lease = d
	}
}

// WithScheduleInterval sets the idle delay between cycles.
func WithScheduleInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.scheduleInterval = d
	}
}

// WithRunFor makes Run return after d. Zero runs until the context ends.
func WithRunFor(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.runFor = d
	}
}

// WithLivenessFile makes every cycle write the current unix time to path,
// for external health checks.
func WithLivenessFile(path string) RunnerOption {
	return func(r *Runner) {
		r.livenessFile = path
	}
}

// WithConcurrency sets the global and per-model caps on in-flight handlers.
func WithConcurrency(global, perModel int) RunnerOption {
	return func(r *Runner) {
		r.concurrency = global
		r.perModel = perModel
	}
}

// New creates a Runner for every model in reg.
func New(s EntityStore, reg *stator.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:            s,
		logger:           slog.Default(),
		clock:            stator.SystemClock{},
		tracer:           otel.Tracer("incarnator/stator"),
		workerID:         uuid.NewString(),
		batchSize:        DefaultBatchSize,
		lease:            DefaultLease,
		scheduleInterval: DefaultScheduleInterval,
		concurrency:      DefaultConcurrency,
		perModel:         DefaultConcurrencyPerModel,
		inflight:         atomic.NewInt64(0),
		wake:             newWakeSignal(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	if r.perModel < 1 || r.perModel > r.concurrency {
		r.perModel = r.concurrency
	}

	r.pool = pond.NewPool(r.concurrency)
	for _, m := range reg.Models() {
		r.models = append(r.models, &modelWorker{
			model:    m,
			rules:    m.Graph().DueRules(),
			expiring: m.Graph().ExpiringStates(),
			pool:     r.pool.NewSubpool(r.perModel),
			inflight: atomic.NewInt64(0),
		})
	}
	return r
}

// WorkerID identifies this runner in logs and spans.
func (r *Runner) WorkerID() string {
	return r.workerID
}

// Wake requests an immediate cycle from a running Run loop.
// Thread-safe: may be called from any goroutine.
func (r *Runner) Wake() {
	r.wake.notify()
}

// Run schedules cycles until ctx is cancelled or the RunFor duration has
// elapsed, then waits for in-flight handlers and returns.
//
// ERROR HANDLING: storage errors during a cycle are logged and the loop
// continues; the next cycle simply tries again.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("stator starting",
		"worker_id", r.workerID,
		"models", len(r.models),
		"concurrency", r.concurrency,
		"concurrency_per_model", r.perModel,
	)
	started := r.clock.Now()

	ticker := time.NewTicker(r.scheduleInterval)
	defer ticker.Stop()

	for {
		if r.runFor > 0 && r.clock.Now().Sub(started) >= r.runFor {
			r.logger.Info("stator stopping: run time elapsed", "run_for", r.runFor)
			r.active.Wait()
			return nil
		}

		r.cycle(ctx)
		r.touchLiveness()

		select {
		case <-ctx.Done():
			r.logger.Info("stator stopping: context cancelled")
			r.active.Wait()
			return nil
		case <-r.wake.wait():
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single cycle and waits for every handler it started.
func (r *Runner) RunOnce(ctx context.Context) {
	r.cycle(ctx)
	r.touchLiveness()
	r.active.Wait()
}

// Close stops the worker pools after in-flight handlers finish.
func (r *Runner) Close() {
	r.active.Wait()
	r.pool.StopAndWait()
}

// cycle performs one scheduling pass over every model.
// Called only from Run() or RunOnce().
func (r *Runner) cycle(ctx context.Context) {
	for _, w := range r.models {
		if ctx.Err() != nil {
			return
		}
		r.deleteExpired(ctx, w)
		r.schedule(ctx, w)
	}
}

// deleteExpired bulk-deletes entities whose state has a DeleteAfter that
// has elapsed. Locked rows are left for the worker holding them.
func (r *Runner) deleteExpired(ctx context.Context, w *modelWorker) {
	for _, s := range w.expiring {
		now := r.clock.Now()
		n, err := r.store.DeleteExpired(ctx, w.model.Table(), s.Name, now.Add(-s.DeleteAfter), now)
		if err != nil {
			r.logger.Error("delete expired failed",
				"model", w.model.Name(),
				"state", s.Name,
				"error", err,
			)
			continue
		}
		if n > 0 {
			deleted.WithLabelValues(w.model.Name()).Add(float64(n))
			r.logger.Debug("deleted expired entities",
				"model", w.model.Name(),
				"state", s.Name,
				"count", n,
			)
		}
	}
}

// schedule claims up to the free capacity of due entities and hands them
// to the model's subpool.
func (r *Runner) schedule(ctx context.Context, w *modelWorker) {
	free := r.freeSlots(w)
	if free <= 0 || len(w.rules) == 0 {
		return
	}
	limit := min(free, r.batchSize)

	now := r.clock.Now()
	due, err := r.store.QueryDue(ctx, w.model.Table(), w.rules, now, limit)
	if err != nil {
		r.logger.Error("query due failed", "model", w.model.Name(), "error", err)
		return
	}

	for _, st := range due {
		until := now.Add(r.lease)
		ok, err := r.store.TryClaim(ctx, w.model.Table(), st.ID, st.State, now, until)
		if err != nil {
			r.logger.Error("claim failed",
				"model", w.model.Name(),
				"entity_id", st.ID,
				"error", err,
			)
			continue
		}
		if !ok {
			claimConflicts.WithLabelValues(w.model.Name()).Inc()
			r.logger.Debug("claim conflict", "model", w.model.Name(), "entity_id", st.ID)
			continue
		}
		st.LockedUntil = until
		r.submit(ctx, w, st)
	}
}

// freeSlots is the number of entities the model may still claim. Only the
// cycle goroutine increments the counters, so the result cannot be
// overcommitted by the workers that decrement them.
func (r *Runner) freeSlots(w *modelWorker) int {
	perModel := int64(r.perModel) - w.inflight.Load()
	global := int64(r.concurrency) - r.inflight.Load()
	return int(min(perModel, global))
}

func (r *Runner) submit(ctx context.Context, w *modelWorker, st stator.Status) {
	r.inflight.Inc()
	w.inflight.Inc()
	inFlight.WithLabelValues(w.model.Name()).Inc()
	r.active.Add(1)

	// Handlers are not cancelled mid-flight; a stopping runner waits for them.
	hctx := context.WithoutCancel(ctx)
	w.pool.Submit(func() {
		defer func() {
			inFlight.WithLabelValues(w.model.Name()).Dec()
			w.inflight.Dec()
			r.inflight.Dec()
			r.active.Done()
		}()
		r.process(hctx, w.model, st)
	})
}

func (r *Runner) touchLiveness() {
	if r.livenessFile == "" {
		return
	}
	stamp := strconv.FormatInt(r.clock.Now().Unix(), 10)
	if err := os.WriteFile(r.livenessFile, []byte(stamp), 0o644); err != nil {
		r.logger.Warn("liveness file write failed", "path", r.livenessFile, "error", fmt.Errorf("touch liveness: %w", err))
	}
}
