package testrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/sitescope/engine/internal/analyzer"
	"github.com/sitescope/engine/internal/issues"
	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/internal/metrics"
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
	"github.com/sitescope/engine/pkg/failure"

	"golang.org/x/sync/errgroup"
)

/*
Runner sequences a test run: it resolves the requested plugins against
the analyzer registry, invokes each through the Plugin Host with a
per-plugin timeout and panic recovery, persists every TestResult to the
result store, and promotes each run's findings through the issue
tracker so the register stays current.

Sequencing model: sequential by default, matching the scheduling model
the crawl side uses for admission - a single decision-maker unless the
caller opts into bounded parallelism. Parallel runs share the same
per-plugin timeout and panic handling; only the scheduling differs.
*/

const DefaultPerPluginTimeout = 300 * time.Second
const defaultMaxParallel = 4

type ErrorCause string

const (
	ErrCauseStoreWriteFailure ErrorCause = "result_store_write_failure"
	ErrCausePromoteFailure    ErrorCause = "issue_promote_failure"
)

type Error struct {
	Message   string
	Retryable bool
	Cause     ErrorCause
}

func (e *Error) Error() string {
	return fmt.Sprintf("testrunner: %s: %s", e.Cause, e.Message)
}

func (e *Error) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// RunOptions configures one invocation of Run. Plugins empty means "every
// registered analyzer, in registry order".
type RunOptions struct {
	Plugins          []string
	Configs          map[string]map[string]interface{}
	PerPluginTimeout time.Duration
	Parallel         bool
	MaxParallel      int
}

type Runner struct {
	host      *analyzer.Host
	store     *resultstore.Store
	tracker   *issues.Tracker
	finalizer metadata.TestRunFinalizer
	metrics   *metrics.Registry
}

func NewRunner(host *analyzer.Host, store *resultstore.Store, tracker *issues.Tracker, finalizer metadata.TestRunFinalizer) *Runner {
	return &Runner{host: host, store: store, tracker: tracker, finalizer: finalizer}
}

// SetMetricsRegistry wires a Prometheus registry the runner reports
// per-plugin duration and result status to. Optional.
func (r *Runner) SetMetricsRegistry(reg *metrics.Registry) {
	r.metrics = reg
}

// Run executes every requested plugin against snap, writes each result,
// and promotes its findings into the issue register. It returns every
// TestResult produced, in plugin-list order, even when some plugins
// errored - only store/tracker I/O failures abort the run early.
func (r *Runner) Run(ctx context.Context, snap *snapshot.Reader, snapshotID string, opts RunOptions) ([]resultstore.TestResult, failure.ClassifiedError) {
	plugins := opts.Plugins
	if len(plugins) == 0 {
		for _, a := range analyzer.List() {
			plugins = append(plugins, a.Name())
		}
	}

	timeout := opts.PerPluginTimeout
	if timeout <= 0 {
		timeout = DefaultPerPluginTimeout
	}

	results := make([]resultstore.TestResult, len(plugins))
	start := time.Now()

	if opts.Parallel {
		limit := opts.MaxParallel
		if limit <= 0 {
			limit = defaultMaxParallel
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i, name := range plugins {
			i, name := i, name
			g.Go(func() error {
				results[i] = r.runOne(gctx, snap, snapshotID, name, opts.Configs[name], timeout)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, name := range plugins {
			if ctx.Err() != nil {
				results[i] = cancelledResult(name, snapshotID)
				continue
			}
			results[i] = r.runOne(ctx, snap, snapshotID, name, opts.Configs[name], timeout)
		}
	}

	failures := 0
	for _, res := range results {
		if res.Status == resultstore.StatusError || res.Status == resultstore.StatusFail {
			failures++
		}
		if werr := r.store.Write(res); werr != nil {
			return results, &Error{Message: werr.Error(), Cause: ErrCauseStoreWriteFailure}
		}
		if _, perr := r.tracker.Promote(res.PluginName, res.Findings, time.Now()); perr != nil {
			return results, &Error{Message: perr.Error(), Cause: ErrCausePromoteFailure}
		}
	}

	if r.finalizer != nil {
		r.finalizer.RecordFinalTestRunStats(len(plugins), failures, time.Since(start))
	}

	return results, nil
}

// runOne invokes a single plugin with timeout and panic recovery. A
// panicking analyzer becomes an error result, never a crashed run.
func (r *Runner) runOne(ctx context.Context, snap *snapshot.Reader, snapshotID, name string, cfg map[string]interface{}, timeout time.Duration) (res resultstore.TestResult) {
	start := time.Now()
	if r.metrics != nil {
		defer func() {
			r.metrics.ObserveAnalyzerRun(name, string(res.Status), time.Since(start).Seconds())
		}()
	}

	a, ok := analyzer.Get(name)
	if !ok {
		return resultstore.TestResult{
			PluginName: name,
			SnapshotID: snapshotID,
			StartedAt:  time.Now().UTC(),
			Status:     resultstore.StatusError,
			Summary:    fmt.Sprintf("plugin %q is not registered", name),
		}
	}

	if ctx.Err() != nil {
		return cancelledResult(name, snapshotID)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan resultstore.TestResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- resultstore.TestResult{
					PluginName: name,
					SnapshotID: snapshotID,
					StartedAt:  time.Now().UTC(),
					Status:     resultstore.StatusError,
					Summary:    fmt.Sprintf("analyzer %q panicked: %v", name, rec),
				}
			}
		}()
		resultCh <- r.host.Invoke(a, snap, snapshotID, cfg)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return cancelledResult(name, snapshotID)
		}
		return resultstore.TestResult{
			PluginName: name,
			SnapshotID: snapshotID,
			StartedAt:  time.Now().UTC(),
			Status:     resultstore.StatusError,
			Summary:    fmt.Sprintf("analyzer %q exceeded its %s timeout", name, timeout),
		}
	}
}

func cancelledResult(name, snapshotID string) resultstore.TestResult {
	return resultstore.TestResult{
		PluginName: name,
		SnapshotID: snapshotID,
		StartedAt:  time.Now().UTC(),
		Status:     resultstore.StatusError,
		Summary:    "cancelled",
	}
}
