// Package schedulerdaemon periodically re-runs a crawl-and-test pass for
// tracked projects, the recurring counterpart to the one-shot `sitescope
// crawl site` / `sitescope test run` CLI commands. Scheduling is handled by
// robfig/cron/v3; each tick runs exactly one crawl followed by one test
// pass against the snapshot it just produced, never overlapping a prior
// tick still in flight for the same project.
package schedulerdaemon

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sitescope/engine/internal/analyzer"
	"github.com/sitescope/engine/internal/config"
	"github.com/sitescope/engine/internal/crawler"
	"github.com/sitescope/engine/internal/issues"
	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/internal/metrics"
	"github.com/sitescope/engine/internal/project"
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
	"github.com/sitescope/engine/internal/testrunner"
)

// cronFieldParser accepts the standard five-field crontab form (minute
// hour day-of-month month day-of-week), with no seconds field and no
// "@every"/"@daily" descriptors.
var cronFieldParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr parses as a cron expression,
// without scheduling anything. Callers (e.g. a CLI flag or config file)
// should validate a user-supplied schedule with this before handing it to
// Schedule.
func ValidateSchedule(expr string) error {
	_, err := cronFieldParser.Parse(expr)
	return err
}

// Job describes one project's recurring crawl-and-test schedule.
type Job struct {
	Slug     string
	Schedule string
	MaxPages int
	MaxDepth int
}

// Daemon owns a cron scheduler and the workspace its jobs operate against.
// It never runs two ticks for the same project slug concurrently: a tick
// that finds the project still locked from a prior tick (or a manual
// `crawl site` / `test run` invocation) logs and skips rather than queuing.
type Daemon struct {
	cron   *cron.Cron
	ws     *project.Workspace
	logger *zap.Logger
	reg    *metrics.Registry

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a Daemon rooted at ws. reg may be nil, in which case ticks
// run without emitting metrics.
func New(ws *project.Workspace, logger *zap.Logger, reg *metrics.Registry) *Daemon {
	return &Daemon{
		cron:    cron.New(),
		ws:      ws,
		logger:  logger,
		reg:     reg,
		entries: make(map[string]cron.EntryID),
	}
}

// Schedule registers job, replacing any existing schedule for the same
// slug. It fails fast if job.Schedule doesn't parse.
func (d *Daemon) Schedule(job Job) error {
	if err := ValidateSchedule(job.Schedule); err != nil {
		return fmt.Errorf("schedule %q for project %q: %w", job.Schedule, job.Slug, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[job.Slug]; ok {
		d.cron.Remove(existing)
	}

	id, err := d.cron.AddFunc(job.Schedule, func() { d.tick(job) })
	if err != nil {
		return fmt.Errorf("schedule project %q: %w", job.Slug, err)
	}
	d.entries[job.Slug] = id
	return nil
}

// Unschedule removes a project's recurring job, if one is registered.
func (d *Daemon) Unschedule(slug string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.entries[slug]; ok {
		d.cron.Remove(id)
		delete(d.entries, slug)
	}
}

// Start begins running scheduled jobs in the background. It returns
// immediately; call Stop to drain in-flight ticks before exiting.
func (d *Daemon) Start() {
	d.cron.Start()
}

// Stop tells the scheduler to stop firing new ticks and returns a context
// that is done once every in-flight tick has finished.
func (d *Daemon) Stop() context.Context {
	return d.cron.Stop()
}

// tick runs one crawl-then-test pass for job.Slug. Errors are logged, not
// returned, since cron.AddFunc's callback has no error channel - a failed
// tick simply waits for the next scheduled fire.
func (d *Daemon) tick(job Job) {
	log := d.logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("project", job.Slug))

	proj, openErr := d.ws.Open(job.Slug)
	if openErr != nil {
		log.Warn("scheduled tick: project no longer exists, unscheduling", zap.Error(openErr))
		d.Unschedule(job.Slug)
		return
	}

	lock, lockErr := d.ws.Acquire(job.Slug)
	if lockErr != nil {
		log.Info("scheduled tick: project locked by another run, skipping")
		return
	}
	defer lock.Release()

	snapshotID, crawlResult, crawlErr := d.runCrawl(proj, job)
	if crawlErr != nil {
		log.Error("scheduled crawl failed", zap.Error(crawlErr))
		return
	}
	log.Info("scheduled crawl finished",
		zap.String("snapshot", snapshotID),
		zap.Int("pages", crawlResult.PagesDone),
		zap.Int("errors", crawlResult.ErrorCount),
	)

	if testErr := d.runTests(job.Slug, snapshotID); testErr != nil {
		log.Error("scheduled test run failed", zap.Error(testErr))
		return
	}

	if touchErr := d.ws.Touch(job.Slug); touchErr != nil {
		log.Warn("scheduled tick: failed to refresh project metadata", zap.Error(touchErr))
	}
}

func (d *Daemon) runCrawl(proj project.Project, job Job) (string, crawler.Result, error) {
	parsed, err := url.Parse(proj.RootURL)
	if err != nil || parsed.Host == "" {
		return "", crawler.Result{}, fmt.Errorf("invalid project root URL %q", proj.RootURL)
	}

	builder := config.WithDefault([]url.URL{*parsed})
	if job.MaxPages > 0 {
		builder = builder.WithMaxPages(job.MaxPages)
	}
	if job.MaxDepth > 0 {
		builder = builder.WithMaxDepth(job.MaxDepth)
	}
	cfg, buildErr := builder.Build()
	if buildErr != nil {
		return "", crawler.Result{}, buildErr
	}

	recorder := metadata.NewRecorder(d.logger)
	orchestrator := crawler.NewOrchestrator(cfg, recorder, recorder, d.ws.ProjectRoot(job.Slug))
	if d.reg != nil {
		orchestrator.SetMetricsRegistry(d.reg)
	}

	snapshotID := time.Now().UTC().Format("20060102T150405Z")
	result, runErr := orchestrator.Run(context.Background(), snapshotID)
	if runErr != nil {
		return snapshotID, result, runErr
	}
	return snapshotID, result, nil
}

func (d *Daemon) runTests(slug, snapshotID string) error {
	snapDir, err := d.ws.SnapshotDir(slug, snapshotID)
	if err != nil {
		return err
	}
	reader, err := snapshot.OpenReader(snapDir)
	if err != nil {
		return err
	}

	store := resultstore.NewStore(d.ws.TestResultsDir(slug))
	tracker := issues.NewTracker(d.ws.IssuesPath(slug))
	runner := testrunner.NewRunner(analyzer.NewHost(), store, tracker, nil)
	if d.reg != nil {
		runner.SetMetricsRegistry(d.reg)
		tracker.SetMetricsRegistry(d.reg)
	}

	_, runErr := runner.Run(context.Background(), reader, snapshotID, testrunner.RunOptions{})
	if runErr != nil {
		return runErr
	}
	return nil
}
