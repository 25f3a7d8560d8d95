package metadata

import (
	"time"

	"go.uber.org/zap"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth
- Analyzer run outcomes

Logging Goals
- Debuggable crawl and test-run behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID, project slug)
*/

// MetadataSink is the write-side contract every pipeline package logs
// observational events through. It never influences control flow.
type MetadataSink interface {
	RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordAssetFetch(assetUrl string, httpStatus int, duration time.Duration, retryCount int)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
	RecordError(at time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute)
}

// CrawlFinalizer records the terminal summary of a completed crawl, exactly once.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages int, totalErrors int, totalAssets int, duration time.Duration)
}

// TestRunFinalizer records the terminal summary of a completed test run, exactly once.
type TestRunFinalizer interface {
	RecordFinalTestRunStats(totalAnalyzers int, totalFailures int, duration time.Duration)
}

// Recorder is the zap-backed implementation of MetadataSink, CrawlFinalizer,
// and TestRunFinalizer used throughout the engine.
type Recorder struct {
	log *zap.Logger
}

func NewRecorder(log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{log: log}
}

var (
	_ MetadataSink     = (*Recorder)(nil)
	_ CrawlFinalizer   = (*Recorder)(nil)
	_ TestRunFinalizer = (*Recorder)(nil)
)

// NoopSink is a MetadataSink that discards every event.
type NoopSink struct{}

var _ MetadataSink = NoopSink{}

func (NoopSink) RecordFetch(string, int, time.Duration, string, int, int)               {}
func (NoopSink) RecordAssetFetch(string, int, time.Duration, int)                       {}
func (NoopSink) RecordArtifact(ArtifactKind, string, []Attribute)                       {}
func (NoopSink) RecordError(time.Time, string, string, ErrorCause, string, []Attribute) {}

func (r *Recorder) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.log.Debug("fetch",
		zap.String("url", fetchUrl),
		zap.Int("status", httpStatus),
		zap.Duration("duration", duration),
		zap.String("content_type", contentType),
		zap.Int("retry_count", retryCount),
		zap.Int("depth", crawlDepth),
	)
}

func (r *Recorder) RecordAssetFetch(assetUrl string, httpStatus int, duration time.Duration, retryCount int) {
	r.log.Debug("asset_fetch",
		zap.String("url", assetUrl),
		zap.Int("status", httpStatus),
		zap.Duration("duration", duration),
		zap.Int("retry_count", retryCount),
	)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	fields := []zap.Field{zap.String("kind", string(kind)), zap.String("path", path)}
	fields = append(fields, attrFields(attrs)...)
	r.log.Debug("artifact", fields...)
}

func (r *Recorder) RecordError(at time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	fields := []zap.Field{
		zap.Time("at", at),
		zap.String("package", packageName),
		zap.String("action", action),
		zap.String("cause", cause.String()),
		zap.String("error", errorString),
	}
	fields = append(fields, attrFields(attrs)...)
	r.log.Warn("error", fields...)
}

func (r *Recorder) RecordFinalCrawlStats(totalPages int, totalErrors int, totalAssets int, duration time.Duration) {
	r.log.Info("crawl_complete",
		zap.Int("total_pages", totalPages),
		zap.Int("total_errors", totalErrors),
		zap.Int("total_assets", totalAssets),
		zap.Duration("duration", duration),
	)
}

func (r *Recorder) RecordFinalTestRunStats(totalAnalyzers int, totalFailures int, duration time.Duration) {
	r.log.Info("test_run_complete",
		zap.Int("total_analyzers", totalAnalyzers),
		zap.Int("total_failures", totalFailures),
		zap.Duration("duration", duration),
	)
}

func attrFields(attrs []Attribute) []zap.Field {
	fields := make([]zap.Field, 0, len(attrs))
	for _, a := range attrs {
		fields = append(fields, zap.String(string(a.Key), a.Value))
	}
	return fields
}
