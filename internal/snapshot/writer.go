package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/pkg/failure"
	"github.com/sitescope/engine/pkg/fileutil"
	"github.com/sitescope/engine/pkg/hashutil"
)

/*
Responsibilities
- Lay out one snapshot directory per crawl run
- Write raw/cleaned/markdown/meta artifacts per page
- Seal a snapshot atomically once the crawl terminates

Output Characteristics
- Stable, content-addressed page directories (hash of canonical URL)
- Idempotent writes: re-running the same crawl overwrites the same paths
- Atomic seal: a snapshot directory is named "<id>.partial" while the
  crawl is in flight and renamed to "<id>.complete" (or ".failed") in a
  single os.Rename once terminal, so readers never observe a half
  written snapshot.
*/

const (
	partialSuffix  = ".partial"
	completeSuffix = ".complete"
	failedSuffix   = ".failed"
)

type WriterErrorCause string

const (
	ErrCauseWriteFailure WriterErrorCause = "failed to write snapshot artifact"
	ErrCauseSealFailure  WriterErrorCause = "failed to seal snapshot"
	ErrCauseLockHeld     WriterErrorCause = "snapshot directory already locked"
)

type WriterError struct {
	Message   string
	Retryable bool
	Cause     WriterErrorCause
}

func (e *WriterError) Error() string {
	return fmt.Sprintf("snapshot error: %s: %s", e.Cause, e.Message)
}

func (e *WriterError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// Writer owns a single snapshot directory for the lifetime of one crawl.
// Every exported method after Open is safe to call from multiple
// goroutines; callers doing concurrent page writes need no locking of
// their own.
type Writer struct {
	metadataSink metadata.MetadataSink
	projectRoot  string
	snapshotID   string
	lockFile     *os.File

	mu       sync.Mutex
	hashAlgo hashutil.HashAlgo
	pages    []PageSummary
}

func NewWriter(metadataSink metadata.MetadataSink, projectRoot string, hashAlgo hashutil.HashAlgo) *Writer {
	return &Writer{
		metadataSink: metadataSink,
		projectRoot:  projectRoot,
		hashAlgo:     hashAlgo,
	}
}

func (w *Writer) partialDir() string {
	return filepath.Join(w.projectRoot, "snapshots", w.snapshotID+partialSuffix)
}

// Open creates the "<id>.partial" directory and takes an advisory lock on
// it via O_EXCL, so two processes can never write the same snapshot at
// once.
func (w *Writer) Open(snapshotID string) failure.ClassifiedError {
	w.snapshotID = snapshotID

	if err := fileutil.EnsureDir(w.partialDir(), "pages"); err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseWriteFailure}
	}

	lockPath := filepath.Join(w.partialDir(), ".lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return &WriterError{
			Message:   fmt.Sprintf("%v", err),
			Cause:     ErrCauseLockHeld,
			Retryable: false,
		}
	}
	w.lockFile = lockFile

	return nil
}

// slugFor derives the stable, content-addressed directory name for a page.
func (w *Writer) slugFor(canonicalURL string) (string, error) {
	return hashutil.HashBytes([]byte(canonicalURL), w.hashAlgo)
}

// WritePage persists one page's artifacts (raw.html, cleaned.html,
// content.md, meta.json) under pages/<slug>/ and records it for the
// eventual sitemap.
func (w *Writer) WritePage(page Page) failure.ClassifiedError {
	slug, err := w.slugFor(page.URL)
	if err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseWriteFailure}
	}
	slug = slug[:16]

	pageDir := filepath.Join(w.partialDir(), "pages", slug)
	if ferr := fileutil.EnsureDir(pageDir); ferr != nil {
		return &WriterError{Message: ferr.Error(), Cause: ErrCauseWriteFailure}
	}

	if err := os.WriteFile(filepath.Join(pageDir, "raw.html"), page.ContentRaw, 0644); err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseWriteFailure, Retryable: true}
	}
	if err := os.WriteFile(filepath.Join(pageDir, "cleaned.html"), page.ContentCleaned, 0644); err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseWriteFailure, Retryable: true}
	}
	if err := os.WriteFile(filepath.Join(pageDir, "content.md"), page.ContentMarkdown, 0644); err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseWriteFailure, Retryable: true}
	}

	metaBytes, err := json.MarshalIndent(pageMeta{
		URL:             page.URL,
		HTTPStatus:      page.HTTPStatus,
		FetchedAt:       page.FetchedAt,
		Title:           page.Title,
		ResponseHeaders: page.ResponseHeaders,
		OutboundLinks:   page.OutboundLinks,
		ContentHash:     page.ContentHash,
		CrawlDepth:      page.CrawlDepth,
	}, "", "  ")
	if err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseWriteFailure}
	}
	if err := os.WriteFile(filepath.Join(pageDir, "meta.json"), metaBytes, 0644); err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseWriteFailure, Retryable: true}
	}

	w.mu.Lock()
	w.pages = append(w.pages, PageSummary{
		URL:         page.URL,
		Slug:        slug,
		HTTPStatus:  page.HTTPStatus,
		ContentHash: page.ContentHash,
		Depth:       page.CrawlDepth,
	})
	w.mu.Unlock()

	w.metadataSink.RecordArtifact(metadata.ArtifactRaw, filepath.Join(pageDir, "raw.html"), nil)
	w.metadataSink.RecordArtifact(metadata.ArtifactCleaned, filepath.Join(pageDir, "cleaned.html"), nil)
	w.metadataSink.RecordArtifact(metadata.ArtifactMarkdown, filepath.Join(pageDir, "content.md"), nil)
	w.metadataSink.RecordArtifact(metadata.ArtifactMeta, filepath.Join(pageDir, "meta.json"), nil)

	return nil
}

type pageMeta struct {
	URL             string            `json:"url"`
	HTTPStatus      int               `json:"http_status"`
	FetchedAt       time.Time         `json:"fetched_at"`
	Title           string            `json:"title"`
	ResponseHeaders map[string]string `json:"response_headers"`
	OutboundLinks   []string          `json:"outbound_links"`
	ContentHash     string            `json:"content_hash"`
	CrawlDepth      int               `json:"crawl_depth"`
}

// Seal writes sitemap.json and summary.json, releases the lock, and
// atomically renames the partial directory to its terminal name.
func (w *Writer) Seal(summary Summary) failure.ClassifiedError {
	w.mu.Lock()
	pages := make([]PageSummary, len(w.pages))
	copy(pages, w.pages)
	w.mu.Unlock()

	sitemapBytes, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseSealFailure}
	}
	if err := os.WriteFile(filepath.Join(w.partialDir(), "sitemap.json"), sitemapBytes, 0644); err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseSealFailure}
	}

	summaryBytes, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseSealFailure}
	}
	if err := os.WriteFile(filepath.Join(w.partialDir(), "summary.json"), summaryBytes, 0644); err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseSealFailure}
	}

	if w.lockFile != nil {
		lockPath := w.lockFile.Name()
		w.lockFile.Close()
		os.Remove(lockPath)
	}

	suffix := completeSuffix
	if summary.Status == string(StatusFailed) {
		suffix = failedSuffix
	}
	finalDir := filepath.Join(w.projectRoot, "snapshots", w.snapshotID+suffix)

	if err := os.Rename(w.partialDir(), finalDir); err != nil {
		return &WriterError{Message: err.Error(), Cause: ErrCauseSealFailure}
	}

	return nil
}
