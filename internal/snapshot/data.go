package snapshot

import "time"

/*
Responsibilities
- Model one crawl run as a sealed, self-contained unit
- Hold every page artifact produced for that run
- Expose the aggregate view (sitemap, summary) a test run reads from

A Snapshot is append-only while a crawl is in flight (status "partial")
and immutable once sealed (status "complete" or "failed"). Nothing but
the Writer mutates snapshot state on disk.
*/

type SnapshotStatus string

const (
	StatusPartial  SnapshotStatus = "partial"
	StatusComplete SnapshotStatus = "complete"
	StatusFailed   SnapshotStatus = "failed"
)

type Snapshot struct {
	SnapshotID  string
	RootURL     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      SnapshotStatus
	PageCount   int
	ErrorCount  int
	AssetCount  int
	RespectRobots bool
}

// Page is everything captured about a single crawled URL.
type Page struct {
	URL              string
	HTTPStatus       int
	FetchedAt        time.Time
	Title            string
	ResponseHeaders  map[string]string
	OutboundLinks    []string
	ContentRaw       []byte
	ContentCleaned   []byte
	ContentMarkdown  []byte
	ContentHash      string
	CrawlDepth       int
}

// PageSummary is the sitemap.json entry for one page: enough to locate
// its artifacts and know its outcome without re-reading the full page.
type PageSummary struct {
	URL         string `json:"url"`
	Slug        string `json:"slug"`
	HTTPStatus  int    `json:"http_status"`
	ContentHash string `json:"content_hash"`
	Depth       int    `json:"depth"`
}

// Summary is the terminal, aggregate summary.json written once a crawl
// finishes (successfully, partially, or with a fatal error).
type Summary struct {
	SnapshotID    string    `json:"snapshot_id"`
	RootURL       string    `json:"root_url"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Status        string    `json:"status"`
	PageCount     int       `json:"page_count"`
	ErrorCount    int       `json:"error_count"`
	AssetCount    int       `json:"asset_count"`
	RespectRobots bool      `json:"respect_robots"`
}
