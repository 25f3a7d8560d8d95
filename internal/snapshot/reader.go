package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

/*
Reader is the read-only counterpart to Writer: every analyzer and the
result store's issue-tracker path opens a sealed snapshot through here,
never through Writer. A Reader never mutates anything on disk - it is
the mechanism that lets internal/analyzer's "snapshot is read-only"
contract hold structurally rather than by convention alone.
*/

type Reader struct {
	dir string
}

// OpenReader opens a sealed snapshot directory (one already ending in
// ".complete" or ".failed" - callers resolve that suffix, typically via
// project.Workspace.SnapshotDir).
func OpenReader(dir string) (*Reader, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("snapshot directory not found: %w", err)
	}
	return &Reader{dir: dir}, nil
}

// Summary reads summary.json.
func (r *Reader) Summary() (Summary, error) {
	var summary Summary
	body, err := os.ReadFile(filepath.Join(r.dir, "summary.json"))
	if err != nil {
		return Summary{}, err
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Sitemap reads sitemap.json: every page touched this crawl.
func (r *Reader) Sitemap() ([]PageSummary, error) {
	var pages []PageSummary
	body, err := os.ReadFile(filepath.Join(r.dir, "sitemap.json"))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// Page reads one page's full artifacts by its sitemap slug.
func (r *Reader) Page(slug string) (Page, error) {
	pageDir := filepath.Join(r.dir, "pages", slug)

	var meta pageMeta
	metaBody, err := os.ReadFile(filepath.Join(pageDir, "meta.json"))
	if err != nil {
		return Page{}, err
	}
	if err := json.Unmarshal(metaBody, &meta); err != nil {
		return Page{}, err
	}

	raw, err := os.ReadFile(filepath.Join(pageDir, "raw.html"))
	if err != nil {
		return Page{}, err
	}
	cleaned, err := os.ReadFile(filepath.Join(pageDir, "cleaned.html"))
	if err != nil {
		return Page{}, err
	}
	markdown, err := os.ReadFile(filepath.Join(pageDir, "content.md"))
	if err != nil {
		return Page{}, err
	}

	return Page{
		URL:             meta.URL,
		HTTPStatus:      meta.HTTPStatus,
		FetchedAt:       meta.FetchedAt,
		Title:           meta.Title,
		ResponseHeaders: meta.ResponseHeaders,
		OutboundLinks:   meta.OutboundLinks,
		ContentRaw:      raw,
		ContentCleaned:  cleaned,
		ContentMarkdown: markdown,
		ContentHash:     meta.ContentHash,
		CrawlDepth:      meta.CrawlDepth,
	}, nil
}

// Pages reads every page in the sitemap, in sitemap order. Analyzers
// over large snapshots that only need metadata should prefer Sitemap.
func (r *Reader) Pages() ([]Page, error) {
	summaries, err := r.Sitemap()
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(summaries))
	for _, summary := range summaries {
		page, err := r.Page(summary.Slug)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}
