package snapshot_test

import (
	"testing"
	"time"

	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/internal/snapshot"
	"github.com/sitescope/engine/pkg/hashutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	root := t.TempDir()
	recorder := metadata.NewRecorder(nil)
	writer := snapshot.NewWriter(recorder, root, hashutil.HashAlgoBLAKE3)

	require.NoError(t, writer.Open("20260101T000000Z"))

	page := snapshot.Page{
		URL:             "https://example.com/",
		HTTPStatus:      200,
		FetchedAt:       time.Now().UTC(),
		Title:           "Example",
		ResponseHeaders: map[string]string{"content-type": "text/html"},
		OutboundLinks:   []string{"https://example.com/about"},
		ContentRaw:      []byte("<html></html>"),
		ContentCleaned:  []byte("<html><body>Example</body></html>"),
		ContentMarkdown: []byte("# Example"),
		ContentHash:     "deadbeef",
		CrawlDepth:      0,
	}
	require.NoError(t, writer.WritePage(page))

	summary := snapshot.Summary{
		SnapshotID: "20260101T000000Z",
		RootURL:    "https://example.com/",
		Status:     string(snapshot.StatusComplete),
		PageCount:  1,
	}
	require.NoError(t, writer.Seal(summary))

	dir := root + "/snapshots/20260101T000000Z.complete"
	reader, err := snapshot.OpenReader(dir)
	require.NoError(t, err)

	readSummary, err := reader.Summary()
	require.NoError(t, err)
	assert.Equal(t, "20260101T000000Z", readSummary.SnapshotID)
	assert.Equal(t, 1, readSummary.PageCount)

	sitemap, err := reader.Sitemap()
	require.NoError(t, err)
	require.Len(t, sitemap, 1)
	assert.Equal(t, "https://example.com/", sitemap[0].URL)

	pages, err := reader.Pages()
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Example", pages[0].Title)
	assert.Equal(t, []byte("# Example"), pages[0].ContentMarkdown)
}

func TestOpenReader_MissingDirectoryFails(t *testing.T) {
	_, err := snapshot.OpenReader(t.TempDir() + "/does-not-exist")
	assert.Error(t, err)
}
