package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sitescope/engine/internal/crawler"
)

// crawlProgressBar renders crawler.ProgressEvent as it arrives on events,
// returning once the channel is closed (Run always closes it on return).
// The bar's max grows as the frontier discovers more URLs, so it is set
// indeterminate-looking rather than pinned to a fixed total.
func renderCrawlProgress(w io.Writer, events <-chan crawler.ProgressEvent) {
	bar := progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription("crawling"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(w, "\n") }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	for event := range events {
		if event.Total > 0 {
			bar.ChangeMax64(int64(event.Total))
		}
		_ = bar.Set(event.PagesDone)
	}
	_ = bar.Finish()
}
