package crawler

import (
	"time"

	"github.com/sitescope/engine/internal/snapshot"
)

// engineVersion is stamped into every page's frontmatter so a snapshot can
// be traced back to the crawler build that produced it.
const engineVersion = "sitescope-engine/0.1.0"

// Result is what Orchestrator.Run returns once a crawl reaches a terminal
// state: every page has either been written or counted as an error, and the
// snapshot has been sealed.
type Result struct {
	Summary    snapshot.Summary
	PagesDone  int
	ErrorCount int
	AssetCount int
	Duration   time.Duration
}

// ProgressEvent is emitted once per page the crawl finishes processing
// (successfully or not), so a caller can drive a progress indicator without
// polling the snapshot writer. Total is the frontier's current visited+queued
// count, which grows as pages discover new links - callers should treat it as
// a moving target, not a fixed denominator.
type ProgressEvent struct {
	URL        string
	PagesDone  int
	ErrorCount int
	InFlight   int
	Total      int
}

// hostSemaphore is a counting semaphore keyed by host, bounding how many
// workers may be in flight against the same hostname at once. It is
// separate from the global errgroup limit, which bounds the crawl overall.
type hostSemaphore struct {
	slots chan struct{}
}

func newHostSemaphore(capacity int) *hostSemaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &hostSemaphore{slots: make(chan struct{}, capacity)}
}

func (h *hostSemaphore) acquire() {
	h.slots <- struct{}{}
}

func (h *hostSemaphore) release() {
	<-h.slots
}
