package frontier

import (
	"strings"
	"sync"

	"github.com/sitescope/engine/internal/config"
	"github.com/sitescope/engine/pkg/urlutil"
)

/*
Frontier Responsibilities
- Maintain BFS ordering
- Deduplicate URLs
- Track crawl depth
- Prevent infinite traversal
- Knows nothing about:
	- fetching
	- extraction
	- markdown
	- storage

It is a data structure + policy module, not a pipeline executor.
*/

// CrawlingPolicy is the set of admission rules a Frontier enforces on
// every submitted candidate, derived once from config.Config.
type CrawlingPolicy struct {
	allowedHosts      map[string]struct{}
	allowedPathPrefix []string
	maxDepth          int
	maxPages          int
}

func NewCrawlingPolicy(cfg config.Config) CrawlingPolicy {
	hosts := cfg.AllowedHosts()
	if len(hosts) == 0 {
		hosts = make(map[string]struct{})
		for _, seed := range cfg.SeedURLs() {
			hosts[strings.ToLower(seed.Hostname())] = struct{}{}
		}
	}
	return CrawlingPolicy{
		allowedHosts:      hosts,
		allowedPathPrefix: cfg.AllowedPathPrefix(),
		maxDepth:          cfg.MaxDepth(),
		maxPages:          cfg.MaxPages(),
	}
}

func (p CrawlingPolicy) hostAllowed(host string) bool {
	if len(p.allowedHosts) == 0 {
		return true
	}
	_, ok := p.allowedHosts[strings.ToLower(host)]
	return ok
}

func (p CrawlingPolicy) pathAllowed(path string) bool {
	if len(p.allowedPathPrefix) == 0 {
		return true
	}
	for _, prefix := range p.allowedPathPrefix {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p CrawlingPolicy) depthAllowed(depth int) bool {
	return p.maxDepth <= 0 || depth <= p.maxDepth
}

// Frontier owns the single mutable queue + visited-set pair a crawl uses
// to decide what gets fetched next. All mutation happens behind mu so a
// concurrent orchestrator can treat Submit/Dequeue as its one serialized
// admission choke point.
type Frontier struct {
	mu     sync.Mutex
	policy CrawlingPolicy
	queue  *FIFOQueue[CrawlToken]
	seen   Set[string]
	closed bool
}

func NewFrontier() *Frontier {
	return &Frontier{
		queue: NewFIFOQueue[CrawlToken](),
		seen:  NewSet[string](),
	}
}

// Init resets the Frontier with a fresh policy derived from cfg. Existing
// queue contents and the visited set are discarded, so Init is meant to be
// called once per crawl, before the first Submit.
func (f *Frontier) Init(cfg config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.policy = NewCrawlingPolicy(cfg)
	f.queue = NewFIFOQueue[CrawlToken]()
	f.seen = NewSet[string]()
	f.closed = false
}

// Submit admits a CrawlAdmissionCandidate into the queue. It returns false
// without enqueuing when the candidate fails scope/depth/page-budget
// checks, or has already been visited. Submit does not re-check robots.txt
// or policy-disallow rules; those are the caller's responsibility per
// CrawlAdmissionCandidate's invariants.
func (f *Frontier) Submit(candidate CrawlAdmissionCandidate) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}

	target := urlutil.Canonicalize(candidate.TargetURL())
	key := target.String()

	if f.seen.Contains(key) {
		return false
	}

	depth := candidate.DiscoveryMetadata().Depth()
	if !f.policy.hostAllowed(target.Hostname()) {
		return false
	}
	if !f.policy.pathAllowed(target.Path) {
		return false
	}
	if !f.policy.depthAllowed(depth) {
		return false
	}
	if f.policy.maxPages > 0 && f.seen.Size() >= f.policy.maxPages {
		return false
	}

	f.seen.Add(key)
	f.queue.Enqueue(NewCrawlToken(target, depth))
	return true
}

// Dequeue pops the next token in BFS order: the queued token with the lowest
// depth, and among tokens of equal depth the one submitted first. The second
// return value is false once the queue is empty.
func (f *Frontier) Dequeue() (CrawlToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := *f.queue
	if len(q) == 0 {
		var zero CrawlToken
		return zero, false
	}
	best := 0
	for i := 1; i < len(q); i++ {
		if q[i].Depth() < q[best].Depth() {
			best = i
		}
	}
	token := q[best]
	*f.queue = append(q[:best], q[best+1:]...)
	return token, true
}

// Close marks the Frontier as no longer accepting new candidates. Already
// queued tokens can still be drained via Dequeue.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
}

// VisitedCount reports how many distinct URLs have been admitted so far.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.seen.Size()
}

// Pending reports how many tokens are currently queued but not yet dequeued.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.queue.Size()
}
