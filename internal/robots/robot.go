package robots

import (
	"context"
	"net/url"
	"sync"

	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/internal/robots/cache"
)

/*
Responsibilities

- Fetch robots.txt per host
- Cache rules for crawl duration
- Enforce allow/disallow rules before enqueue

Robots checks occur before a URL enters the frontier.
*/

// Robot evaluates crawl permission for a URL against a host's robots.txt,
// fetching and caching the rule set once per host for the lifetime of a crawl.
type Robot struct {
	fetcher       *RobotsFetcher
	userAgent     string
	respectRobots bool

	mu            sync.Mutex
	ruleSetByHost map[string]ruleSet
}

// NewCachedRobot builds a Robot backed by an in-memory per-host robots.txt
// cache. Robots enforcement is on by default; call SetRespectRobots(false)
// to disable it for a crawl (the caller is still expected to echo that
// choice into the snapshot summary for auditability).
func NewCachedRobot(metadataSink metadata.MetadataSink, userAgent string) *Robot {
	return &Robot{
		fetcher:       NewRobotsFetcher(metadataSink, userAgent, cache.NewMemoryCache()),
		userAgent:     userAgent,
		respectRobots: true,
		ruleSetByHost: make(map[string]ruleSet),
	}
}

func (r *Robot) SetRespectRobots(respect bool) {
	r.respectRobots = respect
}

func (r *Robot) Init(userAgent string) {
	r.userAgent = userAgent
	r.fetcher.userAgent = userAgent
}

// Decide reports whether u may be crawled. A robots.txt fetch failure is
// treated as allow-all with no delay; the failure is neither recorded nor
// returned, so the returned error is always nil.
func (r *Robot) Decide(ctx context.Context, u url.URL) (Decision, *RobotsError) {
	if !r.respectRobots {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet}, nil
	}

	rs, err := r.ruleSetFor(ctx, u.Scheme, u.Host)
	if err != nil {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet}, nil
	}

	return evaluate(rs, u), nil
}

func (r *Robot) ruleSetFor(ctx context.Context, scheme, host string) (ruleSet, *RobotsError) {
	r.mu.Lock()
	if rs, ok := r.ruleSetByHost[host]; ok {
		r.mu.Unlock()
		return rs, nil
	}
	r.mu.Unlock()

	result, err := r.fetcher.Fetch(ctx, scheme, host)
	if err != nil {
		return ruleSet{}, err
	}

	rs := MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)

	r.mu.Lock()
	r.ruleSetByHost[host] = rs
	r.mu.Unlock()

	return rs, nil
}

func evaluate(rs ruleSet, u url.URL) Decision {
	crawlDelay := rs.CrawlDelay()

	if !rs.hasGroups {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet, CrawlDelay: crawlDelay}
	}
	if !rs.matchedGroup {
		return Decision{Url: u, Allowed: true, Reason: UserAgentNotMatched, CrawlDelay: crawlDelay}
	}

	path := normalizePath(u.Path)

	bestAllow := longestMatch(rs.AllowRules(), path)
	bestDisallow := longestMatch(rs.DisallowRules(), path)

	if bestDisallow < 0 && bestAllow < 0 {
		return Decision{Url: u, Allowed: true, Reason: NoMatchingRules, CrawlDelay: crawlDelay}
	}

	if bestDisallow > bestAllow {
		return Decision{Url: u, Allowed: false, Reason: DisallowedByRobots, CrawlDelay: crawlDelay}
	}

	return Decision{Url: u, Allowed: true, Reason: AllowedByRobots, CrawlDelay: crawlDelay}
}

// longestMatch returns the length of the longest matching rule prefix, or
// -1 if no rule in the set matches the path. Longest-prefix-wins is the
// de-facto tie-break between allow and disallow groups.
func longestMatch(rules []pathRule, path string) int {
	best := -1
	for _, rule := range rules {
		prefix := rule.Prefix()
		if len(prefix) > best && matchesPrefix(path, prefix) {
			best = len(prefix)
		}
	}
	return best
}

func matchesPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}
