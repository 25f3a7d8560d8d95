package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sitescope/engine/internal/assets"
	"github.com/sitescope/engine/internal/config"
	"github.com/sitescope/engine/internal/extractor"
	"github.com/sitescope/engine/internal/fetcher"
	"github.com/sitescope/engine/internal/frontier"
	"github.com/sitescope/engine/internal/mdconvert"
	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/internal/metrics"
	"github.com/sitescope/engine/internal/normalize"
	"github.com/sitescope/engine/internal/robots"
	"github.com/sitescope/engine/internal/sanitizer"
	"github.com/sitescope/engine/internal/snapshot"
	"github.com/sitescope/engine/pkg/failure"
	"github.com/sitescope/engine/pkg/hashutil"
	"github.com/sitescope/engine/pkg/limiter"
	"github.com/sitescope/engine/pkg/retry"
	"github.com/sitescope/engine/pkg/timeutil"
	"github.com/sitescope/engine/pkg/urlutil"

	"github.com/sony/gobreaker"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

/*
Orchestrator is the sole control-plane authority of the crawl, the same
role the single-threaded scheduler it replaces used to hold, except
admission and the pipeline stages now run across a bounded pool of
goroutines instead of one sequential loop.

Determinism and admission guarantees:
  - Orchestrator is the ONLY component allowed to decide whether a URL
    may enter the crawl frontier.
  - All semantic admission checks (robots.txt, scope, depth, limits) MUST
    be completed before a URL reaches the frontier.
  - No other component may enqueue, reject, or reorder URLs.
  - Pipeline stages may detect and classify failure, but never decide
    retry, continuation, or abortion - that stays here.

Concurrency guarantees:
  - Frontier, Robot, RateLimiter and snapshot.Writer are each internally
    synchronized; the orchestrator adds no locking of its own around them.
  - A per-host semaphore caps in-flight requests to a single hostname,
    independent of the global worker limit (errgroup.SetLimit).
  - A worker always finishes submitting every URL it discovers before it
    decrements the in-flight counter, so the dispatcher's
    empty-frontier-and-zero-in-flight check can never race a pending
    submission.
*/
type Orchestrator struct {
	cfg            config.Config
	metadataSink   metadata.MetadataSink
	crawlFinalizer metadata.CrawlFinalizer

	frontier    *frontier.Frontier
	robot       *robots.Robot
	rateLimiter limiter.RateLimiter
	sleeper     timeutil.Sleeper

	htmlFetcher            fetcher.Fetcher
	domExtractor           extractor.Extractor
	htmlSanitizer          sanitizer.Sanitizer
	markdownConversionRule mdconvert.ConvertRule
	assetResolver          assets.Resolver
	markdownConstraint     normalize.Constraint

	writer *snapshot.Writer

	hostSemMu sync.Mutex
	hostSems  map[string]*hostSemaphore

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker

	inFlight   int64
	errorCount int64
	assetCount int64

	progress chan<- ProgressEvent
	metrics  *metrics.Registry
}

// SetProgressSink registers a channel that receives a ProgressEvent each
// time Run finishes processing one page. Sends are non-blocking - a caller
// that stops draining the channel simply stops receiving events, it never
// slows the crawl down. Must be called before Run.
func (o *Orchestrator) SetProgressSink(sink chan<- ProgressEvent) {
	o.progress = sink
}

// SetMetricsRegistry wires a Prometheus registry the orchestrator reports
// fetch/page/circuit-breaker observations to. Optional - a nil registry
// (the default) means metrics are simply not collected.
func (o *Orchestrator) SetMetricsRegistry(reg *metrics.Registry) {
	o.metrics = reg
}

func (o *Orchestrator) emitProgress(url string) {
	if o.progress == nil {
		return
	}
	event := ProgressEvent{
		URL:        url,
		PagesDone:  o.frontier.VisitedCount(),
		ErrorCount: int(atomic.LoadInt64(&o.errorCount)),
		InFlight:   int(atomic.LoadInt64(&o.inFlight)),
		Total:      o.frontier.VisitedCount() + o.frontier.Pending(),
	}
	select {
	case o.progress <- event:
	default:
	}
}

func NewOrchestrator(
	cfg config.Config,
	metadataSink metadata.MetadataSink,
	crawlFinalizer metadata.CrawlFinalizer,
	projectRoot string,
) *Orchestrator {
	httpClient := &http.Client{Timeout: cfg.Timeout()}

	var pageFetcher fetcher.Fetcher
	if cfg.RenderJS() {
		renderFetcher := fetcher.NewRenderFetcher(metadataSink)
		renderFetcher.Init(httpClient)
		pageFetcher = &renderFetcher
	} else {
		htmlFetcher := fetcher.NewHtmlFetcher(metadataSink)
		htmlFetcher.Init(httpClient)
		pageFetcher = &htmlFetcher
	}

	domExtractor := extractor.NewDomExtractor(metadataSink, buildExtractParam(cfg))
	htmlSanitizer := sanitizer.NewHTMLSanitizer(metadataSink)
	conversionRule := mdconvert.NewRule(metadataSink)
	localResolver := assets.NewLocalResolver(metadataSink, httpClient, cfg.UserAgent())
	markdownConstraint := normalize.NewMarkdownConstraint(metadataSink)

	rateLimiter := limiter.NewConcurrentRateLimiter()
	rateLimiter.SetBaseDelay(cfg.BaseDelay())
	rateLimiter.SetJitter(cfg.Jitter())
	rateLimiter.SetRandomSeed(cfg.RandomSeed())

	robot := robots.NewCachedRobot(metadataSink, cfg.UserAgent())
	robot.SetRespectRobots(cfg.RespectRobots())

	f := frontier.NewFrontier()
	f.Init(cfg)

	writer := snapshot.NewWriter(metadataSink, projectRoot, hashutil.HashAlgo(cfg.HashAlgo()))

	return &Orchestrator{
		cfg:                    cfg,
		metadataSink:           metadataSink,
		crawlFinalizer:         crawlFinalizer,
		frontier:               f,
		robot:                  robot,
		rateLimiter:            rateLimiter,
		sleeper:                timeutil.NewRealSleeper(),
		htmlFetcher:            pageFetcher,
		domExtractor:           &domExtractor,
		htmlSanitizer:          &htmlSanitizer,
		markdownConversionRule: conversionRule,
		assetResolver:          &localResolver,
		markdownConstraint:     &markdownConstraint,
		writer:                 writer,
		hostSems:               make(map[string]*hostSemaphore),
		breakers:               make(map[string]*gobreaker.CircuitBreaker),
	}
}

func buildExtractParam(cfg config.Config) extractor.ExtractParam {
	return extractor.ExtractParam{
		BodySpecificityBias:  cfg.BodySpecificityBias(),
		LinkDensityThreshold: cfg.LinkDensityThreshold(),
		ScoreMultiplier: extractor.ContentScoreMultiplier{
			NonWhitespaceDivisor: cfg.ScoreMultiplierNonWhitespaceDivisor(),
			Paragraphs:           cfg.ScoreMultiplierParagraphs(),
			Headings:             cfg.ScoreMultiplierHeadings(),
			CodeBlocks:           cfg.ScoreMultiplierCodeBlocks(),
			ListItems:            cfg.ScoreMultiplierListItems(),
		},
		Threshold: extractor.MeaningfulThreshold{
			MinNonWhitespace:    cfg.ThresholdMinNonWhitespace(),
			MinHeadings:         cfg.ThresholdMinHeadings(),
			MinParagraphsOrCode: cfg.ThresholdMinParagraphsOrCode(),
			MaxLinkDensity:      cfg.ThresholdMaxLinkDensity(),
		},
	}
}

func retryParamFrom(cfg config.Config) retry.RetryParam {
	return retry.NewRetryParam(
		cfg.BaseDelay(),
		cfg.Jitter(),
		cfg.RandomSeed(),
		cfg.MaxAttempt(),
		timeutil.NewBackoffParam(
			cfg.BackoffInitialDuration(),
			cfg.BackoffMultiplier(),
			cfg.BackoffMaxDuration(),
		),
	)
}

// hostSemaphoreFor returns the per-host admission gate, creating one sized
// to cfg.PerHostConcurrency() the first time a host is seen.
func (o *Orchestrator) hostSemaphoreFor(host string) *hostSemaphore {
	o.hostSemMu.Lock()
	defer o.hostSemMu.Unlock()

	sem, ok := o.hostSems[host]
	if !ok {
		sem = newHostSemaphore(o.cfg.PerHostConcurrency())
		o.hostSems[host] = sem
	}
	return sem
}

// breakerFor returns the per-host circuit breaker, creating one the first
// time a host is seen. Tripping it stops dispatching fetches at a host that
// is failing hard, instead of letting the host semaphore keep workers
// queued against it indefinitely.
func (o *Orchestrator) breakerFor(host string) *gobreaker.CircuitBreaker {
	o.breakerMu.Lock()
	defer o.breakerMu.Unlock()

	cb, ok := o.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        host,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 5 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				o.metadataSink.RecordError(
					time.Now(),
					"crawler",
					"breakerFor",
					metadata.CauseNetworkFailure,
					fmt.Sprintf("circuit breaker for %s: %s -> %s", name, from, to),
					[]metadata.Attribute{metadata.NewAttr(metadata.AttrHost, name)},
				)
				if o.metrics != nil {
					o.metrics.ObserveBreakerTransition(name, to.String())
				}
			},
		})
		o.breakers[host] = cb
	}
	return cb
}

// admitURL is the single admission choke point for the system: every URL,
// seed or discovered, passes through here before it may reach the
// frontier. If this returns nil, either the URL was submitted or it was
// disallowed outright - both are terminal, non-error outcomes.
//
// No other code path may call Frontier.Submit.
func (o *Orchestrator) admitURL(
	ctx context.Context,
	targetURL url.URL,
	sourceContext frontier.SourceContext,
	depth int,
) failure.ClassifiedError {
	decision, robotsErr := o.robot.Decide(ctx, targetURL)
	if robotsErr != nil {
		o.recordRobotsErrorAndBackoff(targetURL, robotsErr)
		return robotsErr
	}

	o.rateLimiter.ResetBackoff(decision.Url.Host)

	if decision.CrawlDelay != nil && *decision.CrawlDelay > 0 {
		o.rateLimiter.SetCrawlDelay(decision.Url.Host, *decision.CrawlDelay)
	}

	if !decision.Allowed {
		// robots already logged the decision; no retry, no abort, no submission.
		return nil
	}

	if !o.pathAdmitted(decision.Url.Path) {
		return nil
	}

	candidate := frontier.NewCrawlAdmissionCandidate(
		decision.Url,
		sourceContext,
		frontier.NewDiscoveryMetadata(depth, nil),
	)
	o.frontier.Submit(candidate)
	return nil
}

// pathAdmitted applies cfg's include/exclude glob patterns against a
// candidate URL's path: exclude wins over include, and an empty include
// list admits everything not excluded.
func (o *Orchestrator) pathAdmitted(urlPath string) bool {
	for _, pattern := range o.cfg.ExcludePatterns() {
		if matched, _ := path.Match(pattern, urlPath); matched {
			return false
		}
	}
	includes := o.cfg.IncludePatterns()
	if len(includes) == 0 {
		return true
	}
	for _, pattern := range includes {
		if matched, _ := path.Match(pattern, urlPath); matched {
			return true
		}
	}
	return false
}

func (o *Orchestrator) recordRobotsErrorAndBackoff(targetURL url.URL, robotsErr *robots.RobotsError) {
	if robotsErr.Cause != robots.ErrCauseHttpTooManyRequests && robotsErr.Cause != robots.ErrCauseHttpServerError {
		return
	}

	o.metadataSink.RecordError(
		time.Now(),
		"crawler",
		"admitURL",
		metadata.CauseNetworkFailure,
		robotsErr.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrURL, targetURL.String()),
			metadata.NewAttr(metadata.AttrHost, targetURL.Host),
			metadata.NewAttr(metadata.AttrPath, targetURL.Path),
		},
	)
	o.rateLimiter.Backoff(targetURL.Host)
}

// Run drives the crawl to completion: it seeds the frontier, dispatches a
// bounded pool of workers that drain it, and seals the snapshot once the
// frontier is exhausted and every worker has returned.
func (o *Orchestrator) Run(ctx context.Context, snapshotID string) (Result, error) {
	startedAt := time.Now()

	rootURL := ""
	if seeds := o.cfg.SeedURLs(); len(seeds) > 0 {
		rootURL = seeds[0].String()
	}

	defer func() {
		o.crawlFinalizer.RecordFinalCrawlStats(
			o.frontier.VisitedCount(),
			int(atomic.LoadInt64(&o.errorCount)),
			int(atomic.LoadInt64(&o.assetCount)),
			time.Since(startedAt),
		)
	}()
	if o.progress != nil {
		defer close(o.progress)
	}
	if closer, ok := o.htmlFetcher.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	if openErr := o.writer.Open(snapshotID); openErr != nil {
		return Result{}, openErr
	}

	for _, seed := range o.cfg.SeedURLs() {
		if admitErr := o.admitURL(ctx, seed, frontier.SourceSeed, 0); admitErr != nil {
			atomic.AddInt64(&o.errorCount, 1)
		}
	}

	retryParam := retryParamFrom(o.cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.GlobalConcurrency())

	status := snapshot.StatusComplete

dispatch:
	for {
		select {
		case <-ctx.Done():
			status = snapshot.StatusFailed
			break dispatch
		default:
		}

		token, ok := o.frontier.Dequeue()
		if !ok {
			if atomic.LoadInt64(&o.inFlight) == 0 {
				break dispatch
			}
			// Workers in flight may still discover and submit more URLs;
			// give them a moment before checking the frontier again.
			o.sleeper.Sleep(20 * time.Millisecond)
			continue
		}

		atomic.AddInt64(&o.inFlight, 1)
		g.Go(func() error {
			defer atomic.AddInt64(&o.inFlight, -1)

			pageErr := o.processToken(gctx, token, retryParam)
			if pageErr != nil {
				atomic.AddInt64(&o.errorCount, 1)
			}
			if o.metrics != nil {
				outcome := "ok"
				if pageErr != nil {
					outcome = "error"
				}
				o.metrics.ObservePageCrawled(outcome)
			}
			o.emitProgress(token.URL().String())
			// Per-page failures are recoverable by construction; the crawl
			// itself only aborts on context cancellation.
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		status = snapshot.StatusFailed
	}

	finishedAt := time.Now()
	summary := snapshot.Summary{
		SnapshotID:    snapshotID,
		RootURL:       rootURL,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Status:        string(status),
		PageCount:     o.frontier.VisitedCount(),
		ErrorCount:    int(atomic.LoadInt64(&o.errorCount)),
		AssetCount:    int(atomic.LoadInt64(&o.assetCount)),
		RespectRobots: o.cfg.RespectRobots(),
	}

	if sealErr := o.writer.Seal(summary); sealErr != nil {
		return Result{}, sealErr
	}

	return Result{
		Summary:    summary,
		PagesDone:  summary.PageCount,
		ErrorCount: summary.ErrorCount,
		AssetCount: summary.AssetCount,
		Duration:   finishedAt.Sub(startedAt),
	}, nil
}

// processToken runs the full fetch -> extract -> sanitize -> discover ->
// convert -> resolve -> normalize -> write pipeline for a single token. A
// returned error is always recoverable at the crawl level: the caller
// counts it and moves on, never aborting the whole run over one page.
func (o *Orchestrator) processToken(ctx context.Context, token frontier.CrawlToken, retryParam retry.RetryParam) failure.ClassifiedError {
	targetURL := token.URL()
	depth := token.Depth()
	host := targetURL.Host

	sem := o.hostSemaphoreFor(host)
	sem.acquire()
	defer sem.release()

	if delay := o.rateLimiter.ResolveDelay(host); delay > 0 {
		o.sleeper.Sleep(delay)
	}

	fetchParam := fetcher.NewFetchParam(targetURL, o.cfg.UserAgent())
	fetchResult, fetchErr := o.fetchThroughBreaker(ctx, host, depth, fetchParam, retryParam)
	o.rateLimiter.MarkLastFetchAsNow(host)
	if fetchErr != nil {
		o.rateLimiter.Backoff(host)
		return fetchErr
	}
	o.rateLimiter.ResetBackoff(host)

	extractionResult, extractErr := o.domExtractor.Extract(fetchResult.URL(), fetchResult.Body())
	if extractErr != nil {
		return extractErr
	}

	sanitizedHTML, sanitizeErr := o.htmlSanitizer.Sanitize(extractionResult.ContentNode)
	if sanitizeErr != nil {
		return sanitizeErr
	}

	outboundLinks := o.discoverAndAdmit(ctx, sanitizedHTML, targetURL, depth)

	conversionResult, convertErr := o.markdownConversionRule.Convert(sanitizedHTML)
	if convertErr != nil {
		return convertErr
	}

	resolveParam := assets.NewResolveParam(o.cfg.OutputDir(), o.cfg.MaxAssetSize(), hashutil.HashAlgo(o.cfg.HashAlgo()))
	assetfulDoc, resolveErr := o.assetResolver.Resolve(ctx, fetchResult.URL(), conversionResult, resolveParam, retryParam)
	if resolveErr != nil {
		// Missing assets are reported, not fatal - keep normalizing what we have.
		atomic.AddInt64(&o.errorCount, 1)
	}
	atomic.AddInt64(&o.assetCount, int64(len(assetfulDoc.LocalAssets())))

	normalizeParam := normalize.NewNormalizeParam(
		engineVersion,
		fetchResult.FetchedAt(),
		hashutil.HashAlgo(o.cfg.HashAlgo()),
		depth,
		o.cfg.AllowedPathPrefix(),
	)
	normalizedDoc, normalizeErr := o.markdownConstraint.Normalize(fetchResult.URL(), assetfulDoc, normalizeParam)
	if normalizeErr != nil {
		return normalizeErr
	}

	page := snapshot.Page{
		URL:             normalizedDoc.Frontmatter().CanonicalURL(),
		HTTPStatus:      fetchResult.Code(),
		FetchedAt:       fetchResult.FetchedAt(),
		Title:           normalizedDoc.Frontmatter().Title(),
		ResponseHeaders: fetchResult.Headers(),
		OutboundLinks:   outboundLinks,
		ContentRaw:      fetchResult.Body(),
		ContentCleaned:  renderNode(sanitizedHTML.GetContentNode()),
		ContentMarkdown: normalizedDoc.Content(),
		ContentHash:     normalizedDoc.Frontmatter().ContentHash(),
		CrawlDepth:      depth,
	}

	return o.writer.WritePage(page)
}

// fetchErrorCause extracts a label-safe cause string from a classified
// fetch error, for the fetch-errors-by-cause metric.
func fetchErrorCause(err failure.ClassifiedError) string {
	if fetchErr, ok := err.(*fetcher.FetchError); ok {
		return string(fetchErr.Cause)
	}
	return "unknown"
}

// fetchThroughBreaker routes the fetch through the host's circuit breaker.
// A tripped breaker short-circuits the request and comes back as a
// retryable fetcher.FetchError, the same shape processToken already
// handles for every other transport failure.
func (o *Orchestrator) fetchThroughBreaker(
	ctx context.Context,
	host string,
	depth int,
	fetchParam fetcher.FetchParam,
	retryParam retry.RetryParam,
) (fetcher.FetchResult, failure.ClassifiedError) {
	breaker := o.breakerFor(host)
	fetchStart := time.Now()

	result, execErr := breaker.Execute(func() (interface{}, error) {
		res, fetchErr := o.htmlFetcher.Fetch(ctx, depth, fetchParam, retryParam)
		if fetchErr != nil {
			return res, fetchErr
		}
		return res, nil
	})

	if o.metrics != nil {
		o.metrics.ObserveFetchDuration(host, time.Since(fetchStart).Seconds())
	}

	if execErr != nil {
		if classified, ok := execErr.(failure.ClassifiedError); ok {
			if o.metrics != nil {
				o.metrics.ObserveFetchError(fetchErrorCause(classified))
			}
			fetchResult, _ := result.(fetcher.FetchResult)
			return fetchResult, classified
		}
		if o.metrics != nil {
			o.metrics.ObserveFetchError(string(fetcher.ErrCauseCircuitOpen))
		}
		return fetcher.FetchResult{}, &fetcher.FetchError{
			Message:   execErr.Error(),
			Retryable: true,
			Cause:     fetcher.ErrCauseCircuitOpen,
		}
	}

	fetchResult, _ := result.(fetcher.FetchResult)
	return fetchResult, nil
}

// discoverAndAdmit resolves every link found on the page against the
// page's own scheme/host, submits each one through admitURL, and returns
// the absolute link strings for the page's artifact metadata.
func (o *Orchestrator) discoverAndAdmit(ctx context.Context, sanitizedHTML sanitizer.SanitizedHTMLDoc, pageURL url.URL, depth int) []string {
	discovered := sanitizedHTML.GetDiscoveredURLs()

	resolved := make([]url.URL, 0, len(discovered))
	for _, u := range discovered {
		resolved = append(resolved, urlutil.Resolve(u, pageURL.Scheme, pageURL.Host))
	}

	filtered := urlutil.FilterByHost(pageURL.Host, resolved)

	outbound := make([]string, 0, len(filtered))
	for _, discoveredURL := range filtered {
		outbound = append(outbound, discoveredURL.String())
		if admitErr := o.admitURL(ctx, discoveredURL, frontier.SourceCrawl, depth+1); admitErr != nil {
			atomic.AddInt64(&o.errorCount, 1)
		}
	}

	return outbound
}

func renderNode(n *html.Node) []byte {
	if n == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return nil
	}
	return buf.Bytes()
}
