package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/pkg/failure"
	"github.com/sitescope/engine/pkg/retry"
)

/*
RenderFetcher fetches a page through a headless Chrome instance instead of
a bare HTTP GET, so client-rendered content (SPA shells, JS-injected docs
navigation) ends up in the snapshot the way a browser would see it. It
implements the same Fetcher interface as HtmlFetcher and is a drop-in
replacement selected by the orchestrator when a project's config asks
for RenderJS.

The underlying browser process is expensive to start, so one is launched
lazily on first Fetch and kept alive for the orchestrator's lifetime.
*/

type RenderFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client

	launchOnce sync.Once
	launchErr  error
	browser    *rod.Browser

	navigateTimeout time.Duration
}

var _ Fetcher = (*RenderFetcher)(nil)

func NewRenderFetcher(metadataSink metadata.MetadataSink) RenderFetcher {
	return RenderFetcher{
		metadataSink:    metadataSink,
		httpClient:      &http.Client{},
		navigateTimeout: 20 * time.Second,
	}
}

// Init swaps in a caller-provided HTTP client. RenderFetcher keeps it only
// to satisfy the Fetcher interface; page loads go through the browser,
// not httpClient.
func (r *RenderFetcher) Init(httpClient *http.Client) {
	r.httpClient = httpClient
}

func (r *RenderFetcher) ensureBrowser() error {
	r.launchOnce.Do(func() {
		controlURL, err := launcher.New().Headless(true).Launch()
		if err != nil {
			r.launchErr = fmt.Errorf("launch headless chrome: %w", err)
			return
		}
		r.browser = rod.New().ControlURL(controlURL)
		if err := r.browser.Connect(); err != nil {
			r.launchErr = fmt.Errorf("connect to chrome: %w", err)
		}
	})
	return r.launchErr
}

func (r *RenderFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "RenderFetcher.Fetch"
	startTime := time.Now()

	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return r.renderOnce(ctx, fetchParam)
	}
	retryResult := retry.Retry(retryParam, fetchTask)
	result := retryResult.Value()
	retryErr := retryResult.Err()

	duration := time.Since(startTime)
	var statusCode int
	if retryErr == nil {
		statusCode = result.Code()
	}
	r.metadataSink.RecordFetch(fetchParam.fetchUrl.String(), statusCode, duration, "text/html", 0, crawlDepth)

	if retryErr != nil {
		r.metadataSink.RecordError(
			time.Now(), "fetcher", callerMethod, metadata.CauseNetworkFailure, retryErr.Error(),
			[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, fetchParam.fetchUrl.String())},
		)
		return FetchResult{}, retryErr
	}
	return result, nil
}

func (r *RenderFetcher) renderOnce(ctx context.Context, fetchParam FetchParam) (FetchResult, failure.ClassifiedError) {
	if err := r.ensureBrowser(); err != nil {
		return FetchResult{}, &FetchError{Message: err.Error(), Retryable: false, Cause: ErrCauseNetworkFailure}
	}

	page, err := r.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("open tab: %v", err), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: fetchParam.userAgent}); err != nil {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("set user agent: %v", err), Retryable: false, Cause: ErrCauseNetworkFailure}
	}

	navCtx, cancel := context.WithTimeout(ctx, r.navigateTimeout)
	defer cancel()
	page = page.Context(navCtx)

	if err := page.Navigate(fetchParam.fetchUrl.String()); err != nil {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("navigate: %v", err), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	if err := page.WaitLoad(); err != nil {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("wait load: %v", err), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	// Give in-flight XHRs a beat to settle before we snapshot the DOM.
	page.WaitIdle(2 * time.Second)

	html, err := page.HTML()
	if err != nil {
		return FetchResult{}, &FetchError{Message: fmt.Sprintf("read rendered html: %v", err), Retryable: true, Cause: ErrCauseReadResponseBodyError}
	}

	return FetchResult{
		url:  fetchParam.fetchUrl,
		body: []byte(html),
		meta: ResponseMeta{
			statusCode:          http.StatusOK,
			transferredSizeByte: uint64(len(html)),
			responseHeaders:     map[string]string{"Content-Type": "text/html; charset=utf-8"},
		},
		fetchedAt: time.Now(),
	}, nil
}

// Close releases the headless browser process, if one was launched.
func (r *RenderFetcher) Close() error {
	if r.browser == nil {
		return nil
	}
	return r.browser.Close()
}
