// Package metrics exposes the engine's Prometheus collectors: pages
// crawled, fetch latency, analyzer run duration, and issue-state
// transitions. It is observational only - nothing here ever feeds back
// into crawl or test-run control flow.
package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry bundles every collector the engine registers, so a caller
// wires one struct into both the crawler/testrunner call sites and a
// single promhttp handler.
type Registry struct {
	PagesCrawled     *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	AnalyzerDuration *prometheus.HistogramVec
	AnalyzerRuns     *prometheus.CounterVec
	IssueTransitions *prometheus.CounterVec
	CircuitBreaker   *prometheus.CounterVec
}

// NewRegistry constructs and registers every collector against reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests, or
// multiple engine instances in one process), or prometheus.DefaultRegisterer
// to expose via the default /metrics handler.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		PagesCrawled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitescope",
			Subsystem: "crawler",
			Name:      "pages_total",
			Help:      "Pages the crawler finished processing, by outcome.",
		}, []string{"outcome"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitescope",
			Subsystem: "crawler",
			Name:      "fetch_errors_total",
			Help:      "Fetch failures, by error cause.",
		}, []string{"cause"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sitescope",
			Subsystem: "crawler",
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch a single page, by host.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		AnalyzerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sitescope",
			Subsystem: "testrunner",
			Name:      "analyzer_duration_seconds",
			Help:      "Time an analyzer took to run against one snapshot.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"plugin"}),
		AnalyzerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitescope",
			Subsystem: "testrunner",
			Name:      "analyzer_runs_total",
			Help:      "Analyzer invocations, by plugin and result status.",
		}, []string{"plugin", "status"}),
		IssueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitescope",
			Subsystem: "issues",
			Name:      "transitions_total",
			Help:      "Issue register state transitions, by target status.",
		}, []string{"status"}),
		CircuitBreaker: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitescope",
			Subsystem: "crawler",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Per-host circuit breaker state transitions.",
		}, []string{"host", "to_state"}),
	}

	reg.MustRegister(
		r.PagesCrawled,
		r.FetchErrors,
		r.FetchDuration,
		r.AnalyzerDuration,
		r.AnalyzerRuns,
		r.IssueTransitions,
		r.CircuitBreaker,
	)
	return r
}

func (r *Registry) ObservePageCrawled(outcome string) {
	r.PagesCrawled.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveFetchError(cause string) {
	r.FetchErrors.WithLabelValues(cause).Inc()
}

func (r *Registry) ObserveFetchDuration(host string, seconds float64) {
	r.FetchDuration.WithLabelValues(host).Observe(seconds)
}

func (r *Registry) ObserveAnalyzerRun(plugin, status string, seconds float64) {
	r.AnalyzerRuns.WithLabelValues(plugin, status).Inc()
	r.AnalyzerDuration.WithLabelValues(plugin).Observe(seconds)
}

func (r *Registry) ObserveIssueTransition(status string) {
	r.IssueTransitions.WithLabelValues(status).Inc()
}

func (r *Registry) ObserveBreakerTransition(host, toState string) {
	r.CircuitBreaker.WithLabelValues(host, toState).Inc()
}

// WriteSnapshot gathers every metric registered against gatherer and
// writes it to path in Prometheus text exposition format - the batch-CLI
// equivalent of scraping a running /metrics endpoint, for a tool whose
// process exits once the crawl or test run finishes.
func WriteSnapshot(path string, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
