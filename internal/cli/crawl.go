package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sitescope/engine/internal/config"
	"github.com/sitescope/engine/internal/crawler"
	"github.com/sitescope/engine/internal/metadata"
	"github.com/sitescope/engine/internal/metrics"
	"github.com/sitescope/engine/internal/project"
	"github.com/spf13/cobra"
)

var (
	crawlMaxPages   int
	crawlMaxDepth   int
	crawlInclude    []string
	crawlExclude    []string
	crawlMetricsOut string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run a crawl against a tracked project",
}

var crawlSiteCmd = &cobra.Command{
	Use:   "site <slug>",
	Short: "Crawl a project's site into a new snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		slug := args[0]
		ws := workspace()

		proj, err := ws.Open(slug)
		if err != nil {
			return classifyProjectError(err)
		}

		lock, err := ws.Acquire(slug)
		if err != nil {
			return classifyProjectError(err)
		}
		defer lock.Release()

		cfg, cfgErr := buildCrawlConfig(proj)
		if cfgErr != nil {
			return usageError(cfgErr)
		}

		recorder := metadata.NewRecorder(logger)
		orchestrator := crawler.NewOrchestrator(cfg, recorder, recorder, ws.ProjectRoot(slug))

		metricsReg := prometheus.NewRegistry()
		orchestrator.SetMetricsRegistry(metrics.NewRegistry(metricsReg))
		if crawlMetricsOut != "" {
			defer func() { _ = metrics.WriteSnapshot(crawlMetricsOut, metricsReg) }()
		}

		progress := make(chan crawler.ProgressEvent, 16)
		orchestrator.SetProgressSink(progress)
		done := make(chan struct{})
		go func() {
			renderCrawlProgress(c.OutOrStdout(), progress)
			close(done)
		}()

		snapshotID := time.Now().UTC().Format("20060102T150405Z")
		result, runErr := orchestrator.Run(context.Background(), snapshotID)
		<-done
		if runErr != nil {
			return internalError(runErr)
		}

		if touchErr := ws.Touch(slug); touchErr != nil {
			return classifyProjectError(touchErr)
		}

		fmt.Fprintf(c.OutOrStdout(), "snapshot %s: %d page(s), %d error(s), %d asset(s), took %s\n",
			snapshotID, result.PagesDone, result.ErrorCount, result.AssetCount, result.Duration.Round(time.Millisecond))
		return nil
	},
}

func buildCrawlConfig(proj project.Project) (config.Config, error) {
	seeds, err := parseSeedURL(proj.RootURL)
	if err != nil {
		return config.Config{}, err
	}

	builder := config.WithDefault(seeds)
	if crawlMaxPages > 0 {
		builder = builder.WithMaxPages(crawlMaxPages)
	}
	if crawlMaxDepth > 0 {
		builder = builder.WithMaxDepth(crawlMaxDepth)
	}
	if len(crawlInclude) > 0 {
		builder = builder.WithIncludePatterns(crawlInclude)
	}
	if len(crawlExclude) > 0 {
		builder = builder.WithExcludePatterns(crawlExclude)
	}
	return builder.Build()
}

func init() {
	crawlSiteCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "maximum number of pages to fetch (0 = use project default)")
	crawlSiteCmd.Flags().IntVar(&crawlMaxDepth, "max-depth", 0, "maximum link depth from the project's root URL (0 = use project default)")
	crawlSiteCmd.Flags().StringArrayVar(&crawlInclude, "include", nil, "glob a discovered URL's path must match at least one of (repeatable)")
	crawlSiteCmd.Flags().StringArrayVar(&crawlExclude, "exclude", nil, "glob that excludes an otherwise-admissible URL (repeatable)")
	crawlSiteCmd.Flags().StringVar(&crawlMetricsOut, "metrics-out", "", "write a Prometheus text-format metrics snapshot to this path when the crawl finishes")

	crawlCmd.AddCommand(crawlSiteCmd)
	rootCmd.AddCommand(crawlCmd)
}
