package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sitescope/engine/internal/analyzer"
	_ "github.com/sitescope/engine/internal/analyzer/bugfinder"
	_ "github.com/sitescope/engine/internal/analyzer/llmdiscover"
	_ "github.com/sitescope/engine/internal/analyzer/patternscan"
	_ "github.com/sitescope/engine/internal/analyzer/security"
	_ "github.com/sitescope/engine/internal/analyzer/seo"
	"github.com/sitescope/engine/internal/issues"
	"github.com/sitescope/engine/internal/metrics"
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
	"github.com/sitescope/engine/internal/testrunner"
	"github.com/spf13/cobra"
)

var (
	testSelectedPlugins []string
	testSnapshotID      string
	testTimeoutSeconds  int
	testConfigFlags     []string
	testMetricsOut      string

	viewIssuesStatus string
	viewIssuesPlugin string
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run analyzers against a project's snapshots and manage the issue register",
}

var testListPluginsCmd = &cobra.Command{
	Use:   "list-plugins",
	Short: "List every registered analyzer",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		for _, a := range analyzer.List() {
			fmt.Fprintf(c.OutOrStdout(), "%s\t%s\n", a.Name(), a.Description())
		}
		return nil
	},
}

var testRunCmd = &cobra.Command{
	Use:   "run <slug>",
	Short: "Run analyzers against a project's latest (or named) snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		slug := args[0]
		ws := workspace()

		if _, err := ws.Open(slug); err != nil {
			return classifyProjectError(err)
		}

		snapshotID := testSnapshotID
		if snapshotID == "" {
			latest, ok, err := ws.LatestSnapshot(slug)
			if err != nil {
				return classifyProjectError(err)
			}
			if !ok {
				return notFoundError(fmt.Errorf("project %q has no snapshots yet - run `sitescope crawl site %s` first", slug, slug))
			}
			snapshotID = latest
		}

		snapDir, err := ws.SnapshotDir(slug, snapshotID)
		if err != nil {
			return classifyProjectError(err)
		}
		reader, openErr := snapshot.OpenReader(snapDir)
		if openErr != nil {
			return internalError(openErr)
		}

		configs, parseErr := parseConfigFlags(testConfigFlags)
		if parseErr != nil {
			return usageError(parseErr)
		}

		store := resultstore.NewStore(ws.TestResultsDir(slug))
		tracker := issues.NewTracker(ws.IssuesPath(slug))
		runner := testrunner.NewRunner(analyzer.NewHost(), store, tracker, nil)

		metricsReg := prometheus.NewRegistry()
		registry := metrics.NewRegistry(metricsReg)
		runner.SetMetricsRegistry(registry)
		tracker.SetMetricsRegistry(registry)
		if testMetricsOut != "" {
			defer func() { _ = metrics.WriteSnapshot(testMetricsOut, metricsReg) }()
		}

		opts := testrunner.RunOptions{
			Plugins: testSelectedPlugins,
			Configs: configs,
		}
		if testTimeoutSeconds > 0 {
			opts.PerPluginTimeout = time.Duration(testTimeoutSeconds) * time.Second
		}

		results, runErr := runner.Run(c.Context(), reader, snapshotID, opts)
		if runErr != nil {
			return internalError(runErr)
		}

		failed := false
		for _, result := range results {
			fmt.Fprintf(c.OutOrStdout(), "%s: %s - %s\n", result.PluginName, result.Status, result.Summary)
			if result.Status == resultstore.StatusFail || result.Status == resultstore.StatusError {
				failed = true
			}
		}
		if failed {
			return &cliError{code: ExitAnalyzerFail, err: fmt.Errorf("one or more analyzers reported findings or failed")}
		}
		return nil
	},
}

var testViewIssuesCmd = &cobra.Command{
	Use:   "view-issues <slug>",
	Short: "List a project's tracked issues",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		slug := args[0]
		ws := workspace()
		if _, err := ws.Open(slug); err != nil {
			return classifyProjectError(err)
		}

		tracker := issues.NewTracker(ws.IssuesPath(slug))
		allIssues, err := tracker.List()
		if err != nil {
			return internalError(err)
		}

		filtered := make([]issues.Issue, 0, len(allIssues))
		for _, issue := range allIssues {
			if viewIssuesStatus != "" && !strings.EqualFold(string(issue.Status), viewIssuesStatus) {
				continue
			}
			if viewIssuesPlugin != "" && issue.PluginName != viewIssuesPlugin {
				continue
			}
			filtered = append(filtered, issue)
		}

		if len(filtered) == 0 {
			fmt.Fprintln(c.OutOrStdout(), "no issues")
			return nil
		}
		for _, issue := range filtered {
			fmt.Fprintf(c.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n", issue.ID, issue.Status, issue.Priority, issue.PluginName, issue.Title)
		}
		return nil
	},
}

// parseConfigFlags turns repeated "NAME:JSON" --config flags into the
// per-plugin config map RunOptions expects.
func parseConfigFlags(flags []string) (map[string]map[string]interface{}, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	configs := make(map[string]map[string]interface{}, len(flags))
	for _, flag := range flags {
		name, rawJSON, ok := strings.Cut(flag, ":")
		if !ok {
			return nil, fmt.Errorf("--config value %q must be NAME:JSON", flag)
		}
		var cfg map[string]interface{}
		if err := json.Unmarshal([]byte(rawJSON), &cfg); err != nil {
			return nil, fmt.Errorf("--config %s: invalid JSON: %w", name, err)
		}
		configs[name] = cfg
	}
	return configs, nil
}

func init() {
	testRunCmd.Flags().StringArrayVar(&testSelectedPlugins, "test", nil, "analyzer name to run (repeatable; default: every registered analyzer)")
	testRunCmd.Flags().StringVar(&testSnapshotID, "snapshot", "", "snapshot id to test against (default: latest sealed snapshot)")
	testRunCmd.Flags().IntVar(&testTimeoutSeconds, "timeout", 0, "per-plugin timeout in seconds (default: 300)")
	testRunCmd.Flags().StringArrayVar(&testConfigFlags, "config", nil, "NAME:JSON config for one analyzer (repeatable)")
	testRunCmd.Flags().StringVar(&testMetricsOut, "metrics-out", "", "write a Prometheus text-format metrics snapshot to this path when the run finishes")

	testViewIssuesCmd.Flags().StringVar(&viewIssuesStatus, "status", "", "filter by issue status")
	testViewIssuesCmd.Flags().StringVar(&viewIssuesPlugin, "plugin", "", "filter by owning plugin name")

	testCmd.AddCommand(testListPluginsCmd, testRunCmd, testViewIssuesCmd)
	rootCmd.AddCommand(testCmd)
}
