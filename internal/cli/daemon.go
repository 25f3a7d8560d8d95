package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sitescope/engine/internal/metrics"
	"github.com/sitescope/engine/internal/schedulerdaemon"
	"github.com/spf13/cobra"
)

var (
	daemonSchedule   string
	daemonMetricsOut string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run recurring crawl-and-test passes for tracked projects",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler and apply one cron schedule to every tracked project",
	Long: `run starts the scheduler daemon and applies --schedule to every
project currently tracked in the workspace. New projects created after
the daemon starts are not picked up until it is restarted. The daemon
runs until interrupted (SIGINT/SIGTERM), at which point it waits for any
in-flight crawl or test pass to finish before exiting.`,
	Args: cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		if err := schedulerdaemon.ValidateSchedule(daemonSchedule); err != nil {
			return usageError(fmt.Errorf("--schedule: %w", err))
		}

		ws := workspace()
		projects, err := ws.List()
		if err != nil {
			return classifyProjectError(err)
		}
		if len(projects) == 0 {
			return notFoundError(fmt.Errorf("no tracked projects - run `sitescope project new <url>` first"))
		}

		metricsReg := prometheus.NewRegistry()
		registry := metrics.NewRegistry(metricsReg)
		if daemonMetricsOut != "" {
			defer func() { _ = metrics.WriteSnapshot(daemonMetricsOut, metricsReg) }()
		}

		d := schedulerdaemon.New(ws, logger, registry)
		for _, proj := range projects {
			if schedErr := d.Schedule(schedulerdaemon.Job{Slug: proj.Slug, Schedule: daemonSchedule}); schedErr != nil {
				return usageError(schedErr)
			}
		}

		fmt.Fprintf(c.OutOrStdout(), "scheduler: %d project(s) on %q, press ctrl-c to stop\n", len(projects), daemonSchedule)
		d.Start()

		ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		fmt.Fprintln(c.OutOrStdout(), "scheduler: stopping, waiting for in-flight runs")
		<-d.Stop().Done()
		return nil
	},
}

func init() {
	daemonRunCmd.Flags().StringVar(&daemonSchedule, "schedule", "0 * * * *", "cron expression (5-field: minute hour dom month dow) applied to every tracked project")
	daemonRunCmd.Flags().StringVar(&daemonMetricsOut, "metrics-out", "", "write a Prometheus text-format metrics snapshot to this path on shutdown")

	daemonCmd.AddCommand(daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}
