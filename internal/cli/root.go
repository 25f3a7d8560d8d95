package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sitescope/engine/internal/build"
	"github.com/sitescope/engine/internal/project"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workspaceRoot string
	showVersion   bool
	logger        *zap.Logger
)

// rootCmd is the base command; every project/crawl/test subcommand hangs
// off it. Unlike the single-purpose crawler this CLI started from,
// rootCmd itself does nothing - the work lives in its subcommands.
var rootCmd = &cobra.Command{
	Use:   "sitescope",
	Short: "Crawl a site, audit its rendered output, and track regressions over time.",
	Long: `sitescope crawls a documentation or marketing site into a versioned
snapshot, runs a pluggable battery of analyzers against that snapshot
(text patterns, SEO, LLM discoverability, security headers, structural
bug matches), and tracks the findings as issues across crawls.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(c *cobra.Command, args []string) error {
		if showVersion {
			fmt.Fprintln(c.OutOrStdout(), build.LongVersion())
			return nil
		}
		return c.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sitescope build version",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		fmt.Fprintln(c.OutOrStdout(), build.LongVersion())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workspaceRoot, "root", defaultWorkspaceRoot(), "workspace root directory projects are stored under")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print the build version and exit")
	rootCmd.AddCommand(versionCmd)
}

func defaultWorkspaceRoot() string {
	if v := os.Getenv("SITESCOPE_ROOT"); v != "" {
		return v
	}
	return "./sitescope-data"
}

func workspace() *project.Workspace {
	return project.NewWorkspace(workspaceRoot)
}

// Execute adds all child commands to the root command and runs it. It is
// the sole exit point of the CLI: every subcommand reports failure by
// returning a *cliError, never by calling os.Exit itself.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(ExitCodeOf(err))
	}
}

// ExecuteArgs runs the command tree against an explicit argv with output
// captured to w, returning the error instead of exiting. Exported for
// tests; production use is always Execute.
func ExecuteArgs(w io.Writer, args []string) error {
	rootCmd.SetOut(w)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	return rootCmd.Execute()
}

// ExitCodeOf maps an error returned from ExecuteArgs/Execute to the exit
// code the CLI contract promises for it. Anything not recognized as a
// *cliError is an internal error.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	return ExitInternal
}
