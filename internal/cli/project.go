package cmd

import (
	"fmt"

	"github.com/sitescope/engine/internal/project"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage tracked site projects",
}

var projectNewCmd = &cobra.Command{
	Use:   "new <url>",
	Short: "Create a new project rooted at url",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		proj, err := workspace().Create(args[0])
		if err != nil {
			return classifyProjectError(err)
		}
		fmt.Fprintf(c.OutOrStdout(), "created project %s (%s)\n", proj.Slug, proj.RootURL)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every tracked project",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		projects, err := workspace().List()
		if err != nil {
			return internalError(err)
		}
		if len(projects) == 0 {
			fmt.Fprintln(c.OutOrStdout(), "no projects yet - create one with `sitescope project new <url>`")
			return nil
		}
		for _, p := range projects {
			fmt.Fprintf(c.OutOrStdout(), "%s\t%s\tlast updated %s\n", p.Slug, p.RootURL, p.LastUpdated.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectNewCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd)
}

// classifyProjectError maps project.Error's Cause to the CLI exit-code
// contract: invalid input is a usage error, an unknown slug is
// not-found, everything else (IO, lock contention) is internal.
func classifyProjectError(err error) error {
	pe, ok := err.(*project.Error)
	if !ok {
		return internalError(err)
	}
	switch pe.Cause {
	case project.ErrCauseInvalidURL, project.ErrCauseAlreadyExists:
		return usageError(pe)
	case project.ErrCauseNotFound:
		return notFoundError(pe)
	default:
		return internalError(pe)
	}
}
