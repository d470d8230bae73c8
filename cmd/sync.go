package cmd

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Aliases: []string{"s"},
	Short:   "Compile every page and snippet under the site root",
	Long: `Load every snippet and page template from disk into the store, compiling
each page and propagating changes to inheriting pages. Pages extending a page
that is loaded later in the run are retried.

Examples:
  pagegraph sync
  pagegraph sync --storage memory   # dry run against an in-memory store`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.pages.Sync(cmd.Context(), a.siteID, a.syncOptions())
	printSyncReport(cmd.OutOrStdout(), report)
	return err
}
