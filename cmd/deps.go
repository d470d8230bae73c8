package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/types"
)

var depsJSON bool

var depsCmd = &cobra.Command{
	Use:   "deps FULLPATH",
	Short: "Show a page's dependencies and dependents",
	Long: `Show the pages and snippets a stored page depends on, and every page that
inherits from it.

Examples:
  pagegraph deps index
  pagegraph deps blog/post --json`,
	Args: cobra.ExactArgs(1),
	RunE: runDeps,
}

func init() {
	rootCmd.AddCommand(depsCmd)
	depsCmd.Flags().BoolVar(&depsJSON, "json", false, "print as JSON")
}

type depsOutput struct {
	Fullpath   string   `json:"fullpath"`
	Extends    []string `json:"extends"`
	Snippets   []string `json:"snippets"`
	Dependents []string `json:"dependents"`
}

func runDeps(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	page, err := a.pages.GetPage(ctx, a.siteID, args[0])
	if err != nil {
		return err
	}
	dependents, err := a.pages.Dependents(ctx, a.siteID, args[0])
	if err != nil {
		return err
	}

	// map ids back to fullpaths for display
	all, err := a.pages.ListPages(ctx, a.siteID)
	if err != nil {
		return err
	}
	fullpaths := make(map[types.PageID]string, len(all))
	for _, p := range all {
		fullpaths[p.ID] = p.Fullpath
	}

	out := depsOutput{
		Fullpath:   page.Fullpath,
		Extends:    make([]string, 0, len(page.TemplateDependencies)),
		Snippets:   make([]string, 0, len(page.SnippetDependencies)),
		Dependents: make([]string, 0, len(dependents)),
	}
	for _, id := range page.TemplateDependencies {
		name, ok := fullpaths[id]
		if !ok {
			name = string(id)
		}
		out.Extends = append(out.Extends, name)
	}
	for _, id := range page.SnippetDependencies {
		out.Snippets = append(out.Snippets, string(id))
	}
	for _, p := range dependents {
		out.Dependents = append(out.Dependents, p.Fullpath)
	}

	w := cmd.OutOrStdout()
	if depsJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	headColor.Fprintln(w, out.Fullpath)
	printList(w, "extends", out.Extends)
	printList(w, "snippets", out.Snippets)
	printList(w, "dependents", out.Dependents)
	return nil
}

func printList(w io.Writer, label string, items []string) {
	fmt.Fprintf(w, "  %s:", label)
	if len(items) == 0 {
		dimColor.Fprintln(w, " none")
		return
	}
	fmt.Fprintln(w)
	for _, item := range items {
		fmt.Fprintf(w, "    - %s\n", item)
	}
}
