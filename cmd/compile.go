package cmd

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/errors"
)

var compileJSON bool

var compileCmd = &cobra.Command{
	Use:     "compile FULLPATH...",
	Aliases: []string{"c"},
	Short:   "Compile pages and propagate to their descendants",
	Long: `Compile the pages with the given fullpaths from their template files under
the site root, save them and recompile every page inheriting from them.

Examples:
  pagegraph compile index
  pagegraph compile blog/post about --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().BoolVar(&compileJSON, "json", false, "print results as JSON")
}

func runCompile(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	failed := 0
	for _, fullpath := range args {
		path, err := a.templatePath(fullpath)
		if err != nil {
			errColor.Fprint(out, "✗ ")
			fmt.Fprintf(out, "%s: %v\n", fullpath, err)
			failed++
			continue
		}
		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		result, err := a.pages.PutPage(cmd.Context(), a.siteID, fullpath, string(source))
		if compileJSON && result != nil {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(result); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			failed++
			var vec *errors.ValidationErrorCollection
			if !stderrors.As(err, &vec) || result == nil {
				errColor.Fprint(out, "✗ ")
				fmt.Fprintf(out, "%s: %v\n", fullpath, err)
				continue
			}
			errColor.Fprint(out, "✗ ")
			fmt.Fprintf(out, "%s\n", fullpath)
			for _, ce := range result.Page.ParsingErrors() {
				fmt.Fprintf(out, "  %s ", ce.Token())
				dimColor.Fprintf(out, "%s\n", ce.Error())
			}
			continue
		}
		if compileJSON {
			continue
		}

		okColor.Fprint(out, "✓ ")
		fmt.Fprint(out, fullpath)
		if !result.Changed {
			dimColor.Fprint(out, " (unchanged)")
		}
		fmt.Fprintln(out)
		if deps := result.Page.TemplateDependencies; len(deps) > 0 {
			fmt.Fprintf(out, "  inherits from %d pages\n", len(deps))
		}
		if snippets := result.Page.SnippetDependencies; len(snippets) > 0 {
			fmt.Fprintf(out, "  includes %d snippets\n", len(snippets))
		}
		printPropagation(out, result.Propagation)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pages failed to compile", failed, len(args))
	}
	return nil
}

// templatePath finds the template file of fullpath under the site root.
func (a *app) templatePath(fullpath string) (string, error) {
	for _, ext := range a.cfg.Site.Extensions {
		path := filepath.Join(a.cfg.Site.Root, filepath.FromSlash(fullpath)+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no template file for %q under %s", fullpath, a.cfg.Site.Root)
}
