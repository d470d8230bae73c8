package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/pagegraph/internal/config"
)

var initMinimal bool

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Create a configuration file and a starter site",
	Long: `Write .pagegraph.yml with the default settings and, unless --minimal is
given, a starter layout: an index page, an about page extending it and a
navigation snippet. Existing files are left untouched.

Examples:
  pagegraph init
  pagegraph init my-site --minimal`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "only write the configuration file")
}

var starterTemplates = map[string]string{
	"index.liquid": `<!DOCTYPE html>
<html>
<head><title>{% block title %}{{ site.name }}{% endblock %}</title></head>
<body>
  {% include 'nav' %}
  {% block body %}
    {% editable_text 'welcome' %}Welcome to {{ site.name }}{% endeditable_text %}
  {% endblock %}
</body>
</html>
`,
	"about.liquid": `{% extends 'index' %}
{% block title %}About{% endblock %}
{% block body %}
  {% editable_long_text 'story' %}Tell your story here.{% endeditable_long_text %}
{% endblock %}
`,
}

var starterSnippets = map[string]string{
	"nav.liquid": `<nav><a href="/">Home</a> <a href="/about">About</a></nav>
`,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	cfg, err := config.LoadFrom(viper.New())
	if err != nil {
		return err
	}
	cfg.Site.Name = filepath.Base(absOr(dir))

	out := cmd.OutOrStdout()
	cfgPath := filepath.Join(dir, ".pagegraph.yml")
	if err := config.WriteFile(cfgPath, cfg); err != nil {
		warnColor.Fprintf(out, "! %v\n", err)
	} else {
		okColor.Fprint(out, "✓ ")
		fmt.Fprintln(out, cfgPath)
	}

	if initMinimal {
		return nil
	}

	if err := writeStarter(out, filepath.Join(dir, cfg.Site.Root), starterTemplates); err != nil {
		return err
	}
	if err := writeStarter(out, filepath.Join(dir, cfg.Site.Snippets), starterSnippets); err != nil {
		return err
	}

	fmt.Fprintln(out)
	dimColor.Fprintln(out, "Run 'pagegraph sync' to compile the site.")
	return nil
}

func writeStarter(out io.Writer, dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			dimColor.Fprintf(out, "- %s exists\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		okColor.Fprint(out, "✓ ")
		fmt.Fprintln(out, path)
	}
	return nil
}

func absOr(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}
