package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Recompile templates as they change",
	Long: `Sync the site once, then watch the site root and snippets directory and
recompile changed templates and their descendants until interrupted.

Examples:
  pagegraph watch
  pagegraph watch --storage memory`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	report, err := a.pages.Sync(ctx, a.siteID, a.syncOptions())
	printSyncReport(out, report)
	if err != nil && report == nil {
		return err
	}

	fw, err := a.startWatcher(ctx, out)
	if err != nil {
		return err
	}
	defer fw.Stop()

	headColor.Fprintln(out, "Watching for changes. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Fprintln(out, "Stopping watcher")
	return nil
}

// startWatcher watches the site's template directories and syncs every
// batch of changed files.
func (a *app) startWatcher(ctx context.Context, out io.Writer) (*watcher.FileWatcher, error) {
	logger, err := a.container.GetLogger()
	if err != nil {
		return nil, err
	}

	fw, err := watcher.NewFileWatcher(a.cfg.Watch.Debounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.ExtensionFilter(a.cfg.Site.Extensions...))
	fw.AddFilter(watcher.IgnoreFilter(a.cfg.Watch.Ignore...))

	opts := a.syncOptions()
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		paths := make([]string, 0, len(events))
		for _, e := range events {
			paths = append(paths, e.Path)
		}
		if err := a.pages.SyncFiles(ctx, a.siteID, opts, paths); err != nil {
			errColor.Fprint(out, "✗ ")
			fmt.Fprintln(out, err)
			return err
		}
		okColor.Fprintf(out, "✓ synced %d changed files\n", len(paths))
		return nil
	})

	for _, dir := range []string{a.cfg.Site.Root, a.cfg.Site.Snippets} {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			logger.Warn(ctx, err, "Skipping missing directory", "dir", dir)
			continue
		}
		if err := fw.AddRecursive(dir); err != nil {
			_ = fw.Stop()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	logger.Info(ctx, "Watching templates", "root", a.cfg.Site.Root, "snippets", a.cfg.Site.Snippets)
	return fw, nil
}
