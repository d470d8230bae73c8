package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/viper"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/config"
	"github.com/conneroisu/pagegraph/internal/di"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/types"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
	headColor = color.New(color.Bold)
)

// app is the state shared by the commands that work on a site.
type app struct {
	cfg       *config.Config
	container *di.ServiceContainer
	pages     *services.PageService
	siteID    types.SiteID
}

func newApp() (*app, error) {
	cfg, err := config.LoadFrom(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	container := di.NewServiceContainer(cfg)
	if err := container.Initialize(); err != nil {
		return nil, err
	}
	pages, err := container.GetPageService()
	if err != nil {
		_ = container.Shutdown(context.Background())
		return nil, err
	}

	return &app{
		cfg:       cfg,
		container: container,
		pages:     pages,
		siteID:    types.SiteID(cfg.Site.ID),
	}, nil
}

func (a *app) close() {
	_ = a.container.Shutdown(context.Background())
}

func (a *app) syncOptions() services.SyncOptions {
	return services.SyncOptions{
		Root:        a.cfg.Site.Root,
		SnippetsDir: a.cfg.Site.Snippets,
		Extensions:  a.cfg.Site.Extensions,
	}
}

func printSyncReport(w io.Writer, report *services.SyncReport) {
	if report == nil {
		return
	}
	okColor.Fprintf(w, "Synced %d pages and %d snippets", report.Pages, report.Snippets)
	fmt.Fprintf(w, " (%d changed)\n", report.Changed)
	for _, f := range report.Failures {
		errColor.Fprint(w, "  ✗ ")
		fmt.Fprintf(w, "%s: %s\n", f.Fullpath, f.Message)
	}
}

func printPropagation(w io.Writer, report *build.PropagationReport) {
	if report == nil || report.Descendants == 0 {
		return
	}
	fmt.Fprintf(w, "  recompiled %d of %d descendants", len(report.Recompiled), report.Descendants)
	dimColor.Fprintf(w, " in %s\n", report.Duration)
	for _, id := range report.Skipped {
		warnColor.Fprintf(w, "  skipped %s\n", id)
	}
	for _, f := range report.Failures {
		errColor.Fprint(w, "  ✗ ")
		fmt.Fprintf(w, "%s: %s\n", f.Fullpath, f.Error)
	}
}
