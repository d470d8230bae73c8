package build

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/store"
	"github.com/conneroisu/pagegraph/internal/types"
)

// DefaultSaveConcurrency bounds parallel saves of a propagation pass.
const DefaultSaveConcurrency = 8

// PageFailure is a descendant that could not be recompiled or saved.
type PageFailure struct {
	PageID   types.PageID `json:"page_id"`
	Fullpath string       `json:"fullpath"`
	Error    string       `json:"error"`
}

// PropagationReport summarizes one propagation pass.
type PropagationReport struct {
	SiteID  types.SiteID `json:"site_id"`
	Changed types.PageID `json:"changed,omitempty"`
	// Snippet is set instead of Changed when a snippet changed.
	Snippet types.SnippetID `json:"snippet,omitempty"`
	// Descendants is the number of pages depending on Changed.
	Descendants int `json:"descendants"`
	// Recompiled lists descendants in compile order.
	Recompiled []types.PageID `json:"recompiled"`
	Saved      []types.PageID `json:"saved"`
	// Skipped lists descendants left as they were because a page they
	// inherit from failed to recompile.
	Skipped  []types.PageID `json:"skipped,omitempty"`
	Failures []PageFailure  `json:"failures,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// DescendantResolver recompiles and saves every page that inherits from a
// changed page.
type DescendantResolver struct {
	repo        store.Repository
	pipeline    *Pipeline
	logger      logging.Logger
	concurrency int
}

// NewDescendantResolver creates a resolver. concurrency bounds parallel
// saves; values below one use DefaultSaveConcurrency.
func NewDescendantResolver(repo store.Repository, pipeline *Pipeline, logger logging.Logger, concurrency int) *DescendantResolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if concurrency < 1 {
		concurrency = DefaultSaveConcurrency
	}
	return &DescendantResolver{
		repo:        repo,
		pipeline:    pipeline,
		logger:      logger.WithComponent("propagation"),
		concurrency: concurrency,
	}
}

// propagation is the state of one pass.
type propagation struct {
	site    *types.Site
	pages   []*types.Page
	cached  map[string]*types.Page
	visited map[types.PageID]bool
	failed  map[types.PageID]bool
	report  *PropagationReport
}

// Propagate recompiles the descendants of changed, parents before children,
// and then saves each of them once. changed must already hold its new
// compiled state and dependencies.
func (r *DescendantResolver) Propagate(ctx context.Context, site *types.Site, changed *types.Page) (*PropagationReport, error) {
	perf := logging.StartOperation(r.logger, "propagate", "page", changed.ID, "fullpath", changed.Fullpath)
	report := newReport(changed.SiteID)
	report.Changed = changed.ID

	descendants, err := r.repo.FindTemplateDescendants(ctx, changed.SiteID, changed.ID)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, errors.WrapStorage(err, errors.ErrCodeQueryFailed, "failed to query template descendants").
			WithPage(string(changed.SiteID), changed.Fullpath)
	}

	pass := newPropagation(site, descendants, report)
	pass.visited[changed.ID] = true

	if err := r.walk(ctx, pass, changed); err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}
	if err := r.sweep(ctx, pass); err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}

	if err := r.finish(ctx, pass, perf); err != nil {
		return report, errors.WrapStorage(err, errors.ErrCodePropagation, "failed to save descendants").
			WithPage(string(changed.SiteID), changed.Fullpath)
	}
	return report, nil
}

// PropagateSnippet recompiles and saves every page that includes the
// snippet, directly or through a page it inherits from.
func (r *DescendantResolver) PropagateSnippet(ctx context.Context, site *types.Site, snippetID types.SnippetID) (*PropagationReport, error) {
	perf := logging.StartOperation(r.logger, "propagate_snippet", "snippet", snippetID)
	report := newReport(site.ID)
	report.Snippet = snippetID

	dependents, err := r.repo.FindSnippetDependents(ctx, site.ID, snippetID)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, errors.WrapStorage(err, errors.ErrCodeQueryFailed, "failed to query snippet dependents").
			WithContext("snippet", string(snippetID))
	}

	// every page inheriting from a dependent is itself a dependent, so the
	// shallowest pages are the roots of the pass
	pass := newPropagation(site, dependents, report)
	if err := r.sweep(ctx, pass); err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}

	if err := r.finish(ctx, pass, perf); err != nil {
		return report, errors.WrapStorage(err, errors.ErrCodePropagation, "failed to save snippet dependents").
			WithContext("snippet", string(snippetID))
	}
	return report, nil
}

func newReport(siteID types.SiteID) *PropagationReport {
	return &PropagationReport{
		SiteID:     siteID,
		Recompiled: make([]types.PageID, 0),
		Saved:      make([]types.PageID, 0),
	}
}

func newPropagation(site *types.Site, pages []*types.Page, report *PropagationReport) *propagation {
	pass := &propagation{
		site:    site,
		pages:   pages,
		cached:  make(map[string]*types.Page, len(pages)),
		visited: make(map[types.PageID]bool, len(pages)+1),
		failed:  make(map[types.PageID]bool),
		report:  report,
	}
	for _, p := range pages {
		pass.cached[p.Fullpath] = p
	}
	report.Descendants = len(pages)
	return pass
}

// finish saves the pass and completes its report.
func (r *DescendantResolver) finish(ctx context.Context, pass *propagation, perf *logging.PerfLogger) error {
	saveErr := r.persist(ctx, pass)

	report := pass.report
	report.Duration = perf.Elapsed()
	r.pipeline.Metrics().RecordPropagation(report)

	if saveErr != nil {
		perf.EndWithError(ctx, saveErr)
		return saveErr
	}
	perf.End(ctx,
		"descendants", report.Descendants,
		"recompiled", len(report.Recompiled),
		"saved", len(report.Saved),
		"failures", len(report.Failures))
	return nil
}

// walk recompiles the direct dependents of parent, each followed by its own
// subtree.
func (r *DescendantResolver) walk(ctx context.Context, pass *propagation, parent *types.Page) error {
	for _, page := range pass.pages {
		if pass.visited[page.ID] || !isDirectDependent(page, parent) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		pass.visited[page.ID] = true
		if !r.recompile(ctx, pass, page, CompileContext{CachedParent: parent, CachedPages: pass.cached}) {
			continue
		}
		if err := r.walk(ctx, pass, page); err != nil {
			return err
		}
	}
	return nil
}

// sweep recompiles pages of the pass the walk could not place, shallower
// pages first. After a page change these are descendants with a stale
// dependency list; after a snippet change it is every dependent.
func (r *DescendantResolver) sweep(ctx context.Context, pass *propagation) error {
	rest := make([]*types.Page, 0)
	for _, page := range pass.pages {
		if !pass.visited[page.ID] {
			rest = append(rest, page)
		}
	}
	if len(rest) == 0 {
		return nil
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return len(rest[i].TemplateDependencies) < len(rest[j].TemplateDependencies)
	})

	for _, page := range rest {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pass.visited[page.ID] {
			continue
		}
		pass.visited[page.ID] = true
		if pass.dependsOnFailure(page) {
			pass.report.Skipped = append(pass.report.Skipped, page.ID)
			continue
		}
		r.logger.Debug(ctx, "Recompiling page without a placed parent", "page", page.ID, "fullpath", page.Fullpath)
		if r.recompile(ctx, pass, page, CompileContext{CachedPages: pass.cached}) {
			if err := r.walk(ctx, pass, page); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *propagation) dependsOnFailure(page *types.Page) bool {
	for _, id := range page.TemplateDependencies {
		if p.failed[id] {
			return true
		}
	}
	return false
}

func (r *DescendantResolver) recompile(ctx context.Context, pass *propagation, page *types.Page, cc CompileContext) bool {
	pass.report.Recompiled = append(pass.report.Recompiled, page.ID)
	if r.pipeline.recompile(ctx, pass.site, page, cc) {
		return true
	}
	pass.failed[page.ID] = true
	for _, cerr := range page.ParsingErrors() {
		pass.report.Failures = append(pass.report.Failures, PageFailure{
			PageID:   page.ID,
			Fullpath: page.Fullpath,
			Error:    cerr.Error(),
		})
	}
	return false
}

// persist saves every descendant that compiled cleanly, in parallel.
func (r *DescendantResolver) persist(ctx context.Context, pass *propagation) error {
	var (
		mu    sync.Mutex
		saved = make(map[types.PageID]bool, len(pass.pages))
		g     errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for _, page := range pass.pages {
		if pass.failed[page.ID] || Validate(page) != nil {
			continue
		}
		g.Go(func() error {
			if err := r.repo.SavePage(ctx, page); err != nil {
				r.logger.Error(ctx, err, "Failed to save descendant", "page", page.ID, "fullpath", page.Fullpath)
				mu.Lock()
				pass.report.Failures = append(pass.report.Failures, PageFailure{
					PageID:   page.ID,
					Fullpath: page.Fullpath,
					Error:    err.Error(),
				})
				mu.Unlock()
				return err
			}
			page.ResetTemplateChanged()
			mu.Lock()
			saved[page.ID] = true
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	for _, page := range pass.pages {
		if saved[page.ID] {
			pass.report.Saved = append(pass.report.Saved, page.ID)
		}
	}
	return err
}

// isDirectDependent reports whether page extends parent itself rather than
// one of parent's descendants: parent is among page's dependencies and it is
// the only one parent does not share. A page whose nearest recorded
// dependency is parent also qualifies.
func isDirectDependent(page, parent *types.Page) bool {
	if !page.DependsOnTemplate(parent.ID) {
		return false
	}
	if page.TemplateDependencies[0] == parent.ID {
		return true
	}
	return len(difference(page.TemplateDependencies, parent.TemplateDependencies)) == 1
}

func difference(a, b []types.PageID) []types.PageID {
	exclude := make(map[types.PageID]bool, len(b))
	for _, id := range b {
		exclude[id] = true
	}
	out := make([]types.PageID, 0)
	for _, id := range a {
		if !exclude[id] {
			out = append(out, id)
		}
	}
	return out
}
