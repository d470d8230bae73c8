package build

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/artifact"
	"github.com/conneroisu/pagegraph/internal/liquid"
	"github.com/conneroisu/pagegraph/internal/store"
	"github.com/conneroisu/pagegraph/internal/types"
)

const testSite types.SiteID = "acme"

// harness wires a pipeline and resolver over an in-memory store and records
// every compile event.
type harness struct {
	repo      *store.MemoryStore
	site      *types.Site
	artifacts *artifact.Cache
	pipeline  *Pipeline
	resolver  *DescendantResolver

	mu     sync.Mutex
	events []CompileEvent
}

func newHarness(t *testing.T, opts ...CompilerOption) *harness {
	t.Helper()
	repo := store.NewMemoryStore()
	site := &types.Site{ID: testSite, Name: "Acme"}
	require.NoError(t, repo.SaveSite(context.Background(), site))

	artifacts := artifact.NewCache(artifact.NewSharedCache(1<<20, 0))
	compiler := NewCompiler(repo, artifacts, opts...)
	pipeline := NewPipeline(compiler, artifacts, nil, nil)

	h := &harness{
		repo:      repo,
		site:      site,
		artifacts: artifacts,
		pipeline:  pipeline,
		resolver:  NewDescendantResolver(repo, pipeline, nil, 4),
	}
	pipeline.AddCallback(func(e CompileEvent) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	return h
}

// save runs the pipeline, validates, persists and propagates the page the
// way the page service does.
func (h *harness) save(t *testing.T, page *types.Page) (*PropagationReport, error) {
	t.Helper()
	ctx := context.Background()

	changed := h.pipeline.Run(ctx, h.site, page, CompileContext{})
	if err := Validate(page); err != nil {
		return nil, err
	}
	require.NoError(t, h.repo.SavePage(ctx, page))
	if !changed {
		return nil, nil
	}
	return h.resolver.Propagate(ctx, h.site, page)
}

func (h *harness) mustSave(t *testing.T, page *types.Page) *PropagationReport {
	t.Helper()
	report, err := h.save(t, page)
	require.NoError(t, err)
	return report
}

func (h *harness) load(t *testing.T, id types.PageID) *types.Page {
	t.Helper()
	page, err := h.repo.GetPage(context.Background(), testSite, id)
	require.NoError(t, err)
	return page
}

func (h *harness) compiled(t *testing.T) []types.PageID {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]types.PageID, 0, len(h.events))
	for _, e := range h.events {
		ids = append(ids, e.PageID)
	}
	return ids
}

func (h *harness) resetEvents() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

func newTestPage(id types.PageID, fullpath, source string) *types.Page {
	return types.NewPage(id, testSite, fullpath, source)
}

// text flattens the literal text of a stored page's compiled template.
func text(t *testing.T, page *types.Page) string {
	t.Helper()
	tmpl, err := artifact.Decode(page.SerializedTemplate)
	require.NoError(t, err)
	out := ""
	tmpl.Walk(func(n *liquid.Node, _ string) {
		if n.Kind == liquid.NodeText {
			out += n.Value
		}
	})
	return out
}
