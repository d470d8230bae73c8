package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conneroisu/pagegraph/internal/types"
)

// MemoryStore is a goroutine-safe in-process Repository.
type MemoryStore struct {
	mu       sync.RWMutex
	sites    map[types.SiteID]*types.Site
	pages    map[types.PageID]*types.Page
	snippets map[types.SnippetID]*types.Snippet
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites:    make(map[types.SiteID]*types.Site),
		pages:    make(map[types.PageID]*types.Page),
		snippets: make(map[types.SnippetID]*types.Snippet),
	}
}

func (m *MemoryStore) GetSite(_ context.Context, id types.SiteID) (*types.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	site, ok := m.sites[id]
	if !ok {
		return nil, fmt.Errorf("site %s: %w", id, ErrNotFound)
	}
	c := *site
	return &c, nil
}

func (m *MemoryStore) SaveSite(_ context.Context, site *types.Site) error {
	if site.ID == "" {
		return fmt.Errorf("site id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *site
	m.sites[site.ID] = &c
	return nil
}

func (m *MemoryStore) GetPage(_ context.Context, siteID types.SiteID, id types.PageID) (*types.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page, ok := m.pages[id]
	if !ok || page.SiteID != siteID {
		return nil, fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	return loaded(page), nil
}

func (m *MemoryStore) FindPageByFullpath(_ context.Context, siteID types.SiteID, fullpath string) (*types.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, page := range m.pages {
		if page.SiteID == siteID && page.Fullpath == fullpath {
			return loaded(page), nil
		}
	}
	return nil, fmt.Errorf("page %q: %w", fullpath, ErrNotFound)
}

func (m *MemoryStore) ListPages(_ context.Context, siteID types.SiteID) ([]*types.Page, error) {
	return m.selectPages(siteID, func(*types.Page) bool { return true }), nil
}

func (m *MemoryStore) SavePage(_ context.Context, page *types.Page) error {
	if page.ID == "" || page.SiteID == "" {
		return fmt.Errorf("page id and site id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.pages {
		if other.ID != page.ID && other.SiteID == page.SiteID && other.Fullpath == page.Fullpath {
			return fmt.Errorf("fullpath %q already used by page %s: %w", page.Fullpath, other.ID, ErrConflict)
		}
	}

	m.pages[page.ID] = page.Clone()
	page.MarkPersisted()
	return nil
}

func (m *MemoryStore) FindTemplateDescendants(_ context.Context, siteID types.SiteID, pageID types.PageID) ([]*types.Page, error) {
	return m.selectPages(siteID, func(p *types.Page) bool {
		return p.DependsOnTemplate(pageID)
	}), nil
}

func (m *MemoryStore) FindSnippet(_ context.Context, siteID types.SiteID, slug string) (*types.Snippet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, snippet := range m.snippets {
		if snippet.SiteID == siteID && snippet.Slug == slug {
			c := *snippet
			return &c, nil
		}
	}
	return nil, fmt.Errorf("snippet %q: %w", slug, ErrNotFound)
}

func (m *MemoryStore) SaveSnippet(_ context.Context, snippet *types.Snippet) error {
	if snippet.ID == "" || snippet.SiteID == "" {
		return fmt.Errorf("snippet id and site id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.snippets {
		if other.ID != snippet.ID && other.SiteID == snippet.SiteID && other.Slug == snippet.Slug {
			return fmt.Errorf("slug %q already used by snippet %s: %w", snippet.Slug, other.ID, ErrConflict)
		}
	}

	c := *snippet
	m.snippets[snippet.ID] = &c
	return nil
}

func (m *MemoryStore) FindSnippetDependents(_ context.Context, siteID types.SiteID, snippetID types.SnippetID) ([]*types.Page, error) {
	return m.selectPages(siteID, func(p *types.Page) bool {
		return p.DependsOnSnippet(snippetID)
	}), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) selectPages(siteID types.SiteID, match func(*types.Page) bool) []*types.Page {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pages := make([]*types.Page, 0)
	for _, page := range m.pages {
		if page.SiteID == siteID && match(page) {
			pages = append(pages, loaded(page))
		}
	}
	sortByFullpath(pages)
	return pages
}

func loaded(page *types.Page) *types.Page {
	c := page.Clone()
	c.MarkPersisted()
	return c
}

func sortByFullpath(pages []*types.Page) {
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].Fullpath < pages[j].Fullpath
	})
}
