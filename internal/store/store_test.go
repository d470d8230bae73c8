package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/types"
)

func openSQLite(t *testing.T) Repository {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openMemory(t *testing.T) Repository {
	t.Helper()
	return NewMemoryStore()
}

var factories = map[string]func(t *testing.T) Repository{
	"memory": openMemory,
	"sqlite": openSQLite,
}

func forEachStore(t *testing.T, fn func(t *testing.T, repo Repository)) {
	for name, open := range factories {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func newPage(id, site, fullpath, raw string, deps ...types.PageID) *types.Page {
	p := types.NewPage(types.PageID(id), types.SiteID(site), fullpath, raw)
	p.TemplateDependencies = append(p.TemplateDependencies, deps...)
	return p
}

func TestSites(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		_, err := repo.GetSite(ctx, "acme")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, repo.SaveSite(ctx, &types.Site{ID: "acme", Name: "Acme", PreprocessEnabled: true}))
		require.NoError(t, repo.SaveSite(ctx, &types.Site{ID: "acme", Name: "Acme Corp", PreprocessEnabled: true}))

		site, err := repo.GetSite(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "Acme Corp", site.Name)
		assert.True(t, site.PreprocessEnabled)

		assert.Error(t, repo.SaveSite(ctx, &types.Site{}))
	})
}

func TestSaveAndLoadPage(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		page := newPage("b", "acme", "about", "{% extends 'index' %}", "a")
		page.SerializedTemplate = []byte{0x01, 0x02}
		page.SnippetDependencies = []types.SnippetID{"nav"}
		page.EditableElements = []types.EditableElement{{Slug: "intro", Block: "body", Type: "text", Content: "Hi"}}
		require.True(t, page.IsNew())

		require.NoError(t, repo.SavePage(ctx, page))
		assert.False(t, page.IsNew())
		assert.False(t, page.TemplateSourceChanged())

		loaded, err := repo.GetPage(ctx, "acme", "b")
		require.NoError(t, err)
		assert.False(t, loaded.IsNew())
		assert.Equal(t, page.Fullpath, loaded.Fullpath)
		assert.Equal(t, page.RawTemplate, loaded.RawTemplate)
		assert.Equal(t, page.SerializedTemplate, loaded.SerializedTemplate)
		assert.Equal(t, []types.PageID{"a"}, loaded.TemplateDependencies)
		assert.Equal(t, []types.SnippetID{"nav"}, loaded.SnippetDependencies)
		assert.Equal(t, page.EditableElements, loaded.EditableElements)

		byPath, err := repo.FindPageByFullpath(ctx, "acme", "about")
		require.NoError(t, err)
		assert.Equal(t, types.PageID("b"), byPath.ID)

		_, err = repo.GetPage(ctx, "other", "b")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.FindPageByFullpath(ctx, "acme", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLoadedPagesAreIndependent(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.SavePage(ctx, newPage("a", "acme", "index", "Hello")))

		first, err := repo.GetPage(ctx, "acme", "a")
		require.NoError(t, err)
		first.RawTemplate = "mutated"
		first.TemplateDependencies = append(first.TemplateDependencies, "x")

		second, err := repo.GetPage(ctx, "acme", "a")
		require.NoError(t, err)
		assert.Equal(t, "Hello", second.RawTemplate)
		assert.Empty(t, second.TemplateDependencies)
		assert.NotNil(t, second.TemplateDependencies)
	})
}

func TestSavePageReplacesDependencies(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		page := newPage("c", "acme", "team", "x", "b", "a")
		require.NoError(t, repo.SavePage(ctx, page))

		page.TemplateDependencies = []types.PageID{"a"}
		require.NoError(t, repo.SavePage(ctx, page))

		loaded, err := repo.GetPage(ctx, "acme", "c")
		require.NoError(t, err)
		assert.Equal(t, []types.PageID{"a"}, loaded.TemplateDependencies)

		descendants, err := repo.FindTemplateDescendants(ctx, "acme", "b")
		require.NoError(t, err)
		assert.Empty(t, descendants)
	})
}

func TestFullpathConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.SavePage(ctx, newPage("a", "acme", "index", "x")))

		err := repo.SavePage(ctx, newPage("b", "acme", "index", "y"))
		assert.ErrorIs(t, err, ErrConflict)

		// same fullpath on another site is fine
		assert.NoError(t, repo.SavePage(ctx, newPage("c", "other", "index", "z")))
	})
}

func TestFindTemplateDescendants(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		pages := []*types.Page{
			newPage("a", "acme", "index", "Hello"),
			newPage("b", "acme", "about", "b", "a"),
			newPage("c", "acme", "about/team", "c", "b", "a"),
			newPage("d", "acme", "contact", "d"),
			newPage("x", "other", "about", "x", "a"),
		}
		for _, p := range pages {
			require.NoError(t, repo.SavePage(ctx, p))
		}

		descendants, err := repo.FindTemplateDescendants(ctx, "acme", "a")
		require.NoError(t, err)
		require.Len(t, descendants, 2)
		assert.Equal(t, "about", descendants[0].Fullpath)
		assert.Equal(t, "about/team", descendants[1].Fullpath)
		assert.Equal(t, []types.PageID{"b", "a"}, descendants[1].TemplateDependencies)
		for _, d := range descendants {
			assert.False(t, d.IsNew())
		}

		none, err := repo.FindTemplateDescendants(ctx, "acme", "d")
		require.NoError(t, err)
		assert.Empty(t, none)

		all, err := repo.ListPages(ctx, "acme")
		require.NoError(t, err)
		paths := make([]string, 0, len(all))
		for _, p := range all {
			paths = append(paths, p.Fullpath)
		}
		assert.Equal(t, []string{"about", "about/team", "contact", "index"}, paths)
	})
}

func TestSnippets(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		_, err := repo.FindSnippet(ctx, "acme", "nav")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, repo.SaveSnippet(ctx, &types.Snippet{ID: "s1", SiteID: "acme", Slug: "nav", Template: "<nav/>"}))
		snippet, err := repo.FindSnippet(ctx, "acme", "nav")
		require.NoError(t, err)
		assert.Equal(t, types.SnippetID("s1"), snippet.ID)
		assert.Equal(t, "<nav/>", snippet.Template)

		err = repo.SaveSnippet(ctx, &types.Snippet{ID: "s2", SiteID: "acme", Slug: "nav"})
		assert.ErrorIs(t, err, ErrConflict)

		page := newPage("a", "acme", "index", "{% include 'nav' %}")
		page.SnippetDependencies = []types.SnippetID{"s1"}
		require.NoError(t, repo.SavePage(ctx, page))
		require.NoError(t, repo.SavePage(ctx, newPage("b", "acme", "about", "plain")))

		dependents, err := repo.FindSnippetDependents(ctx, "acme", "s1")
		require.NoError(t, err)
		require.Len(t, dependents, 1)
		assert.Equal(t, types.PageID("a"), dependents[0].ID)
	})
}

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pages.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.SavePage(ctx, newPage("a", "acme", "index", "Hello")))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	page, err := reopened.GetPage(ctx, "acme", "a")
	require.NoError(t, err)
	assert.Equal(t, "Hello", page.RawTemplate)
}
