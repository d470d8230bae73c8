package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/artifact"
	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/store"
	"github.com/conneroisu/pagegraph/internal/types"
)

const testSite types.SiteID = "acme"

func newTestService(t *testing.T, opts ...Option) (*PageService, *store.MemoryStore) {
	t.Helper()
	repo := store.NewMemoryStore()
	artifacts := artifact.NewCache(artifact.NewSharedCache(1<<20, 0))
	pipeline := build.NewPipeline(build.NewCompiler(repo, artifacts), artifacts, nil, nil)
	resolver := build.NewDescendantResolver(repo, pipeline, nil, 2)

	next := 0
	var mu sync.Mutex
	ids := WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return "id-" + string(rune('a'+next-1))
	})

	svc := NewPageService(repo, pipeline, resolver, append([]Option{ids}, opts...)...)
	require.NoError(t, svc.CreateSite(context.Background(), &types.Site{ID: testSite, Name: "Acme"}))
	return svc, repo
}

const layout = "<h1>{% block title %}Acme{% endblock %}</h1>{% block body %}{% endblock %}"

func TestPutPageCreatesAndPropagates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	index, err := svc.PutPage(ctx, testSite, "index", layout)
	require.NoError(t, err)
	assert.True(t, index.Created)
	assert.True(t, index.Changed)
	assert.Equal(t, types.PageID("id-a"), index.PageID)

	about, err := svc.PutPage(ctx, testSite, "about", "{% extends 'index' %}{% block body %}About{% endblock %}")
	require.NoError(t, err)
	assert.Equal(t, []types.PageID{"id-a"}, about.Page.TemplateDependencies)

	updated, err := svc.PutPage(ctx, testSite, "index", "<h2>{% block body %}{% endblock %}</h2>")
	require.NoError(t, err)
	assert.False(t, updated.Created)
	require.NotNil(t, updated.Propagation)
	assert.Equal(t, []types.PageID{about.PageID}, updated.Propagation.Recompiled)
	assert.Equal(t, []types.PageID{about.PageID}, updated.Propagation.Saved)

	stored, err := svc.GetPage(ctx, testSite, "about")
	require.NoError(t, err)
	assert.False(t, stored.TemplateChanged())
	tmpl, err := artifact.Decode(stored.SerializedTemplate)
	require.NoError(t, err)
	assert.Equal(t, "<h2>", tmpl.Nodes[0].Value)
}

func TestPutPageUnchangedSourceDoesNotPropagate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.PutPage(ctx, testSite, "index", layout)
	require.NoError(t, err)

	again, err := svc.PutPage(ctx, testSite, "index", layout)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Nil(t, again.Propagation)
}

func TestSavePageRejectsInvalidTemplate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	result, err := svc.PutPage(ctx, testSite, "broken", "{% if x %}")
	var vec *errors.ValidationErrorCollection
	require.ErrorAs(t, err, &vec)
	assert.Equal(t, []string{errors.TokenSyntax}, vec.Fields()["template"])
	require.NotNil(t, result)
	require.Len(t, result.Page.ParsingErrors(), 1)

	_, err = svc.GetPage(ctx, testSite, "broken")
	assert.True(t, errors.IsValidationError(err))

	_, err = svc.PutPage(ctx, testSite, "orphan", "{% extends 'nowhere' %}")
	require.ErrorAs(t, err, &vec)
	assert.Equal(t, []string{errors.TokenUnresolved}, vec.Fields()["template"])
}

func TestInvalidEditKeepsStoredPage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.PutPage(ctx, testSite, "index", layout)
	require.NoError(t, err)
	before, err := svc.GetPage(ctx, testSite, "index")
	require.NoError(t, err)

	_, err = svc.PutPage(ctx, testSite, "index", "{{ }}")
	require.Error(t, err)

	after, err := svc.GetPage(ctx, testSite, "index")
	require.NoError(t, err)
	assert.Equal(t, before.RawTemplate, after.RawTemplate)
	assert.Equal(t, before.SerializedTemplate, after.SerializedTemplate)
}

func TestSavePageUnknownSite(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SavePage(context.Background(), types.NewPage("x", "nope", "x", "hi"))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Contains(t, err.Error(), "site not found")

	assert.Error(t, svc.CreateSite(context.Background(), &types.Site{}))
}

func TestSaveSnippetRecompilesIncluders(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	created, err := svc.SaveSnippet(ctx, testSite, "nav", "<nav/>")
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Nil(t, created.Propagation)

	page, err := svc.PutPage(ctx, testSite, "index", "{% include 'nav' %}")
	require.NoError(t, err)
	assert.Equal(t, []types.SnippetID{created.SnippetID}, page.Page.SnippetDependencies)

	_, err = svc.PutPage(ctx, testSite, "other", "plain")
	require.NoError(t, err)

	updated, err := svc.SaveSnippet(ctx, testSite, "nav", "<nav>new</nav>")
	require.NoError(t, err)
	assert.True(t, updated.Changed)
	require.NotNil(t, updated.Propagation)
	assert.Equal(t, []types.PageID{page.PageID}, updated.Propagation.Recompiled)

	stored, err := svc.GetPage(ctx, testSite, "index")
	require.NoError(t, err)
	tmpl, err := artifact.Decode(stored.SerializedTemplate)
	require.NoError(t, err)
	require.Len(t, tmpl.Nodes, 1)
	require.NotEmpty(t, tmpl.Nodes[0].Body)
	assert.Equal(t, "<nav>new</nav>", tmpl.Nodes[0].Body[0].Value)

	same, err := svc.SaveSnippet(ctx, testSite, "nav", "<nav>new</nav>")
	require.NoError(t, err)
	assert.False(t, same.Changed)
	assert.Nil(t, same.Propagation)

	_, err = svc.SaveSnippet(ctx, testSite, "", "x")
	assert.Error(t, err)
}

func TestDependentsAndListPages(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.PutPage(ctx, testSite, "index", layout)
	require.NoError(t, err)
	_, err = svc.PutPage(ctx, testSite, "about", "{% extends 'index' %}{% block body %}{% endblock %}")
	require.NoError(t, err)
	_, err = svc.PutPage(ctx, testSite, "about/team", "{% extends 'about' %}")
	require.NoError(t, err)

	deps, err := svc.Dependents(ctx, testSite, "index")
	require.NoError(t, err)
	fullpaths := make([]string, 0, len(deps))
	for _, p := range deps {
		fullpaths = append(fullpaths, p.Fullpath)
	}
	assert.Equal(t, []string{"about", "about/team"}, fullpaths)

	_, err = svc.Dependents(ctx, testSite, "missing")
	assert.Error(t, err)

	pages, err := svc.ListPages(ctx, testSite)
	require.NoError(t, err)
	assert.Len(t, pages, 3)
}

func TestOnSaveCallbackAndPropagationToggle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, WithPropagation(false))

	var saved []string
	svc.OnSave(func(page *SaveResult, snippet *SnippetResult) {
		if page != nil {
			saved = append(saved, page.Fullpath)
		}
		if snippet != nil {
			saved = append(saved, "snippet:"+snippet.Slug)
		}
	})

	_, err := svc.PutPage(ctx, testSite, "index", layout)
	require.NoError(t, err)
	_, err = svc.PutPage(ctx, testSite, "about", "{% extends 'index' %}")
	require.NoError(t, err)
	_, err = svc.SaveSnippet(ctx, testSite, "nav", "x")
	require.NoError(t, err)

	changed, err := svc.PutPage(ctx, testSite, "index", "changed")
	require.NoError(t, err)
	assert.True(t, changed.Changed)
	assert.Nil(t, changed.Propagation)

	_, err = svc.PutPage(ctx, testSite, "bad", "{{ }}")
	require.Error(t, err)

	assert.Equal(t, []string{"index", "about", "snippet:nav", "index"}, saved)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	dir := t.TempDir()
	root := filepath.Join(dir, "templates")
	snippets := filepath.Join(root, "snippets")
	writeFile(t, filepath.Join(snippets, "nav.liquid"), "<nav/>")
	writeFile(t, filepath.Join(root, "index.liquid"), "{% include 'nav' %}"+layout)
	writeFile(t, filepath.Join(root, "blog", "post.liquid"), "{% extends 'index' %}{% block body %}post{% endblock %}")
	writeFile(t, filepath.Join(root, "a.liquid"), "{% extends 'blog/post' %}")
	writeFile(t, filepath.Join(root, "bad.liquid"), "{% bogus %}")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")

	opts := SyncOptions{Root: root, SnippetsDir: snippets, Extensions: []string{".liquid"}}
	report, err := svc.Sync(ctx, testSite, opts)
	require.Error(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 1, report.Snippets)
	assert.Equal(t, 3, report.Pages)
	assert.GreaterOrEqual(t, report.Retries, 1)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].Fullpath)

	a, err := svc.GetPage(ctx, testSite, "a")
	require.NoError(t, err)
	assert.Len(t, a.TemplateDependencies, 2)
	assert.Len(t, a.SnippetDependencies, 1)

	_, err = svc.GetPage(ctx, testSite, "snippets/nav")
	assert.Error(t, err)

	// a second run changes nothing
	writeFile(t, filepath.Join(root, "bad.liquid"), "fixed")
	report, err = svc.Sync(ctx, testSite, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 4, report.Pages)
}

func TestSyncFile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	dir := t.TempDir()
	root := filepath.Join(dir, "templates")
	snippets := filepath.Join(dir, "snippets")
	opts := SyncOptions{Root: root, SnippetsDir: snippets, Extensions: []string{".liquid"}}

	writeFile(t, filepath.Join(snippets, "footer.liquid"), "<footer/>")
	require.NoError(t, svc.SyncFile(ctx, testSite, opts, filepath.Join(snippets, "footer.liquid")))

	page := filepath.Join(root, "index.liquid")
	writeFile(t, page, "{% include 'footer' %}")
	require.NoError(t, svc.SyncFile(ctx, testSite, opts, page))

	stored, err := svc.GetPage(ctx, testSite, "index")
	require.NoError(t, err)
	assert.Len(t, stored.SnippetDependencies, 1)

	require.NoError(t, svc.SyncFile(ctx, testSite, opts, filepath.Join(root, "gone.liquid")))
	require.NoError(t, svc.SyncFile(ctx, testSite, opts, filepath.Join(root, "readme.md")))

	outside := filepath.Join(dir, "elsewhere.liquid")
	writeFile(t, outside, "x")
	assert.Error(t, svc.SyncFile(ctx, testSite, opts, outside))
}

func TestRelativeName(t *testing.T) {
	name, ok := relativeName("/site/templates", "/site/templates/blog/post.liquid")
	require.True(t, ok)
	assert.Equal(t, "blog/post", name)

	// decomposed input is normalized
	name, ok = relativeName("/site", "/site/cafe\u0301.liquid")
	require.True(t, ok)
	assert.Equal(t, "caf\u00e9", name)

	_, ok = relativeName("/site/templates", "/site/other.liquid")
	assert.False(t, ok)
}

func TestSyncFilesSavesSnippetsFirst(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	dir := t.TempDir()
	root := filepath.Join(dir, "templates")
	snippets := filepath.Join(dir, "snippets")
	opts := SyncOptions{Root: root, SnippetsDir: snippets, Extensions: []string{".liquid"}}

	page := filepath.Join(root, "a.liquid")
	snippet := filepath.Join(snippets, "z.liquid")
	broken := filepath.Join(root, "b.liquid")
	writeFile(t, page, "{% include 'z' %}")
	writeFile(t, snippet, "<z/>")
	writeFile(t, broken, "{{ }}")

	err := svc.SyncFiles(ctx, testSite, opts, []string{page, broken, snippet})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.liquid")

	stored, err := svc.GetPage(ctx, testSite, "a")
	require.NoError(t, err)
	assert.Len(t, stored.SnippetDependencies, 1)
}
