// Package build compiles page templates into cached artifacts and propagates
// a page change to every page that inherits from it.
package build

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/conneroisu/pagegraph/internal/artifact"
	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/liquid"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/preprocess"
	"github.com/conneroisu/pagegraph/internal/store"
	"github.com/conneroisu/pagegraph/internal/types"
)

// Parser turns template source into a compiled template.
type Parser interface {
	Parse(ctx context.Context, source string, lctx *liquid.Context) (*liquid.Template, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(ctx context.Context, source string, lctx *liquid.Context) (*liquid.Template, error)

// Parse calls f.
func (f ParserFunc) Parse(ctx context.Context, source string, lctx *liquid.Context) (*liquid.Template, error) {
	return f(ctx, source, lctx)
}

// CompileContext carries pages already loaded by the caller so reference
// lookups can skip the store.
type CompileContext struct {
	// CachedParent is the page just recompiled by propagation.
	CachedParent *types.Page
	// CachedPages maps fullpath to pages of the current propagation pass.
	CachedPages map[string]*types.Page
}

// CompileResult is the output of a successful compile.
type CompileResult struct {
	Template             *liquid.Template
	TemplateDependencies []types.PageID
	SnippetDependencies  []types.SnippetID
	Editables            []liquid.EditableRef
}

// Compiler compiles a page's template source. It never mutates the page.
type Compiler struct {
	repo         store.Repository
	artifacts    *artifact.Cache
	preprocessor preprocess.Preprocessor
	parser       Parser
	logger       logging.Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithPreprocessor sets the preprocessor used for sites with preprocessing
// enabled.
func WithPreprocessor(p preprocess.Preprocessor) CompilerOption {
	return func(c *Compiler) { c.preprocessor = p }
}

// WithParser replaces the template parser.
func WithParser(p Parser) CompilerOption {
	return func(c *Compiler) { c.parser = p }
}

// WithLogger sets the compiler logger.
func WithLogger(l logging.Logger) CompilerOption {
	return func(c *Compiler) { c.logger = l }
}

// NewCompiler creates a compiler resolving references through repo and
// reading parent artifacts through artifacts.
func NewCompiler(repo store.Repository, artifacts *artifact.Cache, opts ...CompilerOption) *Compiler {
	if artifacts == nil {
		artifacts = artifact.NewCache(nil)
	}
	c := &Compiler{
		repo:         repo,
		artifacts:    artifacts,
		preprocessor: preprocess.Default(),
		parser:       ParserFunc(liquid.Parse),
		logger:       logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("compiler")
	return c
}

// Compile compiles page.RawTemplate. Every failure is returned as a
// classified CompileError; Compile never panics.
func (c *Compiler) Compile(ctx context.Context, site *types.Site, page *types.Page, cc CompileContext) (result *CompileResult, cerr *errors.CompileError) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			cerr = errors.NewOtherCompileError(fmt.Errorf("compiler panic: %v", r))
		}
	}()

	source := page.RawTemplate
	if site != nil && site.PreprocessEnabled && c.preprocessor != nil {
		out, err := c.preprocessor.Preprocess(source)
		if err != nil {
			return nil, errors.NewOtherCompileError(err)
		}
		source = out
	}

	resolver := &pageResolver{
		repo:      c.repo,
		artifacts: c.artifacts,
		siteID:    page.SiteID,
		cc:        cc,
	}
	lctx := liquid.NewContext(string(page.ID), resolver)
	defer lctx.Clear()

	tmpl, err := c.parser.Parse(ctx, source, lctx)
	if err != nil {
		ce := classify(err)
		c.logger.Debug(ctx, "Compile failed",
			"page", page.ID,
			"fullpath", page.Fullpath,
			"kind", ce.Kind.String(),
			"message", ce.Message)
		return nil, ce
	}

	return &CompileResult{
		Template:             tmpl,
		TemplateDependencies: pageIDs(lctx.Templates, page.ID),
		SnippetDependencies:  snippetIDs(lctx.Snippets),
		Editables:            append([]liquid.EditableRef(nil), lctx.Editables...),
	}, nil
}

func classify(err error) *errors.CompileError {
	var syntaxErr *liquid.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return errors.NewSyntaxError(syntaxErr.Message, syntaxErr.Line, err)
	}
	var notFound *liquid.NotFoundError
	if stderrors.As(err, &notFound) {
		return errors.NewUnresolvedReferenceError(notFound.Name, notFound.Line, err)
	}
	return errors.NewOtherCompileError(err)
}

// pageIDs de-duplicates ids keeping first occurrence order and drops self.
func pageIDs(ids []string, self types.PageID) []types.PageID {
	out := make([]types.PageID, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] || types.PageID(id) == self {
			continue
		}
		seen[id] = true
		out = append(out, types.PageID(id))
	}
	return out
}

func snippetIDs(ids []string) []types.SnippetID {
	out := make([]types.SnippetID, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, types.SnippetID(id))
	}
	return out
}

// pageResolver resolves extends targets from the compile context first and
// the store second.
type pageResolver struct {
	repo      store.Repository
	artifacts *artifact.Cache
	siteID    types.SiteID
	cc        CompileContext
}

func (r *pageResolver) FindTemplate(ctx context.Context, fullpath string) (*liquid.ParentTemplate, error) {
	parent, err := r.lookupPage(ctx, fullpath)
	if err != nil {
		return nil, err
	}

	tmpl, _ := r.artifacts.Get(parent)
	deps := make([]string, 0, len(parent.TemplateDependencies))
	for _, id := range parent.TemplateDependencies {
		deps = append(deps, string(id))
	}
	snippets := make([]string, 0, len(parent.SnippetDependencies))
	for _, id := range parent.SnippetDependencies {
		snippets = append(snippets, string(id))
	}

	return &liquid.ParentTemplate{
		ID:                   string(parent.ID),
		Fullpath:             parent.Fullpath,
		Template:             tmpl,
		TemplateDependencies: deps,
		SnippetDependencies:  snippets,
	}, nil
}

func (r *pageResolver) lookupPage(ctx context.Context, fullpath string) (*types.Page, error) {
	if p := r.cc.CachedParent; p != nil && p.Fullpath == fullpath {
		return p, nil
	}
	if p, ok := r.cc.CachedPages[fullpath]; ok && p != nil {
		return p, nil
	}
	if r.repo == nil {
		return nil, liquid.ErrNotFound
	}

	page, err := r.repo.FindPageByFullpath(ctx, r.siteID, fullpath)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", liquid.ErrNotFound, err)
	}
	return page, err
}

func (r *pageResolver) FindSnippet(ctx context.Context, slug string) (*liquid.SnippetSource, error) {
	if r.repo == nil {
		return nil, liquid.ErrNotFound
	}
	snippet, err := r.repo.FindSnippet(ctx, r.siteID, slug)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", liquid.ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return &liquid.SnippetSource{
		ID:       string(snippet.ID),
		Slug:     snippet.Slug,
		Template: snippet.Template,
	}, nil
}
