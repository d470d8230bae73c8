package liquid

import "context"

// MaxIncludeDepth bounds nested {% include %} resolution.
const MaxIncludeDepth = 8

// ParentTemplate is what an {% extends %} target resolves to.
type ParentTemplate struct {
	ID                   string
	Fullpath             string
	Template             *Template
	TemplateDependencies []string
	SnippetDependencies  []string
}

// SnippetSource is what an {% include %} target resolves to.
type SnippetSource struct {
	ID       string
	Slug     string
	Template string
}

// Resolver looks up the pages and snippets a template references. Both
// methods return an error wrapping ErrNotFound when the target is absent.
type Resolver interface {
	FindTemplate(ctx context.Context, fullpath string) (*ParentTemplate, error)
	FindSnippet(ctx context.Context, slug string) (*SnippetSource, error)
}

// EditableRef is an editable element placeholder found in a compiled tree.
type EditableRef struct {
	Slug    string
	Block   string
	Type    string
	Default string
}

// Context carries the inputs and output accumulators of a single Parse call.
// A Context must not be reused across calls.
type Context struct {
	// PageID is the identity of the page being compiled.
	PageID string
	// Resolver resolves extends/include targets. May be nil when the
	// template references nothing.
	Resolver Resolver

	// Templates accumulates the identities of pages the template extends,
	// directly or through its ancestors.
	Templates []string
	// Snippets accumulates the identities of included snippets.
	Snippets []string
	// Editables accumulates editable placeholders of the final tree.
	Editables []EditableRef
}

// NewContext creates a parse context for the given page.
func NewContext(pageID string, resolver Resolver) *Context {
	return &Context{
		PageID:    pageID,
		Resolver:  resolver,
		Templates: make([]string, 0),
		Snippets:  make([]string, 0),
	}
}

// Clear drops every accumulator and the resolver reference.
func (c *Context) Clear() {
	c.Resolver = nil
	c.Templates = nil
	c.Snippets = nil
	c.Editables = nil
}

func (c *Context) addTemplates(ids ...string) {
	c.Templates = append(c.Templates, ids...)
}

func (c *Context) addSnippets(ids ...string) {
	c.Snippets = append(c.Snippets, ids...)
}

func (c *Context) findTemplate(ctx context.Context, fullpath string) (*ParentTemplate, error) {
	if c.Resolver == nil {
		return nil, ErrNotFound
	}
	return c.Resolver.FindTemplate(ctx, fullpath)
}

func (c *Context) findSnippet(ctx context.Context, slug string) (*SnippetSource, error) {
	if c.Resolver == nil {
		return nil, ErrNotFound
	}
	return c.Resolver.FindSnippet(ctx, slug)
}
