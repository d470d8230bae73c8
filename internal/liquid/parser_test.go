package liquid

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapResolver resolves from in-memory maps.
type mapResolver struct {
	templates map[string]*ParentTemplate
	snippets  map[string]*SnippetSource
	err       error
}

func (m *mapResolver) FindTemplate(_ context.Context, fullpath string) (*ParentTemplate, error) {
	if m.err != nil {
		return nil, m.err
	}
	if t, ok := m.templates[fullpath]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("page %q: %w", fullpath, ErrNotFound)
}

func (m *mapResolver) FindSnippet(_ context.Context, slug string) (*SnippetSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	if s, ok := m.snippets[slug]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("snippet %q: %w", slug, ErrNotFound)
}

func mustParse(t *testing.T, source string, lctx *Context) *Template {
	t.Helper()
	tmpl, err := Parse(context.Background(), source, lctx)
	require.NoError(t, err)
	return tmpl
}

func flatten(tmpl *Template) string {
	out := ""
	tmpl.Walk(func(n *Node, _ string) {
		switch n.Kind {
		case NodeText:
			out += n.Value
		case NodeVariable:
			out += "{" + n.Value + "}"
		}
	})
	return out
}

func TestParseNodes(t *testing.T) {
	tmpl := mustParse(t, "Hi {{ page.title | upcase }}{% if user %}yes{% else %}no{% endif %}"+
		"{% for item in items %}{{ item }}{% endfor %}{% comment %}hidden{% endcomment %}{% raw %}{{ x }}{% endraw %}", nil)

	require.Len(t, tmpl.Nodes, 5)
	assert.Equal(t, FormatVersion, tmpl.Version)
	assert.Equal(t, NodeText, tmpl.Nodes[0].Kind)
	assert.Equal(t, Node{Kind: NodeVariable, Value: "page.title", Filters: []string{"upcase"}}, tmpl.Nodes[1])

	ifNode := tmpl.Nodes[2]
	assert.Equal(t, NodeIf, ifNode.Kind)
	assert.Equal(t, "user", ifNode.Args)
	assert.Equal(t, "yes", ifNode.Body[0].Value)
	assert.Equal(t, "no", ifNode.Else[0].Value)

	forNode := tmpl.Nodes[3]
	assert.Equal(t, NodeFor, forNode.Kind)
	assert.Equal(t, "item", forNode.Value)
	assert.Equal(t, "items", forNode.Args)

	assert.Equal(t, Node{Kind: NodeText, Value: "{{ x }}"}, tmpl.Nodes[4])
}

func TestParseSyntaxErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		line   int
	}{
		{"empty variable", "{{ }}", 1},
		{"unterminated variable", "a\n{{ x", 2},
		{"unterminated tag", "{% if x", 1},
		{"empty tag", "{% %}", 1},
		{"unknown tag", "\n\n{% bogus %}", 3},
		{"unclosed if", "{% if x %}", 1},
		{"unexpected end", "{% endif %}", 1},
		{"bad for", "{% for %}{% endfor %}", 1},
		{"bad filter", "{{ x | 9up }}", 1},
		{"bad variable", "{{ x y }}", 1},
		{"extends not first", "text {% extends 'a' %}", 1},
		{"extends unquoted", "{% extends a %}", 1},
		{"unclosed raw", "{% raw %}x", 1},
		{"unclosed block", "{% block body %}", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(context.Background(), tt.source, nil)
			var syntaxErr *SyntaxError
			require.ErrorAs(t, err, &syntaxErr)
			assert.Equal(t, tt.line, syntaxErr.Line)
			assert.Contains(t, err.Error(), "Liquid syntax error")
		})
	}
}

func TestExtendsMergesBlocksAndRecordsDependencies(t *testing.T) {
	parent := mustParse(t, "<h1>{% block title %}Default{% endblock %}</h1>{% block body %}{% endblock %}", nil)
	resolver := &mapResolver{templates: map[string]*ParentTemplate{
		"index": {
			ID:                   "a",
			Fullpath:             "index",
			Template:             parent,
			TemplateDependencies: []string{"root"},
			SnippetDependencies:  []string{"s-nav"},
		},
	}}

	lctx := NewContext("b", resolver)
	tmpl := mustParse(t, "{% extends 'index' %}\n{% block body %}About {{ page.title }}{% endblock %}ignored", lctx)

	assert.Equal(t, "<h1>Default</h1>About {page.title}", flatten(tmpl))
	assert.Equal(t, []string{"a", "root"}, lctx.Templates)
	assert.Equal(t, []string{"s-nav"}, lctx.Snippets)

	// parent tree is not modified by the merge
	assert.Equal(t, "<h1>Default</h1>", flatten(parent))
}

func TestExtendsErrors(t *testing.T) {
	parent := mustParse(t, "x", nil)

	t.Run("missing", func(t *testing.T) {
		_, err := Parse(context.Background(), "{% extends 'nowhere' %}", NewContext("b", &mapResolver{}))
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "template", nf.Kind)
		assert.Equal(t, "nowhere", nf.Name)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("no compiled parent", func(t *testing.T) {
		resolver := &mapResolver{templates: map[string]*ParentTemplate{"index": {ID: "a"}}}
		_, err := Parse(context.Background(), "{% extends 'index' %}", NewContext("b", resolver))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("self", func(t *testing.T) {
		resolver := &mapResolver{templates: map[string]*ParentTemplate{"index": {ID: "a", Template: parent}}}
		_, err := Parse(context.Background(), "{% extends 'index' %}", NewContext("a", resolver))
		assert.ErrorIs(t, err, ErrCircularInheritance)
	})

	t.Run("through ancestor", func(t *testing.T) {
		resolver := &mapResolver{templates: map[string]*ParentTemplate{
			"about": {ID: "b", Template: parent, TemplateDependencies: []string{"a"}},
		}}
		_, err := Parse(context.Background(), "{% extends 'about' %}", NewContext("a", resolver))
		assert.ErrorIs(t, err, ErrCircularInheritance)
	})

	t.Run("resolver failure", func(t *testing.T) {
		boom := errors.New("connection reset")
		_, err := Parse(context.Background(), "{% extends 'index' %}", NewContext("b", &mapResolver{err: boom}))
		assert.ErrorIs(t, err, boom)
		var nf *NotFoundError
		assert.False(t, errors.As(err, &nf))
	})

	t.Run("no resolver", func(t *testing.T) {
		_, err := Parse(context.Background(), "{% extends 'index' %}", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestIncludeSnippets(t *testing.T) {
	resolver := &mapResolver{snippets: map[string]*SnippetSource{
		"nav":  {ID: "s1", Slug: "nav", Template: "<nav>{% include 'link' %}</nav>"},
		"link": {ID: "s2", Slug: "link", Template: "<a/>"},
		"loop": {ID: "s3", Slug: "loop", Template: "{% include 'loop' %}"},
		"bad":  {ID: "s4", Slug: "bad", Template: "{% extends 'index' %}"},
	}}

	lctx := NewContext("a", resolver)
	tmpl := mustParse(t, "{% include 'nav' %}", lctx)
	assert.Equal(t, "<nav><a/></nav>", flatten(tmpl))
	assert.Equal(t, []string{"s1", "s2"}, lctx.Snippets)
	assert.Empty(t, lctx.Templates)

	_, err := Parse(context.Background(), "{% include 'loop' %}", NewContext("a", resolver))
	assert.ErrorIs(t, err, ErrIncludeDepth)

	_, err = Parse(context.Background(), "{% include 'bad' %}", NewContext("a", resolver))
	var syntaxErr *SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)

	_, err = Parse(context.Background(), "{% include 'missing' %}", NewContext("a", resolver))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "snippet", nf.Kind)
}

func TestTagNameEndsAtAnyWhitespace(t *testing.T) {
	resolver := &mapResolver{snippets: map[string]*SnippetSource{
		"nav": {ID: "s1", Slug: "nav", Template: "<nav/>"},
	}}

	lctx := NewContext("a", resolver)
	tmpl := mustParse(t, "{% if\nvisible %}yes{% endif %}{% include\t'nav' %}{%for\r\nitem in items%}{{ item }}{% endfor %}", lctx)

	require.Len(t, tmpl.Nodes, 3)
	assert.Equal(t, NodeIf, tmpl.Nodes[0].Kind)
	assert.Equal(t, "visible", tmpl.Nodes[0].Args)
	assert.Equal(t, NodeInclude, tmpl.Nodes[1].Kind)
	assert.Equal(t, "nav", tmpl.Nodes[1].Value)
	assert.Equal(t, NodeFor, tmpl.Nodes[2].Kind)
	assert.Equal(t, "items", tmpl.Nodes[2].Args)
	assert.Equal(t, []string{"s1"}, lctx.Snippets)
}

func TestEditablesCollected(t *testing.T) {
	lctx := NewContext("a", nil)
	mustParse(t, "{% editable_text 'intro' %}Hi{% endeditable_text %}"+
		"{% block body %}{% editable_long_text 'story' %}Once{% endeditable_long_text %}{% endblock %}", lctx)

	assert.Equal(t, []EditableRef{
		{Slug: "intro", Block: "", Type: "editable_text", Default: "Hi"},
		{Slug: "story", Block: "body", Type: "editable_long_text", Default: "Once"},
	}, lctx.Editables)
}

func TestContextClear(t *testing.T) {
	lctx := NewContext("a", &mapResolver{})
	lctx.Templates = append(lctx.Templates, "x")
	lctx.Clear()
	assert.Nil(t, lctx.Resolver)
	assert.Nil(t, lctx.Templates)
	assert.Nil(t, lctx.Snippets)
	assert.Nil(t, lctx.Editables)
	assert.Equal(t, "a", lctx.PageID)
}

func TestNodeKindString(t *testing.T) {
	assert.Equal(t, "editable", NodeEditable.String())
	assert.Equal(t, "unknown", NodeKind(0).String())
}
