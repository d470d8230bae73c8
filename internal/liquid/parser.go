package liquid

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	identPattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)
	pathPattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z0-9_\-]+|\[[0-9]+\])*$`)
	literalPattern  = regexp.MustCompile(`^('[^']*'|"[^"]*"|-?[0-9]+(\.[0-9]+)?|true|false|nil)$`)
	filterPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\s*:\s*.+)?$`)
	forPattern      = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s+in\s+([A-Za-z_][A-Za-z0-9_.\-]*)$`)
	editableTags    = map[string]bool{"editable_text": true, "editable_long_text": true}
	closingTagNames = map[string]bool{
		"else": true, "endif": true, "endfor": true, "endblock": true,
		"endcomment": true, "endraw": true, "endeditable_text": true, "endeditable_long_text": true,
	}
)

// Parse compiles source into a Template. References are resolved through
// lctx.Resolver and recorded into lctx's accumulators.
//
// The returned error is a *SyntaxError for malformed grammar, a
// *NotFoundError for an unresolved extends/include target, or any other
// error produced while resolving references.
func Parse(ctx context.Context, source string, lctx *Context) (*Template, error) {
	if lctx == nil {
		lctx = NewContext("", nil)
	}

	nodes, err := parseSource(ctx, source, lctx, 0)
	if err != nil {
		return nil, err
	}

	tmpl := &Template{Version: FormatVersion, Nodes: nodes}
	tmpl.Walk(func(n *Node, block string) {
		if n.Kind != NodeEditable {
			return
		}
		lctx.Editables = append(lctx.Editables, EditableRef{
			Slug:    n.Value,
			Block:   block,
			Type:    n.Args,
			Default: plainText(n.Body),
		})
	})

	return tmpl, nil
}

type parser struct {
	ctx     context.Context
	lctx    *Context
	tokens  []token
	pos     int
	depth   int
	content bool // a non-blank node has been emitted at the top level

	extends     string
	extendsLine int
}

func parseSource(ctx context.Context, source string, lctx *Context, depth int) ([]Node, error) {
	tokens, err := tokenize(source)
	if err != nil {
		return nil, err
	}

	p := &parser{ctx: ctx, lctx: lctx, tokens: tokens, depth: depth}
	nodes, _, _, err := p.parseUntil(0)
	if err != nil {
		return nil, err
	}

	if p.extends == "" {
		return nodes, nil
	}
	return p.inheritFrom(nodes)
}

// parseUntil consumes tokens until one of the closing tag names is reached
// or the input ends. It returns the closing tag name ("" at end of input).
func (p *parser) parseUntil(level int, ends ...string) ([]Node, string, int, error) {
	nodes := make([]Node, 0)

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++

		switch tok.kind {
		case tokenText:
			if level == 0 && strings.TrimSpace(tok.value) != "" {
				p.content = true
			}
			nodes = append(nodes, Node{Kind: NodeText, Value: tok.value})

		case tokenVariable:
			node, err := parseVariable(tok)
			if err != nil {
				return nil, "", tok.line, err
			}
			p.content = true
			nodes = append(nodes, node)

		case tokenTag:
			name, markup := splitTag(tok.value)
			for _, end := range ends {
				if name == end {
					return nodes, name, tok.line, nil
				}
			}

			node, keep, err := p.parseTag(level, tok, name, markup)
			if err != nil {
				return nil, "", tok.line, err
			}
			if keep {
				nodes = append(nodes, node)
			}
		}
	}

	line := 0
	if len(p.tokens) > 0 {
		line = p.tokens[len(p.tokens)-1].line
	}
	return nodes, "", line, nil
}

func (p *parser) parseTag(level int, tok token, name, markup string) (Node, bool, error) {
	switch name {
	case "":
		return Node{}, false, syntaxErrorf(tok.line, "Tag '{%% %%}' was empty")

	case "extends":
		if p.depth > 0 {
			return Node{}, false, syntaxErrorf(tok.line, "'extends' is not allowed inside an included snippet")
		}
		if level > 0 || p.content || p.extends != "" {
			return Node{}, false, syntaxErrorf(tok.line, "'extends' must be the first tag in the template")
		}
		fullpath, ok := unquote(markup)
		if !ok {
			return Node{}, false, syntaxErrorf(tok.line, "Syntax Error in 'extends' - Valid syntax: extends 'fullpath'")
		}
		p.extends = fullpath
		p.extendsLine = tok.line
		return Node{}, false, nil

	case "block":
		if !identPattern.MatchString(markup) {
			return Node{}, false, syntaxErrorf(tok.line, "Syntax Error in 'block' - Valid syntax: block name")
		}
		p.content = true
		body, err := p.parseBody(level, tok, "block", "endblock")
		if err != nil {
			return Node{}, false, err
		}
		return Node{Kind: NodeBlock, Value: markup, Body: body}, true, nil

	case "if":
		if markup == "" {
			return Node{}, false, syntaxErrorf(tok.line, "Syntax Error in 'if' - Valid syntax: if [condition]")
		}
		p.content = true
		body, end, _, err := p.parseUntil(level+1, "else", "endif")
		if err != nil {
			return Node{}, false, err
		}
		node := Node{Kind: NodeIf, Args: markup, Body: body}
		switch end {
		case "else":
			elseBody, err := p.parseBody(level, tok, "if", "endif")
			if err != nil {
				return Node{}, false, err
			}
			node.Else = elseBody
		case "":
			return Node{}, false, syntaxErrorf(tok.line, "'if' tag was never closed")
		}
		return node, true, nil

	case "for":
		m := forPattern.FindStringSubmatch(markup)
		if m == nil {
			return Node{}, false, syntaxErrorf(tok.line, "Syntax Error in 'for loop' - Valid syntax: for [item] in [collection]")
		}
		p.content = true
		body, err := p.parseBody(level, tok, "for", "endfor")
		if err != nil {
			return Node{}, false, err
		}
		return Node{Kind: NodeFor, Value: m[1], Args: m[2], Body: body}, true, nil

	case "comment":
		if _, err := p.parseBody(level, tok, "comment", "endcomment"); err != nil {
			return Node{}, false, err
		}
		return Node{}, false, nil

	case "include":
		slug, ok := unquote(markup)
		if !ok {
			return Node{}, false, syntaxErrorf(tok.line, "Syntax Error in 'include' - Valid syntax: include 'snippet'")
		}
		p.content = true
		body, err := p.include(tok, slug)
		if err != nil {
			return Node{}, false, err
		}
		return Node{Kind: NodeInclude, Value: slug, Body: body}, true, nil
	}

	if editableTags[name] {
		slug, ok := unquote(markup)
		if !ok {
			return Node{}, false, syntaxErrorf(tok.line, "Syntax Error in '%s' - Valid syntax: %s 'slug'", name, name)
		}
		p.content = true
		body, err := p.parseBody(level, tok, name, "end"+name)
		if err != nil {
			return Node{}, false, err
		}
		return Node{Kind: NodeEditable, Value: slug, Args: name, Body: body}, true, nil
	}

	if closingTagNames[name] {
		return Node{}, false, syntaxErrorf(tok.line, "Unexpected '%s'", name)
	}
	return Node{}, false, syntaxErrorf(tok.line, "Unknown tag '%s'", name)
}

func (p *parser) parseBody(level int, tok token, tag, end string) ([]Node, error) {
	body, closed, _, err := p.parseUntil(level+1, end)
	if err != nil {
		return nil, err
	}
	if closed == "" {
		return nil, syntaxErrorf(tok.line, "'%s' tag was never closed", tag)
	}
	return body, nil
}

func (p *parser) include(tok token, slug string) ([]Node, error) {
	if p.depth+1 > MaxIncludeDepth {
		return nil, fmt.Errorf("%w: '%s' at line %d", ErrIncludeDepth, slug, tok.line)
	}

	snippet, err := p.lctx.findSnippet(p.ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "snippet", Name: slug, Line: tok.line}
		}
		return nil, err
	}

	p.lctx.addSnippets(snippet.ID)
	return parseSource(p.ctx, snippet.Template, p.lctx, p.depth+1)
}

func (p *parser) inheritFrom(child []Node) ([]Node, error) {
	parent, err := p.lctx.findTemplate(p.ctx, p.extends)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "template", Name: p.extends, Line: p.extendsLine}
		}
		return nil, err
	}
	if parent == nil || parent.Template == nil {
		return nil, &NotFoundError{Kind: "template", Name: p.extends, Line: p.extendsLine}
	}

	if p.lctx.PageID != "" {
		if parent.ID == p.lctx.PageID {
			return nil, fmt.Errorf("%w: '%s' extends itself", ErrCircularInheritance, p.extends)
		}
		for _, id := range parent.TemplateDependencies {
			if id == p.lctx.PageID {
				return nil, fmt.Errorf("%w: '%s' already depends on this page", ErrCircularInheritance, p.extends)
			}
		}
	}

	p.lctx.addTemplates(parent.ID)
	p.lctx.addTemplates(parent.TemplateDependencies...)
	p.lctx.addSnippets(parent.SnippetDependencies...)

	return inherit(parent.Template.Nodes, collectBlocks(child)), nil
}

func parseVariable(tok token) (Node, error) {
	if tok.value == "" {
		return Node{}, syntaxErrorf(tok.line, "Variable '{{}}' was empty")
	}

	parts := strings.Split(tok.value, "|")
	expr := strings.TrimSpace(parts[0])
	if !pathPattern.MatchString(expr) && !literalPattern.MatchString(expr) {
		return Node{}, syntaxErrorf(tok.line, "Unexpected character in '%s'", expr)
	}

	node := Node{Kind: NodeVariable, Value: expr}
	for _, raw := range parts[1:] {
		filter := strings.TrimSpace(raw)
		if !filterPattern.MatchString(filter) {
			return Node{}, syntaxErrorf(tok.line, "Invalid filter '%s' in '%s'", filter, tok.value)
		}
		node.Filters = append(node.Filters, filter)
	}
	return node, nil
}

func plainText(nodes []Node) string {
	var b strings.Builder
	walk(nodes, "", func(n *Node, _ string) {
		if n.Kind == NodeText {
			b.WriteString(n.Value)
		}
	})
	return b.String()
}
