// Package liquid implements the template dialect used by pagegraph pages.
//
// Parse turns template source into a compiled Template tree. Parsing resolves
// {% extends %} and {% include %} references through a Resolver carried by a
// per-call Context, and records every referenced page and snippet identity
// into the Context accumulators so callers can persist the dependency set
// alongside the compiled tree.
package liquid

// NodeKind identifies the variant stored in a Node.
type NodeKind uint8

const (
	NodeText NodeKind = iota + 1
	NodeVariable
	NodeBlock
	NodeIf
	NodeFor
	NodeInclude
	NodeEditable
)

// String returns the string representation of the node kind
func (k NodeKind) String() string {
	switch k {
	case NodeText:
		return "text"
	case NodeVariable:
		return "variable"
	case NodeBlock:
		return "block"
	case NodeIf:
		return "if"
	case NodeFor:
		return "for"
	case NodeInclude:
		return "include"
	case NodeEditable:
		return "editable"
	default:
		return "unknown"
	}
}

// FormatVersion is bumped whenever the encoded Template layout changes.
const FormatVersion uint16 = 1

// Node is a tagged variant; Kind selects which fields are meaningful.
//
//	text      Value = literal text
//	variable  Value = expression, Filters = filter chain
//	block     Value = block name, Body
//	if        Args = condition, Body, Else
//	for       Value = loop variable, Args = collection, Body
//	include   Value = snippet slug, Body = parsed snippet
//	editable  Value = slug, Args = tag name, Body = default content
type Node struct {
	Kind    NodeKind `msgpack:"k"`
	Value   string   `msgpack:"v,omitempty"`
	Args    string   `msgpack:"a,omitempty"`
	Filters []string `msgpack:"f,omitempty"`
	Body    []Node   `msgpack:"b,omitempty"`
	Else    []Node   `msgpack:"e,omitempty"`
}

// Template is the compiled, executable form of a page.
type Template struct {
	Version uint16 `msgpack:"ver"`
	Nodes   []Node `msgpack:"nodes"`
}

// Blocks returns the named blocks defined anywhere in the template.
func (t *Template) Blocks() map[string][]Node {
	if t == nil {
		return nil
	}
	return collectBlocks(t.Nodes)
}

// Walk visits every node depth-first. The block argument is the name of the
// innermost enclosing block, or "" at the top level.
func (t *Template) Walk(fn func(n *Node, block string)) {
	if t == nil {
		return
	}
	walk(t.Nodes, "", fn)
}

func walk(nodes []Node, block string, fn func(n *Node, block string)) {
	for i := range nodes {
		n := &nodes[i]
		fn(n, block)
		inner := block
		if n.Kind == NodeBlock {
			inner = n.Value
		}
		walk(n.Body, inner, fn)
		walk(n.Else, inner, fn)
	}
}

func collectBlocks(nodes []Node) map[string][]Node {
	blocks := make(map[string][]Node)
	walk(nodes, "", func(n *Node, _ string) {
		if n.Kind != NodeBlock {
			return
		}
		if _, seen := blocks[n.Value]; !seen {
			blocks[n.Value] = n.Body
		}
	})
	return blocks
}

func cloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
		if n.Filters != nil {
			out[i].Filters = append([]string(nil), n.Filters...)
		}
		out[i].Body = cloneNodes(n.Body)
		out[i].Else = cloneNodes(n.Else)
	}
	return out
}

// inherit copies the parent tree, replacing every block the child overrides
// with the child's body. Overridden bodies are not substituted again.
func inherit(parent []Node, overrides map[string][]Node) []Node {
	if parent == nil {
		return nil
	}
	out := make([]Node, len(parent))
	for i, n := range parent {
		out[i] = n
		if n.Filters != nil {
			out[i].Filters = append([]string(nil), n.Filters...)
		}
		if n.Kind == NodeBlock {
			if body, ok := overrides[n.Value]; ok {
				out[i].Body = cloneNodes(body)
				out[i].Else = nil
				continue
			}
		}
		out[i].Body = inherit(n.Body, overrides)
		out[i].Else = inherit(n.Else, overrides)
	}
	return out
}
