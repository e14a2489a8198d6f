package sanitize

import (
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NodeType distinguishes the node kinds the sanitizer understands.
type NodeType int

const (
	TextNode NodeType = iota
	ElementNode
	CommentNode
)

// Attr is a single element attribute. Keys are lower case.
type Attr struct {
	Key string
	Val string
}

// Node is a parser-independent markup tree. Text holds the decoded text of
// text and comment nodes; Tag, Attrs and Children apply to elements.
type Node struct {
	Type     NodeType
	Tag      string
	Attrs    []Attr
	Children []*Node
	Text     string
}

// Text returns a text node.
func Text(s string) *Node { return &Node{Type: TextNode, Text: s} }

// Element returns an element node.
func Element(tag string, attrs []Attr, children ...*Node) *Node {
	return &Node{Type: ElementNode, Tag: tag, Attrs: attrs, Children: children}
}

// Attr returns the value of key and whether it was present.
func (n *Node) Attr(key string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// TextContent concatenates all descendant text.
func (n *Node) TextContent() string {
	var b strings.Builder
	var walk func(*Node)
	walk = func(m *Node) {
		switch m.Type {
		case TextNode:
			b.WriteString(m.Text)
		case ElementNode:
			for _, c := range m.Children {
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

// ParseFragment parses an HTML fragment as if it were the content of <body>.
func ParseFragment(s string) ([]*Node, error) {
	body := &xhtml.Node{Type: xhtml.ElementNode, Data: "body", DataAtom: atom.Body}
	parsed, err := xhtml.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(parsed))
	for _, p := range parsed {
		if n := convert(p); n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func convert(p *xhtml.Node) *Node {
	switch p.Type {
	case xhtml.TextNode:
		return Text(p.Data)
	case xhtml.CommentNode:
		return &Node{Type: CommentNode, Text: p.Data}
	case xhtml.ElementNode:
		n := &Node{Type: ElementNode, Tag: strings.ToLower(p.Data)}
		for _, a := range p.Attr {
			if a.Namespace != "" {
				continue
			}
			n.Attrs = append(n.Attrs, Attr{Key: strings.ToLower(a.Key), Val: a.Val})
		}
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if cn := convert(c); cn != nil {
				n.Children = append(n.Children, cn)
			}
		}
		return n
	default:
		// Doctype and friends carry no content.
		return nil
	}
}

// voidElements never have children or an end tag.
var voidElements = map[string]bool{"br": true, "hr": true, "img": true, "wbr": true}

// Render serializes nodes, escaping text and attribute values exactly once.
// Comments are never rendered.
func Render(nodes []*Node) string {
	var b strings.Builder
	for _, n := range nodes {
		render(&b, n)
	}
	return b.String()
}

func render(b *strings.Builder, n *Node) {
	switch n.Type {
	case TextNode:
		b.WriteString(html.EscapeString(n.Text))
	case ElementNode:
		b.WriteByte('<')
		b.WriteString(n.Tag)
		for _, a := range n.Attrs {
			b.WriteByte(' ')
			b.WriteString(a.Key)
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(a.Val))
			b.WriteByte('"')
		}
		b.WriteByte('>')
		if voidElements[n.Tag] {
			return
		}
		for _, c := range n.Children {
			render(b, c)
		}
		b.WriteString("</")
		b.WriteString(n.Tag)
		b.WriteByte('>')
	}
}
