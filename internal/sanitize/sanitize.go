// Package sanitize turns untrusted calendar descriptions into safe HTML.
//
// The allowlist filter is a pure recursive transform over Node trees; the
// x/net/html parser is only used to build the input tree.
package sanitize

import (
	"strings"
)

// allowedTags is the element allowlist. The value lists the attributes kept
// for that tag.
var allowedTags = map[string][]string{
	"a":      {"href", "target", "rel"},
	"b":      nil,
	"strong": nil,
	"i":      nil,
	"em":     nil,
	"u":      nil,
	"br":     nil,
	"p":      nil,
	"ul":     nil,
	"ol":     nil,
	"li":     nil,
	"span":   nil,
	"div":    nil,
}

// droppedTags hold script and style source. Every other disallowed element
// is unwrapped; these two are the exception because their text is code.
var droppedTags = map[string]bool{
	"script": true,
	"style":  true,
}

var anchorSchemes = []string{"http:", "https:", "mailto:"}

// Nodes rebuilds a new tree keeping only allowlisted elements and
// attributes. Disallowed elements are replaced by their sanitized children
// (script and style are dropped with their content);
// anchors without an http(s)/mailto href are unwrapped; kept anchors always
// get target=_blank and rel=noopener noreferrer.
func Nodes(in []*Node) []*Node {
	out := make([]*Node, 0, len(in))
	for _, n := range in {
		out = append(out, sanitizeNode(n)...)
	}
	return out
}

func sanitizeNode(n *Node) []*Node {
	switch n.Type {
	case TextNode:
		return []*Node{Text(n.Text)}
	case ElementNode:
		if droppedTags[n.Tag] {
			return nil
		}
		children := Nodes(n.Children)

		attrs, ok := allowedTags[n.Tag]
		if !ok {
			return children
		}
		if n.Tag == "a" {
			return sanitizeAnchor(n, children)
		}
		return []*Node{Element(n.Tag, keepAttrs(n, attrs), children...)}
	default:
		return nil
	}
}

func sanitizeAnchor(n *Node, children []*Node) []*Node {
	href, _ := n.Attr("href")
	href = strings.TrimSpace(href)
	if !SafeLinkURL(href) {
		return children
	}
	attrs := []Attr{
		{Key: "href", Val: href},
		{Key: "target", Val: "_blank"},
		{Key: "rel", Val: "noopener noreferrer"},
	}
	return []*Node{Element("a", attrs, children...)}
}

func keepAttrs(n *Node, allowed []string) []Attr {
	if len(allowed) == 0 {
		return nil
	}
	var out []Attr
	for _, a := range n.Attrs {
		for _, k := range allowed {
			if a.Key == k {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// SafeLinkURL reports whether u is an http, https or mailto URL.
func SafeLinkURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	for _, s := range anchorSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

// HTML parses s, filters it through the allowlist and renders the result.
// If s cannot be parsed the escaped text is returned instead.
func HTML(s string) string {
	nodes, err := ParseFragment(s)
	if err != nil {
		return Render([]*Node{Text(s)})
	}
	return Render(Nodes(nodes))
}
