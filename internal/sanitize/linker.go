package sanitize

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	// labelLinkRe matches "label <url>" on a single line. The label is
	// whatever plain text precedes the bracketed URL on that line.
	labelLinkRe = regexp.MustCompile(`([^<>\n]*?)[ \t]*<((?:https?|tel):[^\s<>]+)>`)

	// htmlTagRe is the cheap "does this look like markup" test.
	htmlTagRe = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

	// bareURLRe finds http(s) URLs in plain text.
	bareURLRe = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

	placeholderRe = regexp.MustCompile(`\x{E000}([0-9]+)\x{E001}`)
)

const (
	placeholderOpen  = "\ue000"
	placeholderClose = "\ue001"
)

type labeledLink struct {
	label  string
	target string
}

// Description converts an untrusted event description into safe HTML.
//
//  1. "label <url>" patterns (http, https, tel) become placeholders.
//  2. Text that looks like markup goes through the allowlist filter;
//     anything else stays a single text node.
//  3. Placeholders in text nodes are expanded into anchor nodes and the
//     tree is rendered. Placeholders that ended up in attribute values
//     are removed.
func Description(text string) string {
	if text == "" {
		return ""
	}
	// Placeholder delimiters are private-use runes; never trust them in input.
	text = stripPlaceholderRunes(text)

	var links []labeledLink
	text = labelLinkRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := labelLinkRe.FindStringSubmatch(m)
		label := strings.TrimSpace(sub[1])
		prefix := ""
		if strings.HasPrefix(label, "|") {
			prefix = "| "
			label = strings.TrimSpace(strings.TrimPrefix(label, "|"))
		}
		links = append(links, labeledLink{label: label, target: sub[2]})
		return prefix + placeholderOpen + strconv.Itoa(len(links)-1) + placeholderClose
	})

	nodes := []*Node{Text(text)}
	isMarkup := htmlTagRe.MatchString(text)
	if isMarkup {
		parsed, err := ParseFragment(text)
		if err == nil {
			nodes = Nodes(parsed)
		}
		// Markup input may carry entities; decode so they are escaped once.
		for i := range links {
			links[i].label = html.UnescapeString(links[i].label)
			links[i].target = html.UnescapeString(links[i].target)
		}
	}
	return Render(expandLinks(nodes, links))
}

func stripPlaceholderRunes(s string) string {
	return strings.NewReplacer(placeholderOpen, "", placeholderClose, "").Replace(s)
}

// expandLinks replaces placeholders in text nodes with anchor elements and
// drops them from attribute values.
func expandLinks(nodes []*Node, links []labeledLink) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		switch n.Type {
		case TextNode:
			out = append(out, splitText(n.Text, links)...)
		case ElementNode:
			attrs := make([]Attr, 0, len(n.Attrs))
			for _, a := range n.Attrs {
				v := stripPlaceholderRunes(placeholderRe.ReplaceAllString(a.Val, ""))
				attrs = append(attrs, Attr{Key: a.Key, Val: strings.TrimSpace(v)})
			}
			out = append(out, Element(n.Tag, attrs, expandLinks(n.Children, links)...))
		default:
			out = append(out, n)
		}
	}
	return out
}

func splitText(s string, links []labeledLink) []*Node {
	var out []*Node
	last := 0
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			out = append(out, Text(s[last:m[0]]))
		}
		last = m[1]
		i, err := strconv.Atoi(s[m[2]:m[3]])
		if err != nil || i < 0 || i >= len(links) {
			continue
		}
		out = append(out, anchor(links[i]))
	}
	if rest := stripPlaceholderRunes(s[last:]); rest != "" {
		out = append(out, Text(rest))
	}
	return out
}

func anchor(l labeledLink) *Node {
	label := l.label
	isTel := strings.HasPrefix(strings.ToLower(l.target), "tel:")
	if label == "" {
		label = l.target
		if isTel {
			label = l.target[len("tel:"):]
		}
	}
	attrs := []Attr{{Key: "href", Val: l.target}}
	if !isTel {
		attrs = append(attrs,
			Attr{Key: "target", Val: "_blank"},
			Attr{Key: "rel", Val: "noopener noreferrer"},
		)
	}
	return Element("a", attrs, Text(label))
}

// Linkify escapes plain text (e.g. an event location) and wraps bare http(s)
// URLs in safe anchors.
func Linkify(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	last := 0
	for _, loc := range bareURLRe.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		u := trimURLTail(text[start:end])
		end = start + len(u)

		b.WriteString(html.EscapeString(text[last:start]))
		esc := html.EscapeString(u)
		b.WriteString(`<a href="` + esc + `" target="_blank" rel="noopener noreferrer">` + esc + `</a>`)
		last = end
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

// trimURLTail drops sentence punctuation that is almost never part of a URL.
func trimURLTail(u string) string {
	for len(u) > 0 {
		c := u[len(u)-1]
		switch {
		case strings.IndexByte(".,;:!?", c) >= 0:
			u = u[:len(u)-1]
		case c == ')' && strings.Count(u, "(") < strings.Count(u, ")"):
			u = u[:len(u)-1]
		default:
			return u
		}
	}
	return u
}
