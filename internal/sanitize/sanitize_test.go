package sanitize

import (
	"strings"
	"testing"

	xhtml "golang.org/x/net/html"
)

func TestHTMLAllowlist(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "javascript anchor unwrapped",
			in:   `<a href="javascript:alert(1)">x</a>`,
			want: `x`,
		},
		{
			name: "script removed",
			in:   `<script>bad()</script>keep`,
			want: `keep`,
		},
		{
			name: "formatting kept, handlers dropped",
			in:   `<b onclick="steal()">bold</b><br><i>it</i>`,
			want: `<b>bold</b><br><i>it</i>`,
		},
		{
			name: "unknown element unwrapped",
			in:   `<div><font color="red">in</font> out</div>`,
			want: `<div>in out</div>`,
		},
		{
			name: "image dropped",
			in:   `a<img src=x onerror="alert(1)">b`,
			want: `ab`,
		},
		{
			name: "anchor attributes forced",
			in:   `<a href="https://ok.example" target="_self" rel="opener" class="c">ok</a>`,
			want: `<a href="https://ok.example" target="_blank" rel="noopener noreferrer">ok</a>`,
		},
		{
			name: "mailto allowed",
			in:   `<a href="mailto:a@example.com">mail</a>`,
			want: `<a href="mailto:a@example.com" target="_blank" rel="noopener noreferrer">mail</a>`,
		},
		{
			name: "data url unwrapped",
			in:   `<a href="data:text/html,hi">d</a>`,
			want: `d`,
		},
		{
			name: "relative href unwrapped",
			in:   `<a href="/local">rel</a>`,
			want: `rel`,
		},
		{
			name: "entities escaped once",
			in:   `<p>Tom &amp; Jerry &lt;3</p>`,
			want: `<p>Tom &amp; Jerry &lt;3</p>`,
		},
		{
			name: "comments dropped",
			in:   `<span>a<!-- hidden -->b</span>`,
			want: `<span>ab</span>`,
		},
		{
			name: "template and noscript text unwrapped",
			in:   `<template>tpl</template> <noscript>enable js</noscript>`,
			want: `tpl enable js`,
		},
		{
			name: "style removed",
			in:   `<style>b{color:red}</style>text`,
			want: `text`,
		},
		{
			name: "lists kept",
			in:   `<ul><li>one</li><li>two</li></ul>`,
			want: `<ul><li>one</li><li>two</li></ul>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTML(tt.in); got != tt.want {
				t.Errorf("HTML(%q)\n got %q\nwant %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNodesIsPure(t *testing.T) {
	in := []*Node{
		Element("section", nil,
			Element("a", []Attr{{Key: "href", Val: "https://x.example"}}, Text("x")),
			Element("iframe", nil, Text("y")),
		),
	}
	out := Nodes(in)

	if in[0].Tag != "section" || len(in[0].Children) != 2 {
		t.Fatal("input tree must not be mutated")
	}
	if got := Render(out); got != `<a href="https://x.example" target="_blank" rel="noopener noreferrer">x</a>y` {
		t.Errorf("Render = %q", got)
	}
	if len(in[0].Children[0].Attrs) != 1 {
		t.Error("input anchor attributes must not be mutated")
	}
}

func TestSafeLinkURL(t *testing.T) {
	for _, u := range []string{"http://a", "HTTPS://a", " mailto:x@y"} {
		if !SafeLinkURL(u) {
			t.Errorf("%q should be safe", u)
		}
	}
	for _, u := range []string{"javascript:alert(1)", "JaVaScRiPt:x", "data:x", "vbscript:x", "//evil", "tel:1", ""} {
		if SafeLinkURL(u) {
			t.Errorf("%q should be rejected", u)
		}
	}
}

func TestDescription(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text escaped",
			in:   "Tom & Jerry <3\nline2",
			want: "Tom &amp; Jerry &lt;3\nline2",
		},
		{
			name: "labeled https link",
			in:   "Zoom会議 <https://zoom.example/j/1?a=1&b=2>",
			want: `<a href="https://zoom.example/j/1?a=1&amp;b=2" target="_blank" rel="noopener noreferrer">Zoom会議</a>`,
		},
		{
			name: "tel link keeps pipe and has no target",
			in:   "| 電話 <tel:+81312345678>",
			want: `| <a href="tel:+81312345678">電話</a>`,
		},
		{
			name: "empty label uses url",
			in:   "<https://a.example/x>",
			want: `<a href="https://a.example/x" target="_blank" rel="noopener noreferrer">https://a.example/x</a>`,
		},
		{
			name: "two links on separate lines",
			in:   "Docs <https://d.example>\nCall <tel:123>",
			want: "<a href=\"https://d.example\" target=\"_blank\" rel=\"noopener noreferrer\">Docs</a>\n<a href=\"tel:123\">Call</a>",
		},
		{
			name: "markup with labeled link and entities",
			in:   `<p>A&amp;B <https://x.example/?a=1&amp;b=2></p>`,
			want: `<p><a href="https://x.example/?a=1&amp;b=2" target="_blank" rel="noopener noreferrer">A&amp;B</a></p>`,
		},
		{
			name: "markup sanitized",
			in:   `<b>hi</b><script>x()</script>`,
			want: `<b>hi</b>`,
		},
		{
			name: "javascript in brackets is not a link",
			in:   "click <javascript:alert(1)>",
			want: "click ",
		},
		{
			name: "forged placeholder stripped",
			in:   "a\ue0000\ue001b",
			want: "a0b",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Description(tt.in)
			if got != tt.want {
				t.Errorf("Description(%q)\n got %q\nwant %q", tt.in, got, tt.want)
			}
			if strings.Contains(strings.ToLower(got), "javascript:") && strings.Contains(got, "href") {
				t.Errorf("output carries an executable href: %q", got)
			}
		})
	}
}

func TestDescriptionPlaceholderInAttribute(t *testing.T) {
	inputs := []string{
		"<a href=\"https://ok/\n<https://y/onmouseover=alert(1)//>\">x</a>",
		"<span title=\"a\n<https://y/\" onclick=alert(1)//>\">x</span>",
		"<a href=\"https://ok/\nlabel <tel:1\"onfocus=alert(1)>\">x</a> Call <tel:2>",
	}
	for _, in := range inputs {
		got := Description(in)
		doc, err := xhtml.Parse(strings.NewReader(got))
		if err != nil {
			t.Fatalf("parse %q: %v", got, err)
		}
		var walk func(*xhtml.Node)
		walk = func(n *xhtml.Node) {
			if n.Type == xhtml.ElementNode {
				for _, a := range n.Attr {
					if strings.HasPrefix(strings.ToLower(a.Key), "on") {
						t.Errorf("Description(%q) = %q: element <%s> has %s attribute", in, got, n.Data, a.Key)
					}
					if a.Key == "href" && strings.ContainsAny(a.Val, "<>\"") {
						t.Errorf("Description(%q) = %q: href %q carries markup", in, got, a.Val)
					}
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(doc)
	}

	want := `<a href="https://ok/" target="_blank" rel="noopener noreferrer">x</a>`
	if got := Description(inputs[0]); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestLinkify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"会議室A", "会議室A"},
		{
			"Room <5> https://meet.example/abc?x=1&y=2.",
			`Room &lt;5&gt; <a href="https://meet.example/abc?x=1&amp;y=2" target="_blank" rel="noopener noreferrer">https://meet.example/abc?x=1&amp;y=2</a>.`,
		},
		{
			"(see https://w.example/Foo_(bar))",
			`(see <a href="https://w.example/Foo_(bar)" target="_blank" rel="noopener noreferrer">https://w.example/Foo_(bar)</a>)`,
		},
		{"javascript:alert(1)", "javascript:alert(1)"},
	}
	for _, tt := range tests {
		if got := Linkify(tt.in); got != tt.want {
			t.Errorf("Linkify(%q)\n got %q\nwant %q", tt.in, got, tt.want)
		}
	}
}
