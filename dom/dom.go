// Package dom is the document handle the rewrite rules operate on. It wraps
// a parsed golang.org/x/net/html tree so a page (or an isolated fragment in
// tests) is always passed explicitly, never reached through a global.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed HTML document.
type Document struct {
	Root *html.Node
}

// Parse parses a full HTML document. Fragments are wrapped in html/head/body
// by the parser, which is what the rules expect.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{Root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.Root)
}

// String renders the document, returning "" on error.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	return &Document{Root: cloneNode(d.Root)}
}

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(cloneNode(ch))
	}
	return c
}

// Head returns the <head> element, creating it when the tree has none.
func (d *Document) Head() *html.Node {
	if h := d.first(atom.Head); h != nil {
		return h
	}
	htmlEl := d.first(atom.Html)
	if htmlEl == nil {
		htmlEl = &html.Node{Type: html.ElementNode, DataAtom: atom.Html, Data: "html"}
		d.Root.AppendChild(htmlEl)
	}
	head := &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
	htmlEl.InsertBefore(head, htmlEl.FirstChild)
	return head
}

// Body returns the <body> element or nil.
func (d *Document) Body() *html.Node {
	return d.first(atom.Body)
}

func (d *Document) first(a atom.Atom) *html.Node {
	var found *html.Node
	walk(d.Root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits n and its descendants in document order until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports whether n carries attribute key.
func HasAttr(n *html.Node, key string) bool {
	_, ok := Attr(n, key)
	return ok
}

// SetAttr sets attribute key on n, appending it when absent.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr removes every occurrence of attribute key from n.
func RemoveAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// IsTag reports whether n is an element with the given tag name.
func IsTag(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == tag
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

// SetText replaces the children of n with a single text node, like
// assigning textContent.
func SetText(n *html.Node, s string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
}

const displayNone = "display: none"

// Hide sets an inline display:none on n. Calling it twice leaves the same
// style in place.
func Hide(n *html.Node) {
	style, _ := Attr(n, "style")
	if hasDisplayNone(style) {
		return
	}
	style = strings.TrimSpace(style)
	if style == "" {
		SetAttr(n, "style", displayNone)
		return
	}
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	SetAttr(n, "style", style+" "+displayNone)
}

// Hidden reports whether n carries an inline display:none.
func Hidden(n *html.Node) bool {
	style, _ := Attr(n, "style")
	return hasDisplayNone(style)
}

func hasDisplayNone(style string) bool {
	for _, decl := range strings.Split(style, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(prop), "display") &&
			strings.EqualFold(strings.TrimSpace(val), "none") {
			return true
		}
	}
	return false
}

// Script builds a <script> element. An empty src yields an inline script
// holding body.
func Script(src, body string, attrs ...html.Attribute) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: atom.Script, Data: "script"}
	if src != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "src", Val: src})
	}
	n.Attr = append(n.Attr, attrs...)
	if body != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: body})
	}
	return n
}

// AppendToHead appends n as the last child of <head>.
func (d *Document) AppendToHead(n *html.Node) {
	d.Head().AppendChild(n)
}

// PrependToHead inserts n as the first child of <head>.
func (d *Document) PrependToHead(n *html.Node) {
	head := d.Head()
	head.InsertBefore(n, head.FirstChild)
}
