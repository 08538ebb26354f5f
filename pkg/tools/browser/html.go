package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// CleanedHTML is markup reduced to its semantic structure.
type CleanedHTML struct {
	HTML        string
	Title       string
	Description string
	Truncated   bool
}

var (
	droppedElements = set("script", "style", "noscript", "iframe", "embed", "object", "svg", "template")
	blockElements   = set("div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr", "td", "th",
		"form", "fieldset", "blockquote", "pre", "dialog")
	voidElements = set("area", "base", "br", "col", "embed", "hr", "img", "input", "link", "meta",
		"param", "source", "track", "wbr")
	keptAttributes = set("id", "class", "role", "name", "aria-label", "aria-describedby", "title")
	tagAttributes  = map[string]map[string]bool{
		"a":        set("href", "target"),
		"img":      set("src", "alt"),
		"input":    set("type", "placeholder", "value"),
		"textarea": set("placeholder"),
		"select":   set("multiple"),
		"button":   set("type"),
		"form":     set("action", "method"),
		"label":    set("for"),
	}
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// cleanHTML strips scripts, styles and attributes that do not help target
// elements. maxLength bounds the emitted text and tags; 0 means unlimited.
func cleanHTML(raw string, maxLength int) (*CleanedHTML, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{limit: maxLength}
	c.walk(doc, 0)

	return &CleanedHTML{
		HTML:        strings.TrimSpace(c.out.String()),
		Title:       findTitle(doc),
		Description: findMeta(doc, "description"),
		Truncated:   c.truncated,
	}, nil
}

type cleaner struct {
	out       strings.Builder
	written   int
	limit     int
	truncated bool
}

func (c *cleaner) full() bool {
	return c.limit > 0 && c.written >= c.limit
}

func (c *cleaner) emit(s string) {
	c.out.WriteString(s)
	c.written += len(s)
}

func (c *cleaner) walk(n *html.Node, depth int) {
	if c.full() {
		c.truncated = true
		return
	}

	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		c.text(n.Data)
	case html.ElementNode:
		c.element(n, depth)
	default:
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			c.walk(child, depth)
		}
	}
}

func (c *cleaner) text(data string) {
	text := strings.Join(strings.Fields(data), " ")
	if text == "" {
		return
	}
	if c.limit > 0 && c.written+len(text) > c.limit {
		cut := c.limit - c.written
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		c.emit(html.EscapeString(text[:cut]) + "...")
		c.truncated = true
		return
	}
	c.emit(html.EscapeString(text))
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func (c *cleaner) element(n *html.Node, depth int) {
	tag := strings.ToLower(n.Data)
	if droppedElements[tag] {
		return
	}

	block := blockElements[tag]
	if block && depth > 0 {
		c.emit("\n" + strings.Repeat("  ", depth))
	}

	var open strings.Builder
	open.WriteString("<" + tag)
	for _, attr := range n.Attr {
		if keepAttribute(tag, strings.ToLower(attr.Key)) {
			fmt.Fprintf(&open, ` %s="%s"`, attr.Key, html.EscapeString(attr.Val))
		}
	}
	open.WriteString(">")
	c.emit(open.String())

	if voidElements[tag] {
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth+1)
	}

	if block {
		c.emit("\n" + strings.Repeat("  ", depth))
	}
	c.emit("</" + tag + ">")
}

func keepAttribute(tag, attr string) bool {
	if keptAttributes[attr] || strings.HasPrefix(attr, "data-") {
		return true
	}
	return tagAttributes[tag][attr]
}

func findTitle(doc *html.Node) string {
	n := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "title"
	})
	if n == nil || n.FirstChild == nil {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func findMeta(doc *html.Node, name string) string {
	var content string
	findNode(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return false
		}
		var matched bool
		var value string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "name":
				matched = strings.EqualFold(attr.Val, name)
			case "content":
				value = attr.Val
			}
		}
		if matched && value != "" {
			content = strings.TrimSpace(value)
			return true
		}
		return false
	})
	return content
}

// findNode returns the first node in document order matching fn.
func findNode(n *html.Node, fn func(*html.Node) bool) *html.Node {
	if fn(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findNode(child, fn); found != nil {
			return found
		}
	}
	return nil
}
