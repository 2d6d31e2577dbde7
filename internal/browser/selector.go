package browser

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/aptiscout/aptiscout/internal/interfaces"
)

// simpleSelector is a minimal CSS subset: `tag`, `.class`, `#id`, `tag.class`
// or `tag#id`, e.g. "div.question-block". Combinators (a descendant space,
// `>`) and compound classes (`.a.b`) are not parsed: such a selector is read
// as one tag, class or id token and matches no element.
type simpleSelector struct {
	tag   string
	class string
	id    string
}

func parseSimpleSelector(sel string) simpleSelector {
	var out simpleSelector
	rest := sel
	if idx := strings.Index(rest, "#"); idx >= 0 {
		out.tag = rest[:idx]
		out.id = rest[idx+1:]
		return out
	}
	if idx := strings.Index(rest, "."); idx >= 0 {
		out.tag = rest[:idx]
		out.class = rest[idx+1:]
		return out
	}
	out.tag = rest
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func attrVal(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func matches(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.class != "" && !hasClass(n, s.class) {
		return false
	}
	if s.id != "" {
		v, ok := attrVal(n, "id")
		if !ok || v != s.id {
			return false
		}
	}
	return true
}

func querySelectorAll(root *html.Node, selector string) []interfaces.Element {
	s := parseSimpleSelector(strings.TrimSpace(selector))
	var out []interfaces.Element
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if matches(n, s) {
			out = append(out, toElement(n, selector))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func toElement(n *html.Node, selector string) interfaces.Element {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	return interfaces.Element{
		Selector: selector,
		Text:     nodeText(n),
		HTML:     renderHTML(n),
		Attrs:    attrs,
	}
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func renderHTML(n *html.Node) string {
	var sb strings.Builder
	html.Render(&sb, n)
	return sb.String()
}
