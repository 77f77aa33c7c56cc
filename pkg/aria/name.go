package aria

import (
	"strings"

	"golang.org/x/net/html"
)

// accessibleName computes the name for n following the accname precedence:
// aria-labelledby, aria-label, host-language attributes (alt, value,
// placeholder, title), then subtree text for roles that name from contents.
func (r *DocumentResolver) accessibleName(n *html.Node, role string) string {
	if ids := Attr(n, "aria-labelledby"); ids != "" {
		var parts []string
		for _, id := range strings.Fields(ids) {
			if target := r.ByID(id); target != nil && target != n {
				if text := subtreeText(target); text != "" {
					parts = append(parts, text)
				}
			}
		}
		if len(parts) > 0 {
			return NormalizeWhitespace(strings.Join(parts, " "))
		}
	}

	if label := Attr(n, "aria-label"); strings.TrimSpace(label) != "" {
		return NormalizeWhitespace(label)
	}

	if name := hostLanguageName(r, n); name != "" {
		return name
	}

	if namesFromContents(role) {
		if text := subtreeText(n); text != "" {
			return NormalizeWhitespace(text)
		}
	}

	if title := Attr(n, "title"); title != "" {
		return NormalizeWhitespace(title)
	}
	return ""
}

// hostLanguageName applies element-specific naming attributes.
func hostLanguageName(r *DocumentResolver, n *html.Node) string {
	switch n.Data {
	case "img", "area":
		return NormalizeWhitespace(Attr(n, "alt"))
	case "input":
		switch strings.ToLower(Attr(n, "type")) {
		case "button", "submit", "reset":
			if v := Attr(n, "value"); v != "" {
				return NormalizeWhitespace(v)
			}
		case "image":
			return NormalizeWhitespace(Attr(n, "alt"))
		}
		if label := labelFor(r, n); label != "" {
			return label
		}
		return NormalizeWhitespace(Attr(n, "placeholder"))
	case "textarea", "select":
		if label := labelFor(r, n); label != "" {
			return label
		}
		return NormalizeWhitespace(Attr(n, "placeholder"))
	case "fieldset":
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "legend" {
				return NormalizeWhitespace(subtreeText(c))
			}
		}
	case "table":
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "caption" {
				return NormalizeWhitespace(subtreeText(c))
			}
		}
	case "figure":
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "figcaption" {
				return NormalizeWhitespace(subtreeText(c))
			}
		}
	}
	return ""
}

// labelFor finds a <label> naming the control, via for= or wrapping.
func labelFor(r *DocumentResolver, n *html.Node) string {
	if id := Attr(n, "id"); id != "" {
		if label := r.labels[id]; label != nil {
			return NormalizeWhitespace(controlFreeText(label, n))
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "label" {
			return NormalizeWhitespace(controlFreeText(p, n))
		}
	}
	return ""
}

// namesFromContents reports whether the role takes its name from subtree
// text when no explicit label exists.
func namesFromContents(role string) bool {
	switch role {
	case "button", "link", "heading", "option", "tab", "menuitem",
		"menuitemcheckbox", "menuitemradio", "checkbox", "radio", "switch",
		"treeitem", "cell", "columnheader", "gridcell", "tooltip":
		return true
	default:
		return false
	}
}

// subtreeText concatenates all text under n, skipping hidden subtrees.
func subtreeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(m *html.Node) {
		switch m.Type {
		case html.TextNode:
			b.WriteString(m.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if IsHidden(m) || m.Data == "script" || m.Data == "style" {
				return
			}
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return NormalizeWhitespace(b.String())
}

// controlFreeText returns label text excluding the labeled control's own
// subtree, so an input's value is not folded into its label.
func controlFreeText(label, control *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(m *html.Node) {
		if m == control {
			return
		}
		if m.Type == html.TextNode {
			b.WriteString(m.Data)
			b.WriteByte(' ')
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(label)
	return b.String()
}
