// Package aria computes ARIA roles, accessible names, and state flags for
// parsed HTML elements. It implements the subset of the ARIA-in-HTML and
// accessible-name specifications that matters for driving a page: enough to
// label every interactive target and describe page structure, computed from
// element semantics and attributes alone.
package aria

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// RoleCategory groups roles by which state flags they may carry. Flag
// copying dispatches on the category so adding a role forces a decision in
// every switch that matters.
type RoleCategory int

const (
	CategoryStructure RoleCategory = iota
	CategoryLandmark
	CategoryHeading
	CategoryCheckable  // checkbox-like: carries checked
	CategoryButton     // carries pressed, expanded
	CategoryLink       // carries expanded
	CategorySelectable // option-like: carries selected
	CategoryTextbox
	CategoryComposite // combobox, listbox, menu, tree: carries expanded
	CategoryRange
	CategoryItem // listitem, treeitem, row: carries level, selected, expanded
	CategoryPresentation
	CategoryIframe
)

// CategoryOf maps a role to its category. Unknown roles are structural.
func CategoryOf(role string) RoleCategory {
	switch role {
	case "presentation", "none":
		return CategoryPresentation
	case "heading":
		return CategoryHeading
	case "checkbox", "radio", "switch", "menuitemcheckbox", "menuitemradio":
		return CategoryCheckable
	case "button":
		return CategoryButton
	case "link":
		return CategoryLink
	case "option", "tab", "gridcell", "cell":
		return CategorySelectable
	case "textbox", "searchbox", "spinbutton":
		return CategoryTextbox
	case "combobox", "listbox", "menu", "menubar", "tree", "treegrid", "grid", "tablist":
		return CategoryComposite
	case "slider", "progressbar", "meter", "scrollbar":
		return CategoryRange
	case "listitem", "treeitem", "row", "rowgroup":
		return CategoryItem
	case "banner", "navigation", "main", "contentinfo", "complementary",
		"region", "form", "search":
		return CategoryLandmark
	case "iframe":
		return CategoryIframe
	default:
		return CategoryStructure
	}
}

// AllowsChecked reports whether the category may carry a checked flag.
func (c RoleCategory) AllowsChecked() bool {
	return c == CategoryCheckable
}

// AllowsPressed reports whether the category may carry a pressed flag.
func (c RoleCategory) AllowsPressed() bool {
	return c == CategoryButton
}

// AllowsExpanded reports whether the category may carry an expanded flag.
func (c RoleCategory) AllowsExpanded() bool {
	switch c {
	case CategoryButton, CategoryLink, CategoryComposite, CategoryItem:
		return true
	default:
		return false
	}
}

// AllowsSelected reports whether the category may carry a selected flag.
func (c RoleCategory) AllowsSelected() bool {
	return c == CategorySelectable || c == CategoryItem
}

// AllowsLevel reports whether the category may carry a level.
func (c RoleCategory) AllowsLevel() bool {
	return c == CategoryHeading || c == CategoryItem
}

// Interactive reports whether nodes of this category are action targets by
// default.
func (c RoleCategory) Interactive() bool {
	switch c {
	case CategoryCheckable, CategoryButton, CategoryLink, CategorySelectable,
		CategoryTextbox, CategoryComposite, CategoryRange:
		return true
	default:
		return false
	}
}

// implicitRole computes the role an element has without an explicit role
// attribute. level is nonzero only for headings.
func implicitRole(n *html.Node) (role string, level int) {
	switch n.Data {
	case "a", "area":
		if Attr(n, "href") != "" {
			return "link", 0
		}
		return "generic", 0
	case "button":
		return "button", 0
	case "summary":
		return "button", 0
	case "input":
		return inputRole(Attr(n, "type")), 0
	case "textarea":
		return "textbox", 0
	case "select":
		if Attr(n, "multiple") != "" || attrInt(n, "size") > 1 {
			return "listbox", 0
		}
		return "combobox", 0
	case "option":
		return "option", 0
	case "optgroup":
		return "group", 0
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading", int(n.Data[1] - '0')
	case "img":
		if alt, ok := attrPresent(n, "alt"); ok && alt == "" {
			return "presentation", 0
		}
		return "img", 0
	case "nav":
		return "navigation", 0
	case "main":
		return "main", 0
	case "header":
		return "banner", 0
	case "footer":
		return "contentinfo", 0
	case "aside":
		return "complementary", 0
	case "form":
		return "form", 0
	case "search":
		return "search", 0
	case "section":
		// Unnamed sections are generic containers, not landmarks.
		if Attr(n, "aria-label") != "" || Attr(n, "aria-labelledby") != "" {
			return "region", 0
		}
		return "generic", 0
	case "article":
		return "article", 0
	case "ul", "ol", "menu":
		return "list", 0
	case "li":
		return "listitem", 0
	case "dl":
		return "list", 0
	case "table":
		return "table", 0
	case "thead", "tbody", "tfoot":
		return "rowgroup", 0
	case "tr":
		return "row", 0
	case "td":
		return "cell", 0
	case "th":
		return "columnheader", 0
	case "caption":
		return "caption", 0
	case "p":
		return "paragraph", 0
	case "blockquote":
		return "blockquote", 0
	case "hr":
		return "separator", 0
	case "fieldset", "details":
		return "group", 0
	case "dialog":
		return "dialog", 0
	case "progress":
		return "progressbar", 0
	case "meter":
		return "meter", 0
	case "output":
		return "status", 0
	case "figure":
		return "figure", 0
	case "iframe", "frame":
		return "iframe", 0
	default:
		return "generic", 0
	}
}

func inputRole(inputType string) string {
	switch strings.ToLower(inputType) {
	case "button", "submit", "reset", "image":
		return "button"
	case "checkbox":
		return "checkbox"
	case "radio":
		return "radio"
	case "range":
		return "slider"
	case "number":
		return "spinbutton"
	case "search":
		return "searchbox"
	case "hidden":
		return "presentation"
	default:
		return "textbox"
	}
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// attrPresent distinguishes a present-but-empty attribute from an absent one.
func attrPresent(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func attrInt(n *html.Node, name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(Attr(n, name)))
	if err != nil {
		return 0
	}
	return v
}
