package aria

import (
	"strings"

	"golang.org/x/net/html"
)

// TriState is the value space of aria-checked: unset, true, false, or mixed.
type TriState string

const (
	StateUnset TriState = ""
	StateTrue  TriState = "true"
	StateFalse TriState = "false"
	StateMixed TriState = "mixed"
)

// States holds the per-role flags a node may carry. Pointers distinguish an
// absent flag from an explicit false.
type States struct {
	Checked  TriState
	Disabled bool
	Expanded *bool
	Level    int
	Pressed  *bool
	Selected *bool
}

// Computed is the resolution result for one element.
type Computed struct {
	Role     string
	Category RoleCategory
	Name     string
	States   States
}

// Resolver computes role, accessible name, and states for elements of one
// document. Implementations are scoped to a document because name and
// aria-owns resolution need id lookup.
type Resolver interface {
	Resolve(n *html.Node) Computed
	// ByID returns the element with the given id, or nil.
	ByID(id string) *html.Node
}

// DocumentResolver resolves roles and names against a parsed document.
type DocumentResolver struct {
	ids    map[string]*html.Node
	labels map[string]*html.Node // control id -> label element
}

// NewResolver builds a resolver for the document rooted at doc, indexing
// element ids (for aria-labelledby and aria-owns lookup) and label targets.
func NewResolver(doc *html.Node) *DocumentResolver {
	r := &DocumentResolver{
		ids:    make(map[string]*html.Node),
		labels: make(map[string]*html.Node),
	}
	var index func(*html.Node)
	index = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if id := Attr(n, "id"); id != "" {
				if _, exists := r.ids[id]; !exists {
					r.ids[id] = n
				}
			}
			if n.Data == "label" {
				if target := Attr(n, "for"); target != "" {
					if _, exists := r.labels[target]; !exists {
						r.labels[target] = n
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			index(c)
		}
	}
	index(doc)
	return r
}

// ByID returns the element carrying the given id, or nil.
func (r *DocumentResolver) ByID(id string) *html.Node {
	return r.ids[id]
}

// Resolve computes the role, accessible name, and allowed state flags for n.
func (r *DocumentResolver) Resolve(n *html.Node) Computed {
	role, level := explicitOrImplicitRole(n)
	cat := CategoryOf(role)

	c := Computed{
		Role:     role,
		Category: cat,
		Name:     r.accessibleName(n, role),
	}
	r.resolveStates(n, &c, level)
	return c
}

// explicitOrImplicitRole honors the first recognized token of a role
// attribute, falling back to the element's implicit role.
func explicitOrImplicitRole(n *html.Node) (string, int) {
	if explicit := Attr(n, "role"); explicit != "" {
		for _, token := range strings.Fields(explicit) {
			token = strings.ToLower(token)
			if knownRole(token) {
				level := 0
				if token == "heading" {
					level = attrInt(n, "aria-level")
					if level == 0 {
						level = 2 // default heading level per ARIA
					}
				}
				return token, level
			}
		}
	}
	return implicitRole(n)
}

func knownRole(role string) bool {
	switch role {
	case "alert", "alertdialog", "application", "article", "banner",
		"blockquote", "button", "caption", "cell", "checkbox", "columnheader",
		"combobox", "complementary", "contentinfo", "dialog", "document",
		"figure", "form", "generic", "grid", "gridcell", "group", "heading",
		"img", "link", "list", "listbox", "listitem", "main", "menu",
		"menubar", "menuitem", "menuitemcheckbox", "menuitemradio", "meter",
		"navigation", "none", "option", "paragraph", "presentation",
		"progressbar", "radio", "radiogroup", "region", "row", "rowgroup",
		"scrollbar", "search", "searchbox", "separator", "slider",
		"spinbutton", "status", "switch", "tab", "table", "tablist",
		"tabpanel", "textbox", "toolbar", "tooltip", "tree", "treegrid",
		"treeitem":
		return true
	default:
		return false
	}
}

// resolveStates copies state flags onto c, but only the flags the role's
// category allows.
func (r *DocumentResolver) resolveStates(n *html.Node, c *Computed, level int) {
	cat := c.Category

	if cat.AllowsChecked() {
		c.States.Checked = checkedState(n)
	}
	if cat.AllowsPressed() {
		if v := Attr(n, "aria-pressed"); v == "true" || v == "false" {
			pressed := v == "true"
			c.States.Pressed = &pressed
		}
	}
	if cat.AllowsExpanded() {
		if v := Attr(n, "aria-expanded"); v == "true" || v == "false" {
			expanded := v == "true"
			c.States.Expanded = &expanded
		} else if n.Data == "summary" && n.Parent != nil && n.Parent.Type == html.ElementNode && n.Parent.Data == "details" {
			expanded := attrBool(n.Parent, "open")
			c.States.Expanded = &expanded
		}
	}
	if cat.AllowsSelected() {
		if v := Attr(n, "aria-selected"); v == "true" || v == "false" {
			selected := v == "true"
			c.States.Selected = &selected
		} else if n.Data == "option" && attrBool(n, "selected") {
			selected := true
			c.States.Selected = &selected
		}
	}
	if cat.AllowsLevel() {
		if level == 0 {
			level = attrInt(n, "aria-level")
		}
		c.States.Level = level
	}

	// disabled applies across interactive categories.
	if cat.Interactive() || cat == CategoryItem {
		c.States.Disabled = attrBool(n, "disabled") || Attr(n, "aria-disabled") == "true"
	}
}

func checkedState(n *html.Node) TriState {
	switch Attr(n, "aria-checked") {
	case "true":
		return StateTrue
	case "false":
		return StateFalse
	case "mixed":
		return StateMixed
	}
	if n.Data == "input" {
		switch strings.ToLower(Attr(n, "type")) {
		case "checkbox", "radio":
			if attrBool(n, "checked") {
				return StateTrue
			}
			return StateFalse
		}
	}
	return StateUnset
}

func attrBool(n *html.Node, name string) bool {
	_, ok := attrPresent(n, name)
	return ok
}

// IsHidden reports whether the element is removed from the accessibility
// tree: hidden attribute, aria-hidden="true", display:none or
// visibility:hidden in inline style, or input type=hidden.
func IsHidden(n *html.Node) bool {
	if attrBool(n, "hidden") || Attr(n, "aria-hidden") == "true" {
		return true
	}
	if n.Data == "input" && strings.EqualFold(Attr(n, "type"), "hidden") {
		return true
	}
	style := styleProps(n)
	if style["display"] == "none" || style["visibility"] == "hidden" {
		return true
	}
	return false
}

// CursorStyle returns the inline cursor style, or "".
func CursorStyle(n *html.Node) string {
	return styleProps(n)["cursor"]
}

// BlocksPointerEvents reports whether inline style disables pointer events.
func BlocksPointerEvents(n *html.Node) bool {
	return styleProps(n)["pointer-events"] == "none"
}

// styleProps splits an inline style attribute into a property map.
// Good enough for the handful of properties inspected above; full cascade
// resolution belongs to the browser, not this layer.
func styleProps(n *html.Node) map[string]string {
	style := Attr(n, "style")
	if style == "" {
		return nil
	}
	props := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		key, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		props[strings.ToLower(strings.TrimSpace(key))] = strings.ToLower(strings.TrimSpace(value))
	}
	return props
}

// NormalizeWhitespace collapses runs of whitespace into single spaces and
// trims the ends, matching how rendered text is perceived.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
