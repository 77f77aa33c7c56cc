package snapshot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/mozilla/pilo-sub005/pkg/aria"
)

// Attributes stamped back onto the live DOM so a ref resolves to its
// element with a plain attribute selector, no tree re-walk.
const (
	AttrRef  = "data-agent-ref"
	AttrRole = "data-agent-role"
)

// maxNameRunes bounds a rendered accessible name.
const maxNameRunes = 900

// RefTable maps an assigned ref like "E7" to the node it points at.
type RefTable map[string]NodeID

// Rendered is the text form of a tree plus the refs handed out while
// rendering it.
type Rendered struct {
	Text string
	Refs RefTable
}

// Render writes the tree as an indented outline, one node per line, and
// assigns a ref to every visible node that receives pointer events. Refs
// come from the shared counter, so consecutive renders in a session never
// reuse a ref. Each assigned ref is also written onto the parsed element as
// data-agent-ref/-role attributes for later write-back to the live page.
func Render(t *Tree, refs *RefCounter) Rendered {
	r := &renderer{tree: t, counter: refs, refs: RefTable{}}
	for _, c := range t.Node(t.Root).Children {
		r.renderChild(c, 0)
	}
	return Rendered{Text: r.sb.String(), Refs: r.refs}
}

type renderer struct {
	tree    *Tree
	counter *RefCounter
	refs    RefTable
	sb      strings.Builder
}

func (r *renderer) renderChild(c Child, depth int) {
	indent := strings.Repeat("  ", depth)
	if c.IsText() {
		fmt.Fprintf(&r.sb, "%s- text: %s\n", indent, quoteName(c.Text))
		return
	}

	n := r.tree.Node(c.Node)
	key := r.nodeKey(c.Node, n)

	// A node whose only payload is one text run collapses onto one line.
	if len(n.Children) == 1 && n.Children[0].IsText() && len(n.Props) == 0 {
		fmt.Fprintf(&r.sb, "%s- %s: %s\n", indent, key, quoteName(n.Children[0].Text))
		return
	}
	if len(n.Children) == 0 && len(n.Props) == 0 {
		fmt.Fprintf(&r.sb, "%s- %s\n", indent, key)
		return
	}

	fmt.Fprintf(&r.sb, "%s- %s:\n", indent, key)
	for _, k := range sortedKeys(n.Props) {
		fmt.Fprintf(&r.sb, "%s  - /%s: %s\n", indent, k, n.Props[k])
	}
	for _, child := range n.Children {
		r.renderChild(child, depth+1)
	}
}

// nodeKey assembles the line head: role, quoted name, state flags, ref,
// cursor hint. The ref is allocated here, which makes ref order follow
// document order.
func (r *renderer) nodeKey(id NodeID, n *SemanticNode) string {
	parts := []string{n.Role}
	if n.Name != "" {
		parts = append(parts, quoteName(truncateName(n.Name)))
	}
	parts = append(parts, flagTokens(n.States)...)

	if n.ReceivesPointerEvents && n.Visible {
		ref := r.counter.Next()
		r.refs[ref] = id
		r.stamp(id, ref, n.Role)
		parts = append(parts, "[ref="+ref+"]")
		if n.CursorStyle == "pointer" {
			parts = append(parts, "[cursor=pointer]")
		}
	}
	return strings.Join(parts, " ")
}

func (r *renderer) stamp(id NodeID, ref, role string) {
	el := r.tree.Element(id)
	if el == nil {
		return
	}
	setAttr(el, AttrRef, ref)
	setAttr(el, AttrRole, role)
}

func setAttr(el *html.Node, key, val string) {
	for i := range el.Attr {
		if el.Attr[i].Key == key {
			el.Attr[i].Val = val
			return
		}
	}
	el.Attr = append(el.Attr, html.Attribute{Key: key, Val: val})
}

// flagTokens renders the state flags in a fixed order. A bare [flag] means
// true; explicit false and mixed are spelled out because their absence
// would read as unset.
func flagTokens(s aria.States) []string {
	var out []string
	switch s.Checked {
	case aria.StateTrue:
		out = append(out, "[checked]")
	case aria.StateFalse:
		out = append(out, "[checked=false]")
	case aria.StateMixed:
		out = append(out, "[checked=mixed]")
	}
	if s.Disabled {
		out = append(out, "[disabled]")
	}
	out = appendBoolFlag(out, "expanded", s.Expanded)
	if s.Level > 0 {
		out = append(out, fmt.Sprintf("[level=%d]", s.Level))
	}
	out = appendBoolFlag(out, "pressed", s.Pressed)
	out = appendBoolFlag(out, "selected", s.Selected)
	return out
}

func appendBoolFlag(out []string, name string, v *bool) []string {
	switch {
	case v == nil:
		return out
	case *v:
		return append(out, "["+name+"]")
	default:
		return append(out, "["+name+"=false]")
	}
}

func quoteName(s string) string {
	return strconv.Quote(s)
}

func truncateName(s string) string {
	runes := []rune(s)
	if len(runes) <= maxNameRunes {
		return s
	}
	return string(runes[:maxNameRunes]) + "…"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
