package snapshot

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/mozilla/pilo-sub005/pkg/aria"
	"github.com/mozilla/pilo-sub005/pkg/csstoken"
)

// maxFrameDepth caps same-origin iframe recursion.
const maxFrameDepth = 5

// Attributes the capture script stamps onto elements before serialization,
// carrying computed-style information a static parse cannot see.
const (
	// AttrBeforeContent / AttrAfterContent hold the raw CSS `content:`
	// value of the element's ::before / ::after pseudo-elements.
	AttrBeforeContent = "data-agent-before"
	AttrAfterContent  = "data-agent-after"
)

// FrameResolver returns the parsed document of an iframe element, or nil
// when the frame is cross-origin or unavailable. depth is the current
// nesting depth of the frame's parent document.
type FrameResolver func(frame *html.Node, depth int) *html.Node

// BuildOptions configures a tree build.
type BuildOptions struct {
	// Frames resolves same-origin iframe content. Nil treats every frame
	// as opaque.
	Frames FrameResolver
}

// Build walks the document into a semantic tree. The root node has role
// "fragment" and is never rendered itself; same-origin frames are spliced
// inline, so one tree (and later one ref counter) covers the full capture.
func Build(doc *html.Node, opts BuildOptions) *Tree {
	b := &builder{
		tree:    &Tree{},
		opts:    opts,
		visited: make(map[*html.Node]bool),
	}
	b.tree.Root = b.tree.add(SemanticNode{Role: "fragment", Visible: true}, nil)

	ctx := walkCtx{resolver: aria.NewResolver(doc)}
	children := b.walkChildList(contentRoot(doc), ctx, "")
	b.tree.Node(b.tree.Root).Children = coalesceText(children)
	return b.tree
}

type builder struct {
	tree    *Tree
	opts    BuildOptions
	visited map[*html.Node]bool
}

// walkCtx carries per-document walk state: the document's resolver, the
// iframe nesting depth, and the shadow host when descending a shadow tree.
type walkCtx struct {
	resolver *aria.DocumentResolver
	depth    int
	host     *html.Node
}

// contentRoot returns the body element if present, else the document itself.
func contentRoot(doc *html.Node) *html.Node {
	var body *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "body" {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	if body != nil {
		return body
	}
	return doc
}

// walkChildList walks the composed children of n. parentRole gates raw text:
// a textbox ancestor suppresses text runs so an input's value is not
// duplicated (the value is added explicitly, behind the leak guard).
func (b *builder) walkChildList(n *html.Node, ctx walkCtx, parentRole string) []Child {
	var out []Child
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if parentRole != "textbox" && parentRole != "searchbox" {
				out = append(out, textChild(c.Data))
			}
		case html.ElementNode:
			out = append(out, b.walkElement(c, ctx)...)
		}
	}
	return out
}

// walkElement converts one element into zero or more children for its
// parent: zero when skipped, several when the element's own node is elided
// (presentation roles, spliced frames, collapsed generics).
func (b *builder) walkElement(el *html.Node, ctx walkCtx) []Child {
	if b.visited[el] {
		return nil
	}
	b.visited[el] = true

	switch el.Data {
	case "script", "style", "noscript", "head", "meta", "link", "title", "base":
		return nil
	case "template":
		// Shadow templates are composed by their host; plain templates are
		// inert.
		return nil
	}
	if aria.IsHidden(el) {
		return nil
	}
	if el.Data == "iframe" || el.Data == "frame" {
		return b.walkFrame(el, ctx)
	}
	if el.Data == "slot" && ctx.host != nil {
		return b.walkSlot(el, ctx)
	}

	c := ctx.resolver.Resolve(el)
	if c.Category == aria.CategoryPresentation {
		// The node is omitted but its children are promoted to the parent.
		return b.elementChildren(el, ctx, "generic")
	}

	node := SemanticNode{
		Role:        c.Role,
		Category:    c.Category,
		Name:        c.Name,
		States:      c.States,
		Visible:     true,
		CursorStyle: aria.CursorStyle(el),
	}
	node.ReceivesPointerEvents = receivesPointerEvents(el, c)
	if c.Role == "link" {
		if href := aria.Attr(el, "href"); href != "" {
			node.Props = map[string]string{"url": href}
		}
	}

	children := b.generatedContent(el, AttrBeforeContent)
	children = append(children, b.elementChildren(el, ctx, c.Role)...)
	children = append(children, b.inputValue(el)...)
	children = append(children, b.ariaOwned(el, ctx)...)
	children = append(children, b.generatedContent(el, AttrAfterContent)...)
	children = coalesceText(children)

	// A sole text child that duplicates the accessible name adds nothing.
	if len(children) == 1 && children[0].IsText() &&
		aria.NormalizeWhitespace(children[0].Text) == node.Name && node.Name != "" {
		children = nil
	}
	node.Children = children

	// Collapse noise wrappers: an unnamed, non-interactive generic with at
	// most one child survives only as its child.
	if node.Role == "generic" && node.Name == "" && !node.ReceivesPointerEvents {
		if len(children) == 0 {
			return nil
		}
		if len(children) == 1 {
			if children[0].IsText() {
				return children
			}
			if b.tree.Node(children[0].Node).ReceivesPointerEvents {
				return children
			}
		}
	}

	id := b.tree.add(node, el)
	out := []Child{nodeChild(id)}
	if isBlockTag(el.Data) {
		// Block boundaries become whitespace so rendered wrapping tracks
		// visual layout.
		out = append([]Child{textChild(" ")}, out...)
		out = append(out, textChild(" "))
	}
	return out
}

// elementChildren walks the element's composed children: the declarative
// shadow tree when one exists, the light tree otherwise.
func (b *builder) elementChildren(el *html.Node, ctx walkCtx, role string) []Child {
	if shadow := shadowTemplate(el); shadow != nil {
		sub := ctx
		sub.host = el
		return b.walkChildList(shadow, sub, role)
	}
	return b.walkChildList(el, ctx, role)
}

// shadowTemplate returns the declarative shadow root template of el, if any.
func shadowTemplate(el *html.Node) *html.Node {
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "template" && aria.Attr(c, "shadowrootmode") != "" {
			return c
		}
	}
	return nil
}

// walkSlot visits the slot's assigned nodes from the host's light tree,
// falling back to the slot's own children when nothing is assigned.
func (b *builder) walkSlot(el *html.Node, ctx walkCtx) []Child {
	name := aria.Attr(el, "name")
	lightCtx := ctx
	lightCtx.host = nil

	var out []Child
	assigned := false
	for c := ctx.host.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if name == "" {
				out = append(out, textChild(c.Data))
				assigned = true
			}
		case html.ElementNode:
			if c.Data == "template" && aria.Attr(c, "shadowrootmode") != "" {
				continue
			}
			if aria.Attr(c, "slot") == name {
				out = append(out, b.walkElement(c, lightCtx)...)
				assigned = true
			}
		}
	}
	if assigned {
		return out
	}
	return b.walkChildList(el, ctx, "")
}

// walkFrame splices a same-origin frame's body inline (no wrapper node) or
// emits an opaque placeholder for cross-origin content.
func (b *builder) walkFrame(el *html.Node, ctx walkCtx) []Child {
	if ctx.depth < maxFrameDepth && b.opts.Frames != nil {
		if frameDoc := b.opts.Frames(el, ctx.depth); frameDoc != nil {
			frameCtx := walkCtx{
				resolver: aria.NewResolver(frameDoc),
				depth:    ctx.depth + 1,
			}
			return b.walkChildList(contentRoot(frameDoc), frameCtx, "")
		}
	}

	node := SemanticNode{
		Role:     "iframe",
		Category: aria.CategoryIframe,
		Name:     frameName(el),
		Visible:  true,
	}
	if src := aria.Attr(el, "src"); src != "" {
		node.Props = map[string]string{"url": src}
	}
	return []Child{nodeChild(b.tree.add(node, el))}
}

func frameName(el *html.Node) string {
	if label := aria.Attr(el, "aria-label"); label != "" {
		return aria.NormalizeWhitespace(label)
	}
	return aria.NormalizeWhitespace(aria.Attr(el, "title"))
}

// generatedContent turns a stamped ::before/::after `content:` value into a
// text run, tokenized so escapes and counters behave like real CSS.
func (b *builder) generatedContent(el *html.Node, attr string) []Child {
	source := aria.Attr(el, attr)
	if source == "" {
		return nil
	}
	parts := csstoken.StringValues(source)
	if len(parts) == 0 {
		return nil
	}
	return []Child{textChild(strings.Join(parts, ""))}
}

// sensitiveAutocomplete lists autocomplete tokens whose values must never
// reach the model.
var sensitiveAutocomplete = []string{
	"cc-number", "cc-csc", "cc-exp", "cc-exp-month", "cc-exp-year", "cc-name",
	"new-password", "current-password", "one-time-code",
}

// nonTextInputTypes lists input types whose value is never emitted as text.
var nonTextInputTypes = map[string]bool{
	"password": true,
	"checkbox": true,
	"radio":    true,
	"file":     true,
	"hidden":   true,
}

// inputValue emits the control's current value as a text child, unless the
// input type or autocomplete marks it sensitive. This is the data-leak
// guard: credit card and password values stay out of every snapshot.
func (b *builder) inputValue(el *html.Node) []Child {
	var value string
	switch el.Data {
	case "input":
		if nonTextInputTypes[strings.ToLower(aria.Attr(el, "type"))] {
			return nil
		}
		value = aria.Attr(el, "value")
	case "textarea":
		var parts []string
		for c := el.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				parts = append(parts, c.Data)
			}
		}
		value = strings.Join(parts, "")
	default:
		return nil
	}

	autocomplete := strings.ToLower(aria.Attr(el, "autocomplete"))
	for _, token := range sensitiveAutocomplete {
		if strings.Contains(autocomplete, token) {
			return nil
		}
	}
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return []Child{textChild(value)}
}

// ariaOwned resolves aria-owns targets by id within the same document and
// appends them after the normal children. The visited set breaks ownership
// cycles and re-parenting of already-walked nodes.
func (b *builder) ariaOwned(el *html.Node, ctx walkCtx) []Child {
	ids := aria.Attr(el, "aria-owns")
	if ids == "" {
		return nil
	}
	var out []Child
	for _, id := range strings.Fields(ids) {
		if target := ctx.resolver.ByID(id); target != nil && target != el {
			out = append(out, b.walkElement(target, ctx)...)
		}
	}
	return out
}

// receivesPointerEvents decides whether the element is an action target.
func receivesPointerEvents(el *html.Node, c aria.Computed) bool {
	if aria.BlocksPointerEvents(el) || c.States.Disabled {
		return false
	}
	if c.Category.Interactive() {
		return true
	}
	if aria.Attr(el, "onclick") != "" || aria.Attr(el, "tabindex") != "" {
		return true
	}
	return aria.CursorStyle(el) == "pointer"
}

// coalesceText merges adjacent text runs into single whitespace-normalized
// runs and drops runs that normalize to nothing.
func coalesceText(children []Child) []Child {
	var out []Child
	var pending strings.Builder

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		text := aria.NormalizeWhitespace(pending.String())
		pending.Reset()
		if text != "" {
			out = append(out, textChild(text))
		}
	}

	for _, c := range children {
		if c.IsText() {
			pending.WriteString(c.Text)
			continue
		}
		flush()
		out = append(out, c)
	}
	flush()
	return out
}

// isBlockTag reports whether the tag renders as a block, meaning its
// boundaries imply whitespace in flowed text.
func isBlockTag(tag string) bool {
	switch tag {
	case "address", "article", "aside", "blockquote", "div", "dl", "dd", "dt",
		"fieldset", "figure", "figcaption", "footer", "form", "h1", "h2",
		"h3", "h4", "h5", "h6", "header", "hr", "li", "main", "nav", "ol",
		"p", "pre", "section", "table", "tr", "td", "th", "ul", "br":
		return true
	default:
		return false
	}
}
