// Package snapshot converts a parsed, possibly multi-frame document into a
// compact, deterministic text representation for the model: an accessibility
// tree of semantic nodes, a renderer that assigns stable element refs, and a
// lossy textual compressor that shrinks the rendered form without touching
// refs.
package snapshot

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/mozilla/pilo-sub005/pkg/aria"
)

// NodeID indexes a SemanticNode inside its Tree's arena.
type NodeID int

// InvalidNode marks a Child that is a text run rather than a node.
const InvalidNode NodeID = -1

// Child is one ordered child of a semantic node: either a nested node
// (Node >= 0) or a text run (Node == InvalidNode, Text set).
type Child struct {
	Node NodeID
	Text string
}

// IsText reports whether the child is a text run.
func (c Child) IsText() bool { return c.Node == InvalidNode }

func textChild(text string) Child { return Child{Node: InvalidNode, Text: text} }
func nodeChild(id NodeID) Child   { return Child{Node: id} }

// SemanticNode is one accessibility-relevant unit. Nodes never carry the
// "presentation"/"none" roles: those are elided during building and their
// children promoted.
type SemanticNode struct {
	Role     string
	Category aria.RoleCategory
	Name     string
	Children []Child
	// Props holds auxiliary output key/values, e.g. "url" for links.
	Props map[string]string
	States aria.States

	Visible     bool
	CursorStyle string
	// ReceivesPointerEvents gates ref assignment: only visible nodes that
	// can take pointer input get a ref.
	ReceivesPointerEvents bool
}

// Tree is a capture-owned arena of semantic nodes. The live-DOM
// back-reference is a side table indexed by NodeID, never a pointer inside
// SemanticNode, so the tree and the document own nothing of each other.
type Tree struct {
	Root  NodeID
	nodes []SemanticNode
	elems []*html.Node
}

// Node returns a mutable pointer to the node with the given id.
func (t *Tree) Node(id NodeID) *SemanticNode {
	return &t.nodes[id]
}

// Element returns the DOM element the node was built from, or nil for
// synthetic nodes (the fragment root, cross-origin placeholders).
func (t *Tree) Element(id NodeID) *html.Node {
	return t.elems[id]
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) add(n SemanticNode, el *html.Node) NodeID {
	t.nodes = append(t.nodes, n)
	t.elems = append(t.elems, el)
	return NodeID(len(t.nodes) - 1)
}

// RefCounter allocates sequential element refs ("E1", "E2", ...). One
// counter is owned by each capture call and threaded through every frame so
// refs are unique across the whole capture; ids are never reused.
type RefCounter struct {
	next int
}

// NewRefCounter returns a counter whose first ref is "E1".
func NewRefCounter() *RefCounter {
	return &RefCounter{next: 1}
}

// Next returns the next ref id and advances the counter.
func (c *RefCounter) Next() string {
	ref := fmt.Sprintf("E%d", c.next)
	c.next++
	return ref
}

// Count returns how many refs have been allocated.
func (c *RefCounter) Count() int { return c.next - 1 }
