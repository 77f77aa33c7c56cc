package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/net/html"

	"github.com/mozilla/pilo-sub005/pkg/aria"
	"github.com/mozilla/pilo-sub005/pkg/snapshot"
)

// nidAttr tags every live element with a per-capture identity so refs
// assigned on the parsed tree can be written back to the exact elements
// they came from.
const nidAttr = "data-agent-nid"

// captureScript prepares a frame's document and serializes it. It stamps
// each element with a node id, copies computed cursor and visibility into
// attributes the static parser can see, records generated ::before/::after
// content, and includes open shadow roots as declarative templates.
const captureScript = `(prefix) => {
	let nid = 0;
	const shadowRoots = [];
	const prepare = (root) => {
		for (const el of root.querySelectorAll('*')) {
			el.setAttribute('` + nidAttr + `', prefix + (++nid));
			const cs = getComputedStyle(el);
			if (cs.display === 'none' || cs.visibility === 'hidden') {
				el.setAttribute('hidden', '');
			}
			if (cs.cursor === 'pointer') {
				el.style.cursor = 'pointer';
			}
			for (const [pseudo, attr] of [['::before', '` + snapshot.AttrBeforeContent + `'], ['::after', '` + snapshot.AttrAfterContent + `']]) {
				const content = getComputedStyle(el, pseudo).content;
				if (content && content !== 'none' && content !== 'normal') {
					el.setAttribute(attr, content);
				}
			}
			if (el.shadowRoot) {
				shadowRoots.push(el.shadowRoot);
				prepare(el.shadowRoot);
			}
		}
	};
	prepare(document);
	const doc = document.documentElement;
	if (doc.getHTML) {
		return doc.getHTML({ serializableShadowRoots: true, shadowRoots });
	}
	return doc.outerHTML;
}`

// stampScript writes assigned refs back onto the live elements, walking
// open shadow roots so composed elements are reachable too.
const stampScript = `(assignments) => {
	const index = new Map();
	const collect = (root) => {
		for (const el of root.querySelectorAll('[` + nidAttr + `]')) {
			index.set(el.getAttribute('` + nidAttr + `'), el);
			if (el.shadowRoot) {
				collect(el.shadowRoot);
			}
		}
	};
	collect(document);
	for (const a of assignments) {
		const el = index.get(a.nid);
		if (el) {
			el.setAttribute('` + snapshot.AttrRef + `', a.ref);
			el.setAttribute('` + snapshot.AttrRole + `', a.role);
		}
	}
}`

// frameCapture is one frame's serialized document.
type frameCapture struct {
	frame  playwright.Frame
	url    string
	prefix string
	doc    *html.Node
	used   bool
}

// captureFrames serializes every reachable frame. Cross-origin frames fail
// the evaluate and are simply absent, which the tree builder renders as
// opaque placeholders.
func captureFrames(page playwright.Page) []*frameCapture {
	var captures []*frameCapture
	for i, frame := range page.Frames() {
		prefix := fmt.Sprintf("f%d-", i)
		raw, err := frame.Evaluate(captureScript, prefix)
		if err != nil {
			continue
		}
		serialized, ok := raw.(string)
		if !ok {
			continue
		}
		doc, err := html.Parse(strings.NewReader(serialized))
		if err != nil {
			continue
		}
		captures = append(captures, &frameCapture{
			frame:  frame,
			url:    frame.URL(),
			prefix: prefix,
			doc:    doc,
		})
	}
	return captures
}

// mainCapture returns the capture for the page's main frame.
func mainCapture(page playwright.Page, captures []*frameCapture) *frameCapture {
	main := page.MainFrame()
	for _, c := range captures {
		if c.frame == main {
			return c
		}
	}
	return nil
}

// frameResolver matches iframe elements to captured frame documents by
// resolving the element's src against the embedding document's URL. Each
// capture is spliced at most once.
func frameResolver(captures []*frameCapture, baseURL string) snapshot.FrameResolver {
	return func(el *html.Node, depth int) *html.Node {
		src := aria.Attr(el, "src")
		if src == "" {
			return nil
		}
		abs := resolveFrameURL(baseURL, src)
		for _, c := range captures {
			if c.used || c.url != abs {
				continue
			}
			c.used = true
			return c.doc
		}
		return nil
	}
}

// resolveFrameURL resolves a possibly relative frame src against its
// embedding page URL.
func resolveFrameURL(baseURL, src string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}

// refAssignment is one ref write-back destination.
type refAssignment struct {
	Nid  string `json:"nid"`
	Ref  string `json:"ref"`
	Role string `json:"role"`
}

// groupAssignments splits the render's ref table by owning frame, keyed by
// the nid prefix stamped at capture time. Refs whose element carries no
// nid (placeholders for unreachable frames) are skipped.
func groupAssignments(tree *snapshot.Tree, refs snapshot.RefTable, captures []*frameCapture) map[*frameCapture][]refAssignment {
	byPrefix := make(map[string]*frameCapture, len(captures))
	for _, c := range captures {
		byPrefix[c.prefix] = c
	}

	grouped := make(map[*frameCapture][]refAssignment)
	for ref, id := range refs {
		el := tree.Element(id)
		if el == nil {
			continue
		}
		nid := aria.Attr(el, nidAttr)
		dash := strings.Index(nid, "-")
		if dash < 0 {
			continue
		}
		capture := byPrefix[nid[:dash+1]]
		if capture == nil {
			continue
		}
		grouped[capture] = append(grouped[capture], refAssignment{
			Nid:  nid,
			Ref:  ref,
			Role: aria.Attr(el, snapshot.AttrRole),
		})
	}
	return grouped
}
