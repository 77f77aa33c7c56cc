package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/mozilla/pilo-sub005/pkg/snapshot"
)

func parseCapture(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

func TestResolveFrameURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		src  string
		want string
	}{
		{"relative path", "https://example.com/app/", "child.html", "https://example.com/app/child.html"},
		{"root relative", "https://example.com/app/index.html", "/frames/nav", "https://example.com/frames/nav"},
		{"absolute src wins", "https://example.com/", "https://other.test/page", "https://other.test/page"},
		{"unparseable base passes through", "://nope", "child.html", "child.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveFrameURL(tt.base, tt.src))
		})
	}
}

func TestFrameResolverMatchesByResolvedURL(t *testing.T) {
	childDoc := parseCapture(t, `<body><p>child</p></body>`)
	captures := []*frameCapture{
		{url: "https://example.com/frames/nav", prefix: "f1-", doc: childDoc},
	}
	resolve := frameResolver(captures, "https://example.com/index.html")

	iframe := &html.Node{
		Type: html.ElementNode,
		Data: "iframe",
		Attr: []html.Attribute{{Key: "src", Val: "/frames/nav"}},
	}

	assert.Same(t, childDoc, resolve(iframe, 1))

	t.Run("each capture splices once", func(t *testing.T) {
		assert.Nil(t, resolve(iframe, 1))
	})

	t.Run("no src gives no document", func(t *testing.T) {
		bare := &html.Node{Type: html.ElementNode, Data: "iframe"}
		assert.Nil(t, resolve(bare, 1))
	})
}

func TestGroupAssignments(t *testing.T) {
	mainDoc := parseCapture(t, `<body>
		<button data-agent-nid="f0-1">Save</button>
		<iframe src="/child"></iframe>
	</body>`)
	childDoc := parseCapture(t, `<body><a href="/next" data-agent-nid="f1-1">Next</a></body>`)

	captures := []*frameCapture{
		{url: "https://example.com/", prefix: "f0-", doc: mainDoc},
		{url: "https://example.com/child", prefix: "f1-", doc: childDoc},
	}

	tree := snapshot.Build(mainDoc, snapshot.BuildOptions{
		Frames: frameResolver(captures, "https://example.com/"),
	})
	rendered := snapshot.Render(tree, snapshot.NewRefCounter())
	require.Len(t, rendered.Refs, 2)

	grouped := groupAssignments(tree, rendered.Refs, captures)
	require.Len(t, grouped, 2)

	byPrefix := make(map[string][]refAssignment)
	for capture, assignments := range grouped {
		byPrefix[capture.prefix] = assignments
	}

	require.Len(t, byPrefix["f0-"], 1)
	assert.Equal(t, "f0-1", byPrefix["f0-"][0].Nid)
	assert.Equal(t, "button", byPrefix["f0-"][0].Role)

	require.Len(t, byPrefix["f1-"], 1)
	assert.Equal(t, "f1-1", byPrefix["f1-"][0].Nid)
	assert.Equal(t, "link", byPrefix["f1-"][0].Role)

	t.Run("refs without a node id are skipped", func(t *testing.T) {
		doc := parseCapture(t, `<body><button>Bare</button></body>`)
		tree := snapshot.Build(doc, snapshot.BuildOptions{})
		rendered := snapshot.Render(tree, snapshot.NewRefCounter())
		require.Len(t, rendered.Refs, 1)
		assert.Empty(t, groupAssignments(tree, rendered.Refs, []*frameCapture{{prefix: "f0-"}}))
	})
}
