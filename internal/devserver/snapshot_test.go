package devserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

func TestSnapshot_Lookup(t *testing.T) {
	snap := newSnapshot(successReport("b1", map[string]string{
		"index.html":      "root",
		"docs/index.html": "docs",
		"about.html":      "about",
		"js/app.js":       "js",
	}))

	tests := []struct {
		url  string
		name string
		ok   bool
	}{
		{"/", "index.html", true},
		{"", "index.html", true},
		{"/docs/", "docs/index.html", true},
		{"/docs", "docs/index.html", true},
		{"/about", "about.html", true},
		{"/js/app.js", "js/app.js", true},
		{"/js/../js/app.js", "js/app.js", true},
		{"/../../etc/passwd", "", false},
		{"/js/", "", false},
		{"/missing.css", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			name, _, ok := snap.Lookup(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestSnapshot_ETagFollowsContent(t *testing.T) {
	a := newSnapshot(successReport("b1", map[string]string{"app.css": "a{}"}))
	b := newSnapshot(successReport("b2", map[string]string{"app.css": "b{}"}))

	tag := a.ETag("app.css")
	require.Len(t, tag, 18)
	assert.NotEqual(t, tag, b.ETag("app.css"))
	assert.Equal(t, tag, newSnapshot(successReport("b3", map[string]string{"app.css": "a{}"})).ETag("app.css"))
	assert.Empty(t, a.ETag("missing.css"))
}

func TestSnapshot_FromFailedReport(t *testing.T) {
	snap := newSnapshot(&pipeline.Report{BuildID: "b1"})
	assert.Equal(t, 0, snap.Len())
	require.NotNil(t, snap.Manifest())
}

func TestInjectScript(t *testing.T) {
	assert.Equal(t, "<html><body>x"+scriptTag+"</BODY></html>", string(injectScript([]byte("<html><body>x</BODY></html>"))))
	assert.Equal(t, "<p>fragment</p>"+scriptTag, string(injectScript([]byte("<p>fragment</p>"))))

	page := []byte("<body></body>")
	_ = injectScript(page)
	assert.Equal(t, "<body></body>", string(page))
}
