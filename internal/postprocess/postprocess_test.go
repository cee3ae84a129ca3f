package postprocess

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/emit"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
)

func outputOf(t *testing.T, files map[string]string, bundles ...emit.Bundle) *emit.Output {
	t.Helper()
	out := &emit.Output{Files: map[string]*emit.File{}, Manifest: manifest.New(), Bundles: bundles}
	for p, body := range files {
		require.NoError(t, out.Add(&emit.File{Path: p, Content: []byte(body), Kind: asset.KindOf(p), Source: p}))
	}
	for _, b := range bundles {
		for _, p := range []string{b.Script, b.Style, b.Asset} {
			if p != "" {
				out.Manifest.AddBundleFile(b.Entry, p)
			}
		}
	}
	out.Finalize()
	return out
}

func run(t *testing.T, names []string, out *emit.Output) {
	t.Helper()
	p, err := New(names, Options{})
	require.NoError(t, err)
	require.NoError(t, p.Run(t.Context(), out))
}

func TestNew_ValidatesStages(t *testing.T) {
	p, err := New([]string{"prune-style-only", "minify", "write-manifest"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []StageName{StagePruneStyleOnly, StageMinify, StageWriteManifest}, p.Stages())

	_, err = New([]string{"gzip"}, Options{})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))

	_, err = New([]string{"write-manifest", "minify"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last")

	_, err = New([]string{"minify", "minify"}, Options{})
	require.Error(t, err)

	p, err = New(nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, p.Stages())
}

func TestPruneStyleOnly(t *testing.T) {
	out := outputOf(t, map[string]string{
		"js/styles.js":   "(function () {})();",
		"css/styles.css": "h1 {}",
		"js/app.js":      "app()",
		"css/app.css":    "body {}",
	},
		emit.Bundle{Entry: "styles", Script: "js/styles.js", Style: "css/styles.css"},
		emit.Bundle{Entry: "app", Script: "js/app.js", Style: "css/app.css", Modules: []string{"js/main.js"}},
	)

	run(t, []string{"prune-style-only"}, out)

	assert.Equal(t, []string{"css/app.css", "css/styles.css", "js/app.js"}, out.Paths())
	assert.Equal(t, []string{"css/styles.css"}, out.Manifest.Bundles["styles"])
	assert.Equal(t, []string{"css/app.css", "js/app.js"}, out.Manifest.Bundles["app"])
	assert.Empty(t, out.Bundles[0].Script)
	assert.NotContains(t, out.Manifest.Files, "js/styles.js")
}

func TestMinify(t *testing.T) {
	png := strings.Repeat("\x89PNG  ", 10)
	out := outputOf(t, map[string]string{
		"css/app.css":  "body {\n    margin : 0px ;\n}\n",
		"js/app.js":    "function  add ( a , b ) {\n  return a + b ;\n}\n",
		"img/logo.png": png,
	})
	before := out.Manifest.Files["css/app.css"]

	run(t, []string{"minify"}, out)

	assert.Less(t, len(out.Files["css/app.css"].Content), len("body {\n    margin : 0px ;\n}\n"))
	assert.NotContains(t, string(out.Files["css/app.css"].Content), "\n")
	assert.Less(t, len(out.Files["js/app.js"].Content), len("function  add ( a , b ) {\n  return a + b ;\n}\n"))
	assert.Equal(t, png, string(out.Files["img/logo.png"].Content), "unknown media types pass through")
	assert.NotEqual(t, before, out.Manifest.Files["css/app.css"], "file table is recomputed")
}

func TestWriteManifest(t *testing.T) {
	out := outputOf(t, map[string]string{"js/app.js": "app()"},
		emit.Bundle{Entry: "app", Script: "js/app.js"})

	run(t, []string{"write-manifest"}, out)

	f, ok := out.Files["manifest.json"]
	require.True(t, ok)
	assert.Equal(t, emit.SourceManifest, f.Source)
	assert.NotContains(t, out.Manifest.Files, "manifest.json", "manifest does not list itself")

	parsed, err := manifest.FromJSON(f.Content)
	require.NoError(t, err)
	assert.Equal(t, []string{"js/app.js"}, parsed.Bundles["app"])
	assert.Contains(t, parsed.Files, "js/app.js")

	first := string(f.Content)
	run(t, []string{"write-manifest"}, out)
	assert.Equal(t, first, string(out.Files["manifest.json"].Content))
}

func TestWriteManifest_CollidesWithEmittedFile(t *testing.T) {
	out := outputOf(t, map[string]string{"manifest.json": "{}"})

	p, err := New([]string{"write-manifest"}, Options{})
	require.NoError(t, err)
	err = p.Run(t.Context(), out)
	require.Error(t, err)

	var collision *emit.NameCollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "manifest.json", collision.Path)
}

func TestRun_Canceled(t *testing.T) {
	out := outputOf(t, map[string]string{"js/app.js": "app()"})
	p, err := New([]string{"minify"}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, p.Run(ctx, out), context.Canceled)
}
