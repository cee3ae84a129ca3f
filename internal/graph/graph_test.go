package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/globals"
	"git.home.luguber.info/inful/assetbuilder/internal/rules"
	"git.home.luguber.info/inful/assetbuilder/internal/transform"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
}

func testRules() []config.RuleConfig {
	return []config.RuleConfig{
		{Name: "scripts", Test: `\.jsx?$`, Exclude: []string{"re:node_modules/"}, Use: []config.TransformConfig{{Name: "script"}}},
		{Name: "styles", Test: `\.css$`, Use: []config.TransformConfig{{Name: "style"}, {Name: "extract"}}},
		{Name: "images", Test: `\.(png|svg)$`, Use: []config.TransformConfig{{Name: "url"}}},
		{Name: "pages", Test: `\.tmpl$`, Include: []string{"templates/"}, Use: []config.TransformConfig{{Name: "template"}}},
	}
}

func newBuilder(t *testing.T, root string, opts Options) *Builder {
	t.Helper()
	return newBuilderWith(t, root, transform.Settings{InlineLimit: 8192}, opts)
}

func newBuilderWith(t *testing.T, root string, settings transform.Settings, opts Options) *Builder {
	t.Helper()
	reg := transform.NewBuiltinRegistry(settings)
	m, err := rules.New(root, testRules(), config.RulePolicyFirst, rules.WithKnownTransform(reg.Has))
	require.NoError(t, err)
	resolver := NewResolver(root, config.ResolveConfig{
		Alias:      map[string]string{"@": ".", "Img": "img"},
		Extensions: []string{".js", ".jsx", ".css"},
	})
	return NewBuilder(m, transform.NewRunner(reg, nil), resolver, opts)
}

var appTree = map[string]string{
	"js/main.js": "import { helper } from './util';\n" +
		"import '../css/main.css';\n" +
		"import $ from 'jquery';\n" +
		"const logo = require('@/img/logo.png');\n" +
		"helper($, logo);\n",
	"js/util.js":     "import main from './main';\nexport function helper() { return main; }\n",
	"css/main.css":   ".hero { background: url(../img/bg.png); }\n",
	"img/logo.png":   "png-logo",
	"img/bg.png":     "png-bg",
	"img/unused.png": "never referenced",
}

func TestBuild_DiscoversReachableUnits(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, appTree)

	g, err := newBuilder(t, root, Options{Concurrency: 4}).Build(t.Context(),
		[]asset.EntryPoint{{Name: "app", Path: "./js/main.js"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"css/main.css", "img/bg.png", "img/logo.png", "js/main.js", "js/util.js"}, g.Paths())
	assert.Equal(t, "js/main.js", g.Roots["app"])

	main := g.Units["js/main.js"]
	e, ok := main.Edge("./util")
	require.True(t, ok)
	assert.Equal(t, "js/util.js", e.Target)
	e, ok = main.Edge("@/img/logo.png")
	require.True(t, ok)
	assert.Equal(t, "img/logo.png", e.Target)
	assert.Equal(t, asset.RefAsset, e.Ref.Kind)
	e, ok = main.Edge("jquery")
	require.True(t, ok)
	assert.True(t, e.External)

	require.Len(t, g.Warnings, 1)
	assert.Equal(t, "jquery", g.Warnings[0].Specifier)

	assert.Equal(t, asset.KindStyle, g.Units["css/main.css"].Kind)
	assert.True(t, g.Units["css/main.css"].Result.Extract)
	assert.NotNil(t, g.Units["img/bg.png"].Result.InlineLimit)
}

func TestBuild_CycleTerminates(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"js/a.js": "import './b';\nimport './a';\n",
		"js/b.js": "import './c';\n",
		"js/c.js": "import './a';\n",
	})
	g, err := newBuilder(t, root, Options{Concurrency: 2}).Build(t.Context(),
		[]asset.EntryPoint{{Name: "a", Path: "js/a.js"}, {Name: "c", Path: "js/c.js"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"js/a.js", "js/b.js", "js/c.js"}, g.Paths())
}

func TestBuild_DeterministicAcrossConcurrency(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, appTree)
	entries := []asset.EntryPoint{{Name: "app", Path: "js/main.js"}}

	serial, err := newBuilder(t, root, Options{Concurrency: 1}).Build(t.Context(), entries, nil)
	require.NoError(t, err)
	parallel, err := newBuilder(t, root, Options{Concurrency: 16}).Build(t.Context(), entries, nil)
	require.NoError(t, err)

	require.Equal(t, serial.Paths(), parallel.Paths())
	for _, p := range serial.Paths() {
		assert.Equal(t, serial.Units[p].Deps, parallel.Units[p].Deps, p)
		assert.Equal(t, serial.Units[p].Content(), parallel.Units[p].Content(), p)
	}
}

func TestBuild_NodeModulesPassthrough(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"js/main.js":                         "import Swiper from 'swiper';\nimport 'dom7/dom7.js';\n",
		"node_modules/swiper/package.json":   `{"name": "swiper", "main": "dist/swiper.js"}`,
		"node_modules/swiper/dist/swiper.js": "export default function Swiper() {}\n",
		"node_modules/dom7/dom7.js":          "window.dom7 = {};\n",
	})
	g, err := newBuilder(t, root, Options{Concurrency: 2}).Build(t.Context(),
		[]asset.EntryPoint{{Name: "app", Path: "js/main.js"}}, nil)
	require.NoError(t, err)

	e, ok := g.Units["js/main.js"].Edge("swiper")
	require.True(t, ok)
	assert.Equal(t, "node_modules/swiper/dist/swiper.js", e.Target)

	swiper := g.Units["node_modules/swiper/dist/swiper.js"]
	assert.True(t, swiper.Passthrough, "node_modules are excluded from the script rule")
	assert.Equal(t, "export default function Swiper() {}\n", string(swiper.Content()))
	assert.Contains(t, g.Units, "node_modules/dom7/dom7.js")
	assert.Empty(t, g.Warnings)
}

func TestBuild_ModuleNotFound(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"js/main.js":  "import './missing';\n",
		"js/other.js": "export const x = 1;\n",
	})
	entries := []asset.EntryPoint{{Name: "app", Path: "js/main.js"}, {Name: "other", Path: "js/other.js"}}

	_, err := newBuilder(t, root, Options{Concurrency: 2}).Build(t.Context(), entries, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))

	g, err := newBuilder(t, root, Options{Concurrency: 2, ContinueOnError: true}).Build(t.Context(), entries, nil)
	require.NoError(t, err)
	failed := g.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "js/main.js", failed[0].Path)
	assert.NotNil(t, g.Units["js/other.js"].Result)
}

func TestBuild_TransformErrorAborts(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"templates/index.tmpl": `{{ include "./missing.tmpl" }}`,
	})
	_, err := newBuilder(t, root, Options{}).Build(t.Context(),
		[]asset.EntryPoint{{Name: "index", Path: "templates/index.tmpl"}}, nil)
	var te *transform.TransformError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "templates/index.tmpl", te.Unit)
	assert.Equal(t, "template", te.Stage)
}

func TestBuild_EntryNotFound(t *testing.T) {
	_, err := newBuilder(t, t.TempDir(), Options{}).Build(t.Context(),
		[]asset.EntryPoint{{Name: "app", Path: "js/nope.js"}}, nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestBuild_IncludedUnitsAndGlobals(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"templates/index.tmpl":         `{{ include "./partials/head.tmpl" }}<img src="{{ asset "../img/logo.png" }}">`,
		"templates/partials/head.tmpl": `<title>{{ .Globals.title }}</title>`,
		"img/logo.png":                 "png",
	})
	doc := &globals.Document{Data: map[string]any{"title": "Shop"}, Digest: "d1"}
	g, err := newBuilder(t, root, Options{}).Build(t.Context(),
		[]asset.EntryPoint{{Name: "index", Path: "templates/index.tmpl"}}, doc)
	require.NoError(t, err)

	head := g.Units["templates/partials/head.tmpl"]
	require.NotNil(t, head)
	assert.True(t, head.Included)
	assert.Nil(t, head.Result, "partials are consumed raw by their referrer")
	assert.Equal(t, `<title>{{ .Globals.title }}</title>`, string(head.Raw))

	index := g.Units["templates/index.tmpl"]
	assert.Contains(t, string(index.Content()), "<title>Shop</title>")
	e, ok := index.Edge("/templates/partials/head.tmpl")
	require.True(t, ok)
	assert.Equal(t, asset.RefInclude, e.Ref.Kind)
	assert.Contains(t, g.Units, "img/logo.png")
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]*transform.Result
	puts int
}

func (c *mapCache) Get(key string) (*transform.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[key]
	return r, ok
}

func (c *mapCache) Put(key string, res *transform.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = res
	c.puts++
	return nil
}

func TestBuild_CacheReuse(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, appTree)
	cache := &mapCache{data: map[string]*transform.Result{}}
	b := newBuilder(t, root, Options{Concurrency: 2, Cache: cache})
	entries := []asset.EntryPoint{{Name: "app", Path: "js/main.js"}}

	first, err := b.Build(t.Context(), entries, nil)
	require.NoError(t, err)
	for _, u := range first.Units {
		assert.False(t, u.Cached)
	}
	assert.Equal(t, 5, cache.puts)

	writeTree(t, root, map[string]string{"js/util.js": "export function helper() { return 2; }\n"})
	second, err := b.Build(t.Context(), entries, nil)
	require.NoError(t, err)
	assert.True(t, second.Units["js/main.js"].Cached)
	assert.False(t, second.Units["js/util.js"].Cached, "edited units miss the cache")
	assert.Equal(t, first.Units["js/main.js"].Deps, second.Units["js/main.js"].Deps)
}

func TestBuild_CacheKeyedBySettings(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, appTree)
	cache := &mapCache{data: map[string]*transform.Result{}}
	entries := []asset.EntryPoint{{Name: "app", Path: "js/main.js"}}

	first, err := newBuilderWith(t, root, transform.Settings{InlineLimit: 8192}, Options{Cache: cache}).
		Build(t.Context(), entries, nil)
	require.NoError(t, err)
	require.NotNil(t, first.Units["img/logo.png"].Result.InlineLimit)
	assert.Equal(t, int64(8192), *first.Units["img/logo.png"].Result.InlineLimit)

	second, err := newBuilderWith(t, root, transform.Settings{InlineLimit: 1}, Options{Cache: cache}).
		Build(t.Context(), entries, nil)
	require.NoError(t, err)
	logo := second.Units["img/logo.png"]
	assert.False(t, logo.Cached, "changed settings miss the cache")
	require.NotNil(t, logo.Result.InlineLimit)
	assert.Equal(t, int64(1), *logo.Result.InlineLimit)

	third, err := newBuilderWith(t, root, transform.Settings{InlineLimit: 1}, Options{Cache: cache}).
		Build(t.Context(), entries, nil)
	require.NoError(t, err)
	assert.True(t, third.Units["img/logo.png"].Cached, "equal settings hit the cache")
}

func TestBuild_Canceled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, appTree)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := newBuilder(t, root, Options{}).Build(ctx, []asset.EntryPoint{{Name: "app", Path: "js/main.js"}}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
