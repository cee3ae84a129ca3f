package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		"js/main.js":           KindScript,
		"css/main.css":         KindStyle,
		"img/logo.PNG":         KindImage,
		"ico/arrow.svg":        KindImage,
		"templates/index.tmpl": KindMarkup,
		"docs/readme.md":       KindMarkup,
		"fonts/a.woff":         KindOther,
		"Makefile":             KindOther,
	}
	for p, want := range tests {
		assert.Equal(t, want, KindOf(p), p)
	}
	assert.True(t, KindImage.Inlineable())
	assert.False(t, KindScript.Inlineable())
}

func TestSortedEntries(t *testing.T) {
	got := SortedEntries(map[string]string{"styles": "./css/main.css", "app": "./js/main.js"})
	assert.Equal(t, []EntryPoint{{Name: "app", Path: "./js/main.js"}, {Name: "styles", Path: "./css/main.css"}}, got)
}

func TestPlaceholders(t *testing.T) {
	content := []byte(`a{background:url("` + Placeholder("../img/bg.png") + `")} b{x:url("` + Placeholder("missing.png") + `")}` +
		`__ab_require("` + ModulePlaceholder("./util") + `")`)
	assert.True(t, HasPlaceholders(content))
	assert.Equal(t, []string{"../img/bg.png", "missing.png"}, PlaceholderSpecifiers(content, PlaceholderURL))
	assert.Equal(t, []string{"./util"}, PlaceholderSpecifiers(content, PlaceholderModule))

	out := ReplacePlaceholders(content, func(kind PlaceholderKind, spec string) (string, bool) {
		switch {
		case kind == PlaceholderURL && spec == "../img/bg.png":
			return "img/bg.png", true
		case kind == PlaceholderModule:
			return "js/util.js", true
		}
		return "", false
	})
	assert.Equal(t, `a{background:url("img/bg.png")} b{x:url("missing.png")}__ab_require("js/util.js")`, string(out))
	assert.False(t, HasPlaceholders(out))
}

func TestPlaceholders_PercentEncoded(t *testing.T) {
	content := []byte(`<img src="__assetbuilder_url%28../img/a%20b.png%29__">`)
	assert.Equal(t, []string{"../img/a b.png"}, PlaceholderSpecifiers(content, PlaceholderURL))
	out := ReplacePlaceholders(content, func(_ PlaceholderKind, spec string) (string, bool) {
		return "img/" + spec[len("../img/"):], true
	})
	assert.Equal(t, `<img src="img/a b.png">`, string(out))
}
