package rules

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

func webRules() []config.RuleConfig {
	return []config.RuleConfig{
		{
			Name:    "scripts",
			Test:    `\.jsx?$`,
			Exclude: []string{"re:node_modules/(?:[^s]|s[^w])", `re:\.test\.jsx?$`},
			Use:     []config.TransformConfig{{Name: "script"}},
		},
		{
			Name: "all-scripts",
			Test: `\.js$`,
			Use:  []config.TransformConfig{{Name: "minify"}},
		},
		{
			Name:    "images",
			Test:    `\.(png|svg)$`,
			Exclude: []string{"ico/"},
			Use:     []config.TransformConfig{{Name: "url", Options: map[string]any{"limit": 8192}}},
		},
		{
			Name:    "icons",
			Test:    `\.svg$`,
			Include: []string{"ico"},
			Use:     []config.TransformConfig{{Name: "svg-sprite"}},
		},
	}
}

func names(chain []TransformRef) []string {
	out := make([]string, 0, len(chain))
	for _, t := range chain {
		out = append(out, t.Name)
	}
	return out
}

func TestMatch_FirstPolicy(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, webRules(), config.RulePolicyFirst)
	require.NoError(t, err)

	tests := []struct {
		path string
		want []string
	}{
		{"js/main.js", []string{"script"}},
		{"js/main.test.js", []string{"minify"}},
		{"node_modules/jquery/dist/jquery.js", []string{"minify"}},
		{"node_modules/swiper/swiper.js", []string{"script"}},
		{"img/logo.png", []string{"url"}},
		{"ico/arrow.svg", []string{"svg-sprite"}},
		{"icons/arrow.svg", []string{"url"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			chain, err := m.Match(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(chain))
		})
	}
}

func TestMatch_UnionPolicy(t *testing.T) {
	m, err := New(t.TempDir(), webRules(), config.RulePolicyUnion)
	require.NoError(t, err)

	chain, err := m.Match("js/main.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"script", "minify"}, names(chain))
	assert.Equal(t, "scripts", chain[0].Rule)
	assert.Equal(t, "all-scripts", chain[1].Rule)

	applying, err := m.Explain("js/main.js")
	require.NoError(t, err)
	assert.Len(t, applying, 2)
}

func TestMatch_Deterministic(t *testing.T) {
	m, err := New(t.TempDir(), webRules(), config.RulePolicyUnion)
	require.NoError(t, err)
	first, err := m.Match("img/logo.png")
	require.NoError(t, err)
	for range 20 {
		again, err := m.Match("img/logo.png")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMatch_NoMatchingRule(t *testing.T) {
	m, err := New(t.TempDir(), webRules(), config.RulePolicyFirst)
	require.NoError(t, err)

	_, err = m.Match("fonts/font.woff")
	require.ErrorIs(t, err, ErrNoMatchingRule)
	assert.True(t, IsNoMatch(err))
	assert.False(t, ferrors.HasSeverity(err, ferrors.SeverityFatal))
}

func TestMatch_OutsideSourceRoot(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, webRules(), config.RulePolicyFirst)
	require.NoError(t, err)

	for _, p := range []string{"../escape.js", filepath.Join(filepath.Dir(root), "other.js"), "."} {
		_, err := m.Match(p)
		require.Error(t, err, p)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation), p)
	}

	chain, err := m.Match(filepath.Join(root, "js", "main.js"))
	require.NoError(t, err)
	assert.Equal(t, []string{"script"}, names(chain))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(t.TempDir(), []config.RuleConfig{{Test: "("}}, config.RulePolicyFirst)
	require.Error(t, err)

	_, err = New(t.TempDir(), webRules(), "sometimes")
	require.Error(t, err)

	known := func(name string) bool { return name != "svg-sprite" }
	_, err = New(t.TempDir(), webRules(), config.RulePolicyFirst, WithKnownTransform(known))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestParsePredicate(t *testing.T) {
	dir, err := ParsePredicate("img/")
	require.NoError(t, err)
	assert.True(t, dir("img/a.png"))
	assert.True(t, dir("img"))
	assert.False(t, dir("images/a.png"))

	re, err := ParsePredicate(`re:\.min\.`)
	require.NoError(t, err)
	assert.True(t, re("js/a.min.js"))
	assert.False(t, re("js/a.js"))

	_, err = ParsePredicate("re:[")
	require.Error(t, err)
}
