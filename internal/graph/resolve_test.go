package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
)

func TestResolver(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"js/main.js":            "",
		"js/lib/index.js":       "",
		"js/view.jsx":           "",
		"img/logo.png":          "",
		"css/img/local.png":     "",
		"templates/a.tmpl":      "",
		"node_modules/jq/jq.js": "",
	})
	r := NewResolver(root, config.ResolveConfig{
		Alias:      map[string]string{"@": ".", "Img": "img", "@/lib": "js/lib"},
		Extensions: []string{".js", ".jsx"},
	})

	tests := []struct {
		name     string
		from     string
		ref      asset.Ref
		want     string
		external bool
		notFound bool
	}{
		{"relative with extension probing", "js/main.js", asset.Ref{Specifier: "./view", Kind: asset.RefImport}, "js/view.jsx", false, false},
		{"directory index", "js/main.js", asset.Ref{Specifier: "./lib", Kind: asset.RefImport}, "js/lib/index.js", false, false},
		{"root absolute", "js/main.js", asset.Ref{Specifier: "/img/logo.png", Kind: asset.RefAsset}, "img/logo.png", false, false},
		{"alias", "css/main.css", asset.Ref{Specifier: "Img/logo.png", Kind: asset.RefAsset}, "img/logo.png", false, false},
		{"longest alias wins", "js/main.js", asset.Ref{Specifier: "@/lib", Kind: asset.RefImport}, "js/lib/index.js", false, false},
		{"root alias", "js/main.js", asset.Ref{Specifier: "@/js/main", Kind: asset.RefImport}, "js/main.js", false, false},
		{"plain asset is relative", "css/main.css", asset.Ref{Specifier: "img/local.png", Kind: asset.RefAsset}, "css/img/local.png", false, false},
		{"query and fragment dropped", "css/main.css", asset.Ref{Specifier: "../img/logo.png?v=2#x", Kind: asset.RefAsset}, "img/logo.png", false, false},
		{"node module", "js/main.js", asset.Ref{Specifier: "jq/jq", Kind: asset.RefImport}, "node_modules/jq/jq.js", false, false},
		{"bare unresolved is external", "js/main.js", asset.Ref{Specifier: "react", Kind: asset.RefImport}, "", true, false},
		{"relative unresolved", "js/main.js", asset.Ref{Specifier: "./nope", Kind: asset.RefImport}, "", false, true},
		{"escaping the root", "js/main.js", asset.Ref{Specifier: "../../etc/passwd", Kind: asset.RefAsset}, "", false, true},
		{"empty", "js/main.js", asset.Ref{Specifier: "", Kind: asset.RefAsset}, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, external, err := r.Resolve(tt.from, tt.ref)
			if tt.notFound {
				require.ErrorIs(t, err, ErrModuleNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.external, external)
		})
	}
}
