package transform

import (
	"context"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
)

var (
	reCSSImport = regexp.MustCompile(`(?m)@import\s+(?:url\(\s*)?['"]?([^'")\s;]+)['"]?\s*\)?\s*([^;]*);`)
	reCSSURL    = regexp.MustCompile(`\burl\(\s*(?:"([^"]*)"|'([^']*)'|([^'")\s]+))\s*\)`)
)

// styleTransform discovers @import and url() references. Imports are removed
// and followed as bundled dependencies, url() targets become placeholders.
func styleTransform(_ context.Context, in Input) (*Result, error) {
	var refs []asset.Ref
	src := string(in.Content)

	src = reCSSImport.ReplaceAllStringFunc(src, func(m string) string {
		sub := reCSSImport.FindStringSubmatch(m)
		spec, media := sub[1], strings.TrimSpace(sub[2])
		if isExternalURL(spec) || media != "" {
			return m
		}
		refs = append(refs, asset.Ref{Specifier: spec, Kind: asset.RefImport})
		return ""
	})

	var b strings.Builder
	last := 0
	for _, loc := range reCSSURL.FindAllStringSubmatchIndex(src, -1) {
		spec := ""
		for g := 1; g <= 3; g++ {
			if loc[2*g] >= 0 {
				spec = strings.TrimSpace(src[loc[2*g]:loc[2*g+1]])
				break
			}
		}
		if isExternalURL(spec) || asset.HasPlaceholders([]byte(spec)) || inImportRule(src, loc[0]) {
			continue
		}
		refs = append(refs, asset.Ref{Specifier: spec, Kind: asset.RefAsset})
		b.WriteString(src[last:loc[0]])
		b.WriteString(`url("` + asset.Placeholder(spec) + `")`)
		last = loc[1]
	}
	b.WriteString(src[last:])
	src = b.String()

	return &Result{Content: []byte(src), Kind: asset.KindStyle, Refs: refs}, nil
}

// inImportRule reports whether pos lies inside an @import statement kept for
// the browser to load.
func inImportRule(src string, pos int) bool {
	start := strings.LastIndexAny(src[:pos], ";{}") + 1
	return strings.HasPrefix(strings.TrimSpace(src[start:pos]), "@import")
}

// extractTransform moves style content out of script bundles into the entry's
// style bundle.
func extractTransform(_ context.Context, in Input) (*Result, error) {
	publicPath, err := optString(in.Options, "publicPath", "")
	if err != nil {
		return nil, err
	}
	return &Result{Content: in.Content, Kind: asset.KindStyle, Extract: true, PublicPath: publicPath}, nil
}

// isExternalURL reports references that are never resolved against the source tree.
func isExternalURL(spec string) bool {
	s := strings.ToLower(spec)
	for _, prefix := range []string{"http:", "https:", "//", "data:", "mailto:", "tel:", "javascript:", "#", "about:"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return s == ""
}
