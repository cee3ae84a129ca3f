package asset

import (
	"net/url"
	"regexp"
)

// PlaceholderKind distinguishes the two kinds of deferred references.
type PlaceholderKind string

const (
	// PlaceholderURL is replaced by the referenced unit's public URL or data URI.
	PlaceholderURL PlaceholderKind = "url"
	// PlaceholderModule is replaced by the referenced script module's bundle id.
	PlaceholderModule PlaceholderKind = "mod"
)

// Placeholders written into URL attributes by html/template arrive with their
// parentheses percent-encoded, so both spellings are recognized.
var placeholderRe = regexp.MustCompile(`__assetbuilder_(url|mod)(\(|%28)([^()\s"'<>]*?)(?:\)|%29)__`)

func placeholderSpec(sub [][]byte) string {
	spec := string(sub[3])
	if string(sub[2]) == "%28" {
		if u, err := url.PathUnescape(spec); err == nil {
			return u
		}
	}
	return spec
}

// Placeholder marks a URL reference whose final value is only known at emission.
func Placeholder(specifier string) string {
	return "__assetbuilder_url(" + specifier + ")__"
}

// ModulePlaceholder marks a module reference inside a script bundle.
func ModulePlaceholder(specifier string) string {
	return "__assetbuilder_mod(" + specifier + ")__"
}

// HasPlaceholders reports whether content still carries unresolved references.
func HasPlaceholders(content []byte) bool {
	return placeholderRe.Match(content)
}

// ReplacePlaceholders substitutes every placeholder with the value returned by
// resolve. Placeholders resolve cannot answer are replaced by their specifier.
func ReplacePlaceholders(content []byte, resolve func(kind PlaceholderKind, specifier string) (string, bool)) []byte {
	return placeholderRe.ReplaceAllFunc(content, func(m []byte) []byte {
		sub := placeholderRe.FindSubmatch(m)
		kind, spec := PlaceholderKind(sub[1]), placeholderSpec(sub)
		if v, ok := resolve(kind, spec); ok {
			return []byte(v)
		}
		return []byte(spec)
	})
}

// PlaceholderSpecifiers lists the specifiers referenced by placeholders of kind in content.
func PlaceholderSpecifiers(content []byte, kind PlaceholderKind) []string {
	var out []string
	for _, m := range placeholderRe.FindAllSubmatch(content, -1) {
		if PlaceholderKind(m[1]) == kind {
			out = append(out, placeholderSpec(m))
		}
	}
	return out
}
