// Package asset defines the data model shared by the pipeline stages: entry
// points, unit kinds, discovered references and emitted artifacts.
package asset

import (
	"path"
	"sort"
	"strings"
)

// Kind routes a unit to an emission strategy.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
	KindImage  Kind = "image"
	KindMarkup Kind = "markup"
	KindOther  Kind = "other"
)

var kindByExt = map[string]Kind{
	".js":     KindScript,
	".jsx":    KindScript,
	".mjs":    KindScript,
	".cjs":    KindScript,
	".ts":     KindScript,
	".css":    KindStyle,
	".png":    KindImage,
	".jpg":    KindImage,
	".jpeg":   KindImage,
	".gif":    KindImage,
	".svg":    KindImage,
	".webp":   KindImage,
	".ico":    KindImage,
	".avif":   KindImage,
	".html":   KindMarkup,
	".htm":    KindMarkup,
	".tmpl":   KindMarkup,
	".gohtml": KindMarkup,
	".md":     KindMarkup,
}

// KindOf classifies a path by its extension.
func KindOf(p string) Kind {
	if k, ok := kindByExt[strings.ToLower(path.Ext(p))]; ok {
		return k
	}
	return KindOther
}

// Inlineable reports whether units of this kind may be embedded as data URIs.
func (k Kind) Inlineable() bool {
	return k == KindImage || k == KindOther
}

// EntryPoint names a source module from which traversal begins.
type EntryPoint struct {
	Name string
	Path string
}

// SortedEntries converts a name→path mapping into entry points ordered by name.
func SortedEntries(m map[string]string) []EntryPoint {
	out := make([]EntryPoint, 0, len(m))
	for name, p := range m {
		out = append(out, EntryPoint{Name: name, Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RefKind describes how a referencing unit consumes its dependency.
type RefKind string

const (
	// RefImport is a module import bundled into the referrer's output.
	RefImport RefKind = "import"
	// RefDynamic is a lazily loaded import; it is followed like RefImport.
	RefDynamic RefKind = "dynamic"
	// RefAsset is a URL reference, resolved to a path or an inlined data URI.
	RefAsset RefKind = "asset"
	// RefInclude is a raw textual include consumed by the referrer itself.
	RefInclude RefKind = "include"
)

// Ref is a reference discovered inside a unit's content.
type Ref struct {
	Specifier string
	Kind      RefKind
}

// Artifact is an extra physical output produced by a transform next to the
// unit's main content.
type Artifact struct {
	// Name is the output-root relative path. Name templates are expanded.
	Name string
	Kind Kind
	// Content is the artifact body, or the fragment contributed to a merged artifact.
	Content []byte
	// Merge joins fragments from several units that share Name, in unit path order,
	// wrapped by Header and Footer.
	Merge  bool
	Header []byte
	Footer []byte
}
