package graph

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// ErrModuleNotFound matches every resolution failure via errors.Is.
var ErrModuleNotFound = ferrors.NotFoundError("module not found").Build()

type alias struct {
	prefix string
	target string
}

// Resolver maps specifiers found in a unit to source-root relative paths.
type Resolver struct {
	root       string
	aliases    []alias
	extensions []string
}

// NewResolver creates a resolver over the source root at root.
func NewResolver(root string, cfg config.ResolveConfig) *Resolver {
	r := &Resolver{root: root, extensions: cfg.Extensions}
	for prefix, target := range cfg.Alias {
		r.aliases = append(r.aliases, alias{
			prefix: strings.TrimSuffix(prefix, "/"),
			target: strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(target)), "/"),
		})
	}
	// Longest prefix first so "@/lib" beats "@".
	sort.Slice(r.aliases, func(i, j int) bool {
		if len(r.aliases[i].prefix) != len(r.aliases[j].prefix) {
			return len(r.aliases[i].prefix) > len(r.aliases[j].prefix)
		}
		return r.aliases[i].prefix < r.aliases[j].prefix
	})
	return r
}

// Root returns the source root.
func (r *Resolver) Root() string { return r.root }

// Abs returns the filesystem path of a source-root relative path.
func (r *Resolver) Abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Resolve resolves ref as written in the unit at from. Bare module
// specifiers that match nothing are reported as external rather than failing.
func (r *Resolver) Resolve(from string, ref asset.Ref) (target string, external bool, err error) {
	spec := stripQuery(ref.Specifier)
	var base string
	switch {
	case spec == "":
		return "", false, r.notFound(from, ref.Specifier)
	case strings.HasPrefix(spec, "/"):
		base = path.Clean(spec[1:])
	case isRelative(spec):
		base = path.Join(path.Dir(from), spec)
	default:
		if aliased, ok := r.alias(spec); ok {
			base = aliased
			break
		}
		if ref.Kind == asset.RefAsset || ref.Kind == asset.RefInclude {
			base = path.Join(path.Dir(from), spec)
			break
		}
		if p, ok := r.nodeModule(spec); ok {
			return p, false, nil
		}
		return "", true, nil
	}
	if base == ".." || strings.HasPrefix(base, "../") {
		return "", false, r.notFound(from, ref.Specifier)
	}
	if p, ok := r.probe(base, true); ok {
		return p, false, nil
	}
	return "", false, r.notFound(from, ref.Specifier)
}

func (r *Resolver) notFound(from, spec string) error {
	return ErrModuleNotFound.WithContext("specifier", spec).WithContext("from", from)
}

func (r *Resolver) alias(spec string) (string, bool) {
	for _, a := range r.aliases {
		if spec == a.prefix {
			return a.target, true
		}
		if rest, ok := strings.CutPrefix(spec, a.prefix+"/"); ok {
			return path.Join(a.target, rest), true
		}
	}
	return "", false
}

// nodeModule looks the package up under node_modules in the source root,
// honouring the package.json main field.
func (r *Resolver) nodeModule(spec string) (string, bool) {
	pkgDir := path.Join("node_modules", spec)
	if p, ok := r.probe(pkgDir, false); ok {
		return p, true
	}
	if raw, err := os.ReadFile(r.Abs(path.Join(pkgDir, "package.json"))); err == nil {
		var pkg struct {
			Module string `json:"module"`
			Main   string `json:"main"`
		}
		if json.Unmarshal(raw, &pkg) == nil {
			for _, entry := range []string{pkg.Module, pkg.Main} {
				if entry == "" {
					continue
				}
				if p, ok := r.probe(path.Join(pkgDir, entry), true); ok {
					return p, true
				}
			}
		}
	}
	return r.probeIndex(pkgDir)
}

// probe tries base as written, then with each configured extension, then
// (when index is set) as a directory holding an index file.
func (r *Resolver) probe(base string, index bool) (string, bool) {
	if isFile(r.Abs(base)) {
		return base, true
	}
	for _, ext := range r.extensions {
		if isFile(r.Abs(base + ext)) {
			return base + ext, true
		}
	}
	if index {
		return r.probeIndex(base)
	}
	return "", false
}

func (r *Resolver) probeIndex(dir string) (string, bool) {
	for _, ext := range r.extensions {
		p := path.Join(dir, "index"+ext)
		if isFile(r.Abs(p)) {
			return p, true
		}
	}
	return "", false
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// stripQuery drops ?query and #fragment suffixes.
func stripQuery(spec string) string {
	if i := strings.IndexAny(spec, "?#"); i >= 0 {
		return spec[:i]
	}
	return spec
}
