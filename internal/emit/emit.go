// Package emit places the units of a built graph into an output tree.
//
// Emission happens in memory: Emit turns a graph into an Output holding every
// file and the manifest describing it, and a Publisher writes an Output to
// disk atomically. Entries whose root is a script or a style become bundles.
// Everything reached through a URL reference becomes a standalone asset,
// inlined as a data URI when it is small enough. Output names come from
// per-kind templates, and two distinct sources claiming one name fail the
// emission instead of overwriting each other.
package emit

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/graph"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
)

// SourceManifest is the source of the manifest document itself. The manifest
// does not list its own file.
const SourceManifest = "manifest"

// File is one output file.
type File struct {
	// Path is relative to the output root, slash separated.
	Path    string
	Content []byte
	Kind    asset.Kind
	// Source names what produced the file: a unit path, "entry:<name>",
	// "artifact:<name>" or a static source path.
	Source string
}

// Bundle describes what was emitted for one entry point.
type Bundle struct {
	Entry  string
	Script string
	Style  string
	// Asset is the output of an entry whose root is neither a script nor a style.
	Asset string
	// Modules are the units evaluated by Script, styles injected at runtime included.
	Modules []string
	// Styles are the units concatenated into Style.
	Styles []string
}

// Output is an emitted build held in memory until it is published.
type Output struct {
	Files    map[string]*File
	Bundles  []Bundle
	Manifest *manifest.Manifest
}

func newOutput(commit string) *Output {
	m := manifest.New()
	m.SourceCommit = commit
	return &Output{Files: map[string]*File{}, Manifest: m}
}

// Add records f. Adding a path again from the same source keeps the first
// file; a different source is a collision.
func (o *Output) Add(f *File) error {
	if cur, ok := o.Files[f.Path]; ok {
		if cur.Source == f.Source {
			return nil
		}
		sources := []string{cur.Source, f.Source}
		sort.Strings(sources)
		return newNameCollisionError(f.Path, sources...)
	}
	o.Files[f.Path] = f
	return nil
}

// Remove drops a file from the output and the manifest.
func (o *Output) Remove(p string) {
	delete(o.Files, p)
	o.Manifest.RemoveFile(p)
	for i := range o.Bundles {
		b := &o.Bundles[i]
		switch p {
		case b.Script:
			b.Script = ""
		case b.Style:
			b.Style = ""
		case b.Asset:
			b.Asset = ""
		}
	}
}

// Paths returns the output paths in sorted order.
func (o *Output) Paths() []string {
	out := make([]string, 0, len(o.Files))
	for p := range o.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Finalize recomputes the manifest's file table from the current contents.
func (o *Output) Finalize() {
	o.Manifest.Files = make(map[string]manifest.FileInfo, len(o.Files))
	for p, f := range o.Files {
		if f.Source == SourceManifest {
			continue
		}
		o.Manifest.SetFile(p, f.Content)
	}
}

// Options configure an Emitter.
type Options struct {
	// SourceRoot is the absolute source root static copies are read from.
	SourceRoot string
	Script     string
	Style      string
	Asset      string
	Markup     string
	// PublicPath prefixes every emitted URL when set. URLs are relative to
	// the referring file otherwise.
	PublicPath string
	Static     []config.StaticConfig
	// Commit stamps the manifest with the source revision.
	Commit string
	Logger *slog.Logger
}

// OptionsFromConfig derives emitter options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SourceRoot: cfg.SourceRoot(),
		Script:     cfg.Output.Script,
		Style:      cfg.Output.Style,
		Asset:      cfg.Output.Asset,
		Markup:     cfg.Output.Markup,
		PublicPath: cfg.Output.PublicPath,
		Static:     cfg.Static,
	}
}

// Emitter turns graphs into outputs.
type Emitter struct {
	opts   Options
	logger *slog.Logger
}

// New creates an emitter. Empty name templates fall back to the defaults.
func New(opts Options) *Emitter {
	if opts.Script == "" {
		opts.Script = config.DefaultScriptName
	}
	if opts.Style == "" {
		opts.Style = config.DefaultStyleName
	}
	if opts.Asset == "" {
		opts.Asset = config.DefaultAssetName
	}
	if opts.Markup == "" {
		opts.Markup = config.DefaultMarkupName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{opts: opts, logger: logger}
}

// Emit places every unit of g. On error nothing is returned, so a failed
// emission can never be published partially.
func (e *Emitter) Emit(ctx context.Context, g *graph.Graph) (*Output, error) {
	start := time.Now()
	em := &emission{
		opts:    e.opts,
		logger:  e.logger,
		g:       g,
		out:     newOutput(e.opts.Commit),
		assets:  map[string]*placedAsset{},
		bundled: map[string]bool{},
	}
	if err := em.run(ctx); err != nil {
		return nil, err
	}
	em.out.Finalize()
	if err := em.out.Manifest.Validate(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "inconsistent output manifest").Build()
	}
	e.logger.Info("Build output emitted",
		logfields.Count(len(em.out.Files)),
		slog.Int("bundles", len(em.out.Bundles)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return em.out, nil
}

type urlMode int

const (
	// modeScript URLs are evaluated by the page, so they are root based.
	modeScript urlMode = iota
	// modeDocument URLs are relative to the file they are written to.
	modeDocument
	// modeExtracted is modeDocument honouring the unit's extract public path.
	modeExtracted
)

type placedAsset struct {
	path     string
	fragment string
	dataURI  string
}

type bundlePlan struct {
	entry   string
	root    *graph.Unit
	scripts []*graph.Unit
	styles  []*graph.Unit
	inject  []*graph.Unit
}

type emission struct {
	opts   Options
	logger *slog.Logger
	g      *graph.Graph
	out    *Output

	assets     map[string]*placedAsset
	assetUnits []*graph.Unit
	bundled    map[string]bool
}

func emittable(u *graph.Unit) bool {
	return u.Err == nil && u.Result != nil && !u.Included && !u.Excluded()
}

func bundleable(u *graph.Unit) bool {
	return emittable(u) && (u.Kind == asset.KindScript || u.Kind == asset.KindStyle)
}

func (em *emission) run(ctx context.Context) error {
	plans, assetEntries := em.planBundles()
	if err := em.placeAssets(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range plans {
		if err := em.emitBundle(p); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(assetEntries) {
		a := em.assets[assetEntries[name]]
		if a == nil || a.path == "" {
			continue
		}
		em.out.Manifest.AddBundleFile(name, a.path)
		em.out.Bundles = append(em.out.Bundles, Bundle{Entry: name, Asset: a.path})
	}
	sort.Slice(em.out.Bundles, func(i, j int) bool { return em.out.Bundles[i].Entry < em.out.Bundles[j].Entry })

	if err := em.emitAssets(); err != nil {
		return err
	}
	if err := em.emitArtifacts(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := em.copyStatic(ctx); err != nil {
		return err
	}
	em.placeUnemitted()
	return nil
}

// planBundles decides the membership of every entry bundle. Entries rooted
// at other kinds are returned by name for asset placement.
func (em *emission) planBundles() ([]bundlePlan, map[string]string) {
	var plans []bundlePlan
	assetEntries := map[string]string{}
	for _, name := range sortedKeys(em.g.Roots) {
		root := em.g.Units[em.g.Roots[name]]
		if root == nil || !emittable(root) {
			continue
		}
		if !bundleable(root) {
			assetEntries[name] = root.Path
			continue
		}
		p := bundlePlan{entry: name, root: root}
		scripts, styles := em.collect(root)
		p.scripts = scripts
		p.styles, p.inject = splitStyles(styles)
		for _, u := range append(scripts, styles...) {
			em.bundled[u.Path] = true
		}
		plans = append(plans, p)
	}
	return plans, assetEntries
}

// splitStyles separates styles marked for extraction from those injected
// through the script runtime.
func splitStyles(styles []*graph.Unit) (extract, inject []*graph.Unit) {
	for _, s := range styles {
		if s.Result.Extract {
			extract = append(extract, s)
		} else {
			inject = append(inject, s)
		}
	}
	return extract, inject
}

// placeAssets names every unit referenced by URL, and every emittable unit
// no bundle claimed, before any content is rendered.
func (em *emission) placeAssets() error {
	targets := map[string]bool{}
	for _, u := range em.g.Units {
		for _, e := range u.Deps {
			if !e.External && e.Ref.Kind == asset.RefAsset {
				targets[e.Target] = true
			}
		}
	}
	for _, p := range em.g.Paths() {
		u := em.g.Units[p]
		if !emittable(u) || (em.bundled[p] && !targets[p]) {
			continue
		}
		if err := em.placeAsset(u); err != nil {
			return err
		}
	}
	return nil
}

func (em *emission) placeAsset(u *graph.Unit) error {
	res := u.Result
	if res.Target != "" {
		target, fragment, _ := strings.Cut(res.Target, "#")
		p, err := cleanOutputPath(target)
		if err != nil {
			return unitError(u, err)
		}
		em.assets[u.Path] = &placedAsset{path: p, fragment: fragment}
		em.out.Manifest.Place(u.Path, manifest.Placement{Outputs: []string{p}})
		return nil
	}

	content := u.Content()
	if limit := res.InlineLimit; u.Kind.Inlineable() && limit != nil && *limit > 0 && int64(len(content)) < *limit {
		em.assets[u.Path] = &placedAsset{dataURI: dataURI(u.Path, content)}
		em.out.Manifest.Place(u.Path, manifest.Placement{Inlined: true})
		return nil
	}

	template := res.Name
	if template == "" {
		template = em.opts.Asset
		if u.Kind == asset.KindMarkup && !u.Passthrough {
			template = em.opts.Markup
		}
	}
	name, err := expandName(template, tokensFor(u.Path, res.Context, content))
	if err != nil {
		return unitError(u, err)
	}
	em.assets[u.Path] = &placedAsset{path: name}
	em.assetUnits = append(em.assetUnits, u)
	em.out.Manifest.Place(u.Path, manifest.Placement{Outputs: []string{name}})
	return nil
}

func (em *emission) emitBundle(p bundlePlan) error {
	b := Bundle{Entry: p.entry}
	if len(p.styles) > 0 {
		draft, err := expandName(em.opts.Style, nameTokens{Name: p.entry, Ext: "css", Hash: "[hash]"})
		if err != nil {
			return err
		}
		content := em.renderStyles(p.styles, draft, modeExtracted)
		final, err := expandName(em.opts.Style, nameTokens{Name: p.entry, Ext: "css", Hash: contentHash(content)})
		if err != nil {
			return err
		}
		if err := em.out.Add(&File{Path: final, Content: content, Kind: asset.KindStyle, Source: "entry:" + p.entry}); err != nil {
			return err
		}
		b.Style, b.Styles = final, unitPaths(p.styles)
		em.out.Manifest.AddBundleFile(p.entry, final)
		for _, u := range p.styles {
			em.out.Manifest.Place(u.Path, manifest.Placement{Outputs: []string{final}, Bundles: []string{p.entry}})
		}
	}

	draft, err := expandName(em.opts.Script, nameTokens{Name: p.entry, Ext: "js", Hash: "[hash]"})
	if err != nil {
		return err
	}
	content := em.renderScript(p.root, p.scripts, p.inject, draft)
	final, err := expandName(em.opts.Script, nameTokens{Name: p.entry, Ext: "js", Hash: contentHash(content)})
	if err != nil {
		return err
	}
	if err := em.out.Add(&File{Path: final, Content: content, Kind: asset.KindScript, Source: "entry:" + p.entry}); err != nil {
		return err
	}
	b.Script = final
	b.Modules = append(unitPaths(p.scripts), unitPaths(p.inject)...)
	em.out.Manifest.AddBundleFile(p.entry, final)
	for _, u := range append(p.scripts, p.inject...) {
		em.out.Manifest.Place(u.Path, manifest.Placement{Outputs: []string{final}, Bundles: []string{p.entry}})
	}

	em.out.Bundles = append(em.out.Bundles, b)
	em.logger.Debug("Bundle emitted",
		logfields.Entry(p.entry),
		logfields.Output(final),
		logfields.Count(len(b.Modules)+len(b.Styles)))
	return nil
}

func (em *emission) emitAssets() error {
	for _, u := range em.assetUnits {
		out := em.assets[u.Path].path
		var content []byte
		switch {
		case u.Passthrough:
			content = u.Content()
		case u.Kind == asset.KindScript:
			scripts, styles := em.collect(u)
			_, inject := splitStyles(styles)
			content = em.renderScript(u, scripts, inject, out)
		case u.Kind == asset.KindStyle:
			_, styles := em.collect(u)
			content = em.renderStyles(styles, out, modeDocument)
		default:
			content = em.resolve(u, u.Content(), out, modeDocument)
		}
		if err := em.out.Add(&File{Path: out, Content: content, Kind: u.Kind, Source: u.Path}); err != nil {
			return err
		}
	}
	return nil
}

type mergedArtifact struct {
	kind   asset.Kind
	header []byte
	footer []byte
	parts  [][]byte
}

// emitArtifacts writes the side outputs of transforms. Fragments of merged
// artifacts are joined in unit path order.
func (em *emission) emitArtifacts() error {
	merged := map[string]*mergedArtifact{}
	for _, p := range em.g.Paths() {
		u := em.g.Units[p]
		if !emittable(u) {
			continue
		}
		for _, a := range u.Result.Artifacts {
			name, err := expandName(a.Name, tokensFor(u.Path, u.Result.Context, a.Content))
			if err != nil {
				return unitError(u, err)
			}
			content := em.resolve(u, a.Content, name, modeDocument)
			em.out.Manifest.Place(u.Path, manifest.Placement{Outputs: []string{name}})
			if !a.Merge {
				if err := em.out.Add(&File{Path: name, Content: content, Kind: a.Kind, Source: "artifact:" + u.Path}); err != nil {
					return err
				}
				continue
			}
			m, ok := merged[name]
			if !ok {
				m = &mergedArtifact{kind: a.Kind, header: a.Header, footer: a.Footer}
				merged[name] = m
			}
			m.parts = append(m.parts, content)
		}
	}
	for _, name := range sortedKeys(merged) {
		m := merged[name]
		var b bytes.Buffer
		b.Write(m.header)
		for _, part := range m.parts {
			b.Write(part)
		}
		b.Write(m.footer)
		if err := em.out.Add(&File{Path: name, Content: b.Bytes(), Kind: m.kind, Source: "artifact:" + name}); err != nil {
			return err
		}
	}
	return nil
}

// copyStatic copies the configured source subtrees verbatim. A file a unit
// already emitted under the same path is kept as emitted.
func (em *emission) copyStatic(ctx context.Context) error {
	for _, s := range em.opts.Static {
		root := filepath.Join(em.opts.SourceRoot, filepath.FromSlash(s.From))
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			em.logger.Warn("Static source directory does not exist", logfields.Path(root))
			continue
		}
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			out, err := cleanOutputPath(path.Join(s.To, rel))
			if err != nil {
				return err
			}
			data, err := os.ReadFile(p) // #nosec G304 -- walking the configured static directory
			if err != nil {
				return err
			}
			return em.out.Add(&File{Path: out, Content: data, Kind: asset.KindOf(rel), Source: path.Join(s.From, rel)})
		})
		if err != nil {
			if ferrors.IsClassified(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "copy static files").
				WithContext("path", root).
				Build()
		}
	}
	return nil
}

// placeUnemitted records the units that produced no output of their own.
func (em *emission) placeUnemitted() {
	for _, p := range em.g.Paths() {
		u := em.g.Units[p]
		switch {
		case u.Err != nil:
			em.out.Manifest.Place(p, manifest.Placement{Failed: true})
		case u.Excluded():
			em.out.Manifest.Place(p, manifest.Placement{Excluded: true})
		case u.Included:
			em.out.Manifest.Place(p, manifest.Placement{Inlined: true})
		}
	}
}

// resolve replaces the placeholders in content, a rendering of u written to from.
func (em *emission) resolve(u *graph.Unit, content []byte, from string, mode urlMode) []byte {
	if !asset.HasPlaceholders(content) {
		return content
	}
	return asset.ReplacePlaceholders(content, func(kind asset.PlaceholderKind, spec string) (string, bool) {
		e, ok := u.Edge(spec)
		if !ok {
			return "", false
		}
		if e.External {
			return spec, true
		}
		if kind == asset.PlaceholderModule {
			return e.Target, true
		}
		return em.url(u, e.Target, spec, from, mode)
	})
}

func (em *emission) url(u *graph.Unit, target, spec, from string, mode urlMode) (string, bool) {
	a, ok := em.assets[target]
	if !ok {
		return "", false
	}
	if a.dataURI != "" {
		return a.dataURI, true
	}
	suffix := ""
	if i := strings.IndexAny(spec, "?#"); i >= 0 {
		suffix = spec[i:]
	}
	if a.fragment != "" {
		query, _, _ := strings.Cut(suffix, "#")
		suffix = query + "#" + a.fragment
	}

	switch {
	case mode == modeScript:
		prefix := em.opts.PublicPath
		if prefix == "" {
			prefix = "/"
		}
		return joinURL(prefix, a.path) + suffix, true
	case mode == modeExtracted && u.Result != nil && u.Result.PublicPath != "":
		return joinURL(u.Result.PublicPath, a.path) + suffix, true
	case em.opts.PublicPath != "":
		return joinURL(em.opts.PublicPath, a.path) + suffix, true
	default:
		return relativeURL(from, a.path) + suffix, true
	}
}

func joinURL(prefix, p string) string {
	if strings.HasSuffix(prefix, "/") {
		return prefix + p
	}
	return prefix + "/" + p
}

func relativeURL(from, target string) string {
	rel, err := filepath.Rel(filepath.FromSlash(path.Dir(from)), filepath.FromSlash(target))
	if err != nil {
		return "/" + target
	}
	return filepath.ToSlash(rel)
}

func dataURI(p string, content []byte) string {
	mt := mime.TypeByExtension(path.Ext(p))
	mt, _, _ = strings.Cut(mt, ";")
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(content)
}

func unitError(u *graph.Unit, err error) error {
	if c, ok := ferrors.AsClassified(err); ok {
		return c.WithContext("unit", u.Path)
	}
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
