// Package graph discovers the asset units reachable from a build's entry
// points.
//
// Discovery and transformation interleave: a unit's references are only known
// once its transform chain has run, so the builder walks the graph level by
// level, transforming each frontier in parallel and resolving the references
// the results report into the next frontier. Units are identified by their
// source-root relative path; a revisited path is never processed twice, which
// makes cyclic references safe.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/globals"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/rules"
	"git.home.luguber.info/inful/assetbuilder/internal/transform"
)

// cacheVersion is mixed into every cache key; bump it when Result semantics change.
const cacheVersion = "assetbuilder-unit-v1"

// Edge is a resolved reference from one unit to another.
type Edge struct {
	Ref    asset.Ref
	Target string
	// External references are kept verbatim in the output.
	External bool
}

// Unit is one source file in the graph.
type Unit struct {
	Path   string
	Kind   asset.Kind
	Raw    []byte
	Result *transform.Result
	Chain  []rules.TransformRef
	Deps   []Edge
	// Included units are template partials consumed raw by their referrer.
	Included bool
	// Passthrough units matched no rule and keep their raw content.
	Passthrough bool
	Cached      bool
	Err         error
}

// Content returns the transformed content, or the raw content before processing.
func (u *Unit) Content() []byte {
	if u.Result != nil {
		return u.Result.Content
	}
	return u.Raw
}

// Excluded reports whether a transform dropped the unit on purpose.
func (u *Unit) Excluded() bool {
	return u.Result != nil && u.Result.Excluded
}

// Edge returns the first edge recorded for specifier.
func (u *Unit) Edge(specifier string) (Edge, bool) {
	for _, e := range u.Deps {
		if e.Ref.Specifier == specifier {
			return e, true
		}
	}
	return Edge{}, false
}

// Warning is a non-fatal discovery finding.
type Warning struct {
	Unit      string
	Specifier string
	Message   string
}

// Graph is the result of a build's discovery phase.
type Graph struct {
	Entries []asset.EntryPoint
	// Roots maps entry names to their unit paths.
	Roots    map[string]string
	Units    map[string]*Unit
	Warnings []Warning
	// Globals is the data document the transforms saw.
	Globals *globals.Document
}

// Paths returns every unit path in sorted order.
func (g *Graph) Paths() []string {
	out := make([]string, 0, len(g.Units))
	for p := range g.Units {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Failed returns the units whose processing failed, sorted by path.
func (g *Graph) Failed() []*Unit {
	var out []*Unit
	for _, p := range g.Paths() {
		if u := g.Units[p]; u.Err != nil {
			out = append(out, u)
		}
	}
	return out
}

// Cache stores transform results across builds.
type Cache interface {
	Get(key string) (*transform.Result, bool)
	Put(key string, res *transform.Result) error
}

// Options tune a Builder.
type Options struct {
	// Concurrency bounds the number of units transformed at once.
	Concurrency int
	// ContinueOnError records unit failures instead of aborting the build.
	ContinueOnError bool
	Cache           Cache
	Logger          *slog.Logger
}

// Builder builds unit graphs.
type Builder struct {
	matcher  *rules.Matcher
	runner   *transform.Runner
	resolver *Resolver
	opts     Options
	logger   *slog.Logger
}

// NewBuilder wires a builder from its collaborators.
func NewBuilder(matcher *rules.Matcher, runner *transform.Runner, resolver *Resolver, opts Options) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{matcher: matcher, runner: runner, resolver: resolver, opts: opts, logger: logger}
}

// Build discovers and transforms every unit reachable from entries. doc is
// passed read-only to every transform; a nil doc means no global data.
func (b *Builder) Build(ctx context.Context, entries []asset.EntryPoint, doc *globals.Document) (*Graph, error) {
	if doc == nil {
		doc = globals.Empty()
	}
	g := &Graph{
		Entries: entries,
		Roots:   make(map[string]string, len(entries)),
		Units:   make(map[string]*Unit),
		Globals: doc,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var frontier []*Unit
	for _, e := range entries {
		spec := "/" + strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(e.Path, "./")), "/")
		p, _, err := b.resolver.Resolve("", asset.Ref{Specifier: spec, Kind: asset.RefImport})
		if err != nil {
			return nil, ferrors.NotFoundError("entry point not found").
				WithCause(err).
				WithContext("entry", e.Name).
				WithContext("path", e.Path).
				Build()
		}
		g.Roots[e.Name] = p
		if _, seen := g.Units[p]; !seen {
			u := &Unit{Path: p}
			g.Units[p] = u
			frontier = append(frontier, u)
		}
	}

	for level := 0; len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		b.processLevel(ctx, cancel, frontier, doc)

		sort.Slice(frontier, func(i, j int) bool { return frontier[i].Path < frontier[j].Path })
		if err := b.levelError(ctx, frontier); err != nil {
			return nil, err
		}
		var next []*Unit
		for _, u := range frontier {
			g.Warnings = append(g.Warnings, b.warnings(u)...)
			for _, e := range u.Deps {
				if e.External {
					continue
				}
				t, seen := g.Units[e.Target]
				switch {
				case !seen:
					t = &Unit{Path: e.Target, Included: e.Ref.Kind == asset.RefInclude}
					g.Units[e.Target] = t
					next = append(next, t)
				case t.Included && e.Ref.Kind != asset.RefInclude:
					// A partial that is also referenced directly gets processed on its own.
					t.Included = false
					next = append(next, t)
				}
			}
		}
		b.logger.Debug("Graph level processed",
			slog.Int("level", level),
			logfields.Count(len(frontier)),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
		frontier = dedupe(next)
	}
	return g, nil
}

// processLevel transforms a frontier in parallel, bounded by Concurrency.
func (b *Builder) processLevel(ctx context.Context, cancel context.CancelFunc, frontier []*Unit, doc *globals.Document) {
	sem := make(chan struct{}, b.opts.Concurrency)
	var wg sync.WaitGroup
	for _, u := range frontier {
		wg.Add(1)
		go func(u *Unit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := b.process(ctx, u, doc); err != nil {
				u.Err = err
				if !b.opts.ContinueOnError {
					cancel()
				}
			}
		}(u)
	}
	wg.Wait()
}

// levelError picks the error that aborts the build, preferring a real unit
// failure over the cancellations it caused.
func (b *Builder) levelError(ctx context.Context, frontier []*Unit) error {
	var canceled error
	for _, u := range frontier {
		if u.Err == nil {
			continue
		}
		if errors.Is(u.Err, context.Canceled) {
			canceled = u.Err
			continue
		}
		if b.opts.ContinueOnError {
			b.logger.Error("Unit failed", logfields.Unit(u.Path), logfields.Error(u.Err))
			continue
		}
		return u.Err
	}
	if canceled != nil && !b.opts.ContinueOnError {
		return canceled
	}
	return ctx.Err()
}

func (b *Builder) process(ctx context.Context, u *Unit, doc *globals.Document) error {
	raw, err := os.ReadFile(b.resolver.Abs(u.Path))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "read source unit").
			WithContext("unit", u.Path).
			Build()
	}
	u.Raw = raw
	u.Kind = asset.KindOf(u.Path)
	u.Deps = nil
	if u.Included {
		return nil
	}

	chain, err := b.matcher.Match(u.Path)
	switch {
	case rules.IsNoMatch(err):
		u.Passthrough = true
		u.Result = &transform.Result{Content: raw, Kind: u.Kind}
		return nil
	case err != nil:
		return err
	}
	u.Chain = chain

	key := ""
	if b.opts.Cache != nil {
		key = cacheKey(u.Path, raw, chain, doc.Digest, b.runner.Registry().Fingerprint())
		if res, ok := b.opts.Cache.Get(key); ok {
			u.Cached = true
			u.Result = res
		}
	}
	if u.Result == nil {
		res, err := b.runner.Run(ctx, transform.Input{
			Path:    u.Path,
			Kind:    u.Kind,
			Content: raw,
			Globals: doc.Data,
			Load:    b.load,
		}, chain)
		if err != nil {
			return err
		}
		u.Result = res
		if key != "" && cacheable(res) {
			if err := b.opts.Cache.Put(key, res); err != nil {
				b.logger.Warn("Failed to store transform result", logfields.Unit(u.Path), logfields.Error(err))
			}
		}
	}
	if u.Result.Kind != "" {
		u.Kind = u.Result.Kind
	}
	if u.Result.Excluded {
		return nil
	}
	return b.resolveRefs(u)
}

func (b *Builder) resolveRefs(u *Unit) error {
	seen := map[asset.Ref]bool{}
	for _, ref := range u.Result.Refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		target, external, err := b.resolver.Resolve(u.Path, ref)
		if err != nil {
			return err
		}
		u.Deps = append(u.Deps, Edge{Ref: ref, Target: target, External: external})
	}
	return nil
}

// load serves template includes with the raw content of the partial.
func (b *Builder) load(_ context.Context, from, specifier string) (string, []byte, error) {
	target, external, err := b.resolver.Resolve(from, asset.Ref{Specifier: specifier, Kind: asset.RefInclude})
	if err != nil {
		return "", nil, err
	}
	if external {
		return "", nil, b.resolver.notFound(from, specifier)
	}
	raw, err := os.ReadFile(b.resolver.Abs(target))
	if err != nil {
		return "", nil, fmt.Errorf("read include %s: %w", target, err)
	}
	return target, raw, nil
}

func (b *Builder) warnings(u *Unit) []Warning {
	var out []Warning
	for _, e := range u.Deps {
		if !e.External {
			continue
		}
		b.logger.Warn("Unresolved module treated as external",
			logfields.Unit(u.Path),
			slog.String("specifier", e.Ref.Specifier))
		out = append(out, Warning{Unit: u.Path, Specifier: e.Ref.Specifier, Message: "unresolved module treated as external"})
	}
	return out
}

// cacheable excludes results rendered from includes: the partials are not
// part of the key.
func cacheable(res *transform.Result) bool {
	for _, r := range res.Refs {
		if r.Kind == asset.RefInclude {
			return false
		}
	}
	return true
}

func cacheKey(p string, raw []byte, chain []rules.TransformRef, globalsDigest, settings string) string {
	h := sha256.New()
	type stage struct {
		Name    string         `json:"name"`
		Options map[string]any `json:"options,omitempty"`
	}
	stages := make([]stage, 0, len(chain))
	for _, ref := range chain {
		stages = append(stages, stage{Name: ref.Name, Options: ref.Options})
	}
	chainJSON, _ := json.Marshal(stages)
	for _, part := range [][]byte{[]byte(cacheVersion), []byte(p), raw, chainJSON, []byte(globalsDigest), []byte(settings)} {
		_, _ = fmt.Fprintf(h, "%d:", len(part))
		_, _ = h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func dedupe(units []*Unit) []*Unit {
	seen := make(map[string]bool, len(units))
	out := units[:0]
	for _, u := range units {
		if seen[u.Path] {
			continue
		}
		seen[u.Path] = true
		out = append(out, u)
	}
	return out
}
