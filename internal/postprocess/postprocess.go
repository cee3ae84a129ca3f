// Package postprocess runs the explicit, ordered stages applied to an emitted
// output before it is published.
//
// Each stage reads and rewrites the in-memory output. Stages run in the
// configured order; the manifest file table is recomputed once they are done.
package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/emit"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/minify"
)

// StageName identifies a post-processing stage.
type StageName string

// Built-in stages.
const (
	StagePruneStyleOnly StageName = "prune-style-only"
	StageMinify         StageName = "minify"
	StageWriteManifest  StageName = "write-manifest"
)

// Stage is one post-processing step.
type Stage func(ctx context.Context, out *emit.Output) error

// Options configure the built-in stages.
type Options struct {
	// ManifestName is the output path the manifest is written to.
	ManifestName string
	Minifier     *minify.Minifier
	Logger       *slog.Logger
}

type stageDef struct {
	Name StageName
	Fn   Stage
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	stages []stageDef
	logger *slog.Logger
}

// Names returns the built-in stage names in sorted order.
func Names() []string {
	return []string{string(StageMinify), string(StagePruneStyleOnly), string(StageWriteManifest)}
}

// New builds a pipeline running names in order. write-manifest, when
// present, must come last so the manifest describes the final files.
func New(names []string, opts Options) (*Pipeline, error) {
	if opts.ManifestName == "" {
		opts.ManifestName = "manifest.json"
	}
	if opts.Minifier == nil {
		opts.Minifier = minify.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{logger: logger}
	seen := map[StageName]bool{}
	for i, n := range names {
		name := StageName(n)
		if seen[name] {
			return nil, ferrors.ConfigError("post-processing stage listed twice").WithContext("stage", n).Build()
		}
		seen[name] = true
		var fn Stage
		switch name {
		case StagePruneStyleOnly:
			fn = pruneStyleOnly(logger)
		case StageMinify:
			fn = minifyFiles(opts.Minifier)
		case StageWriteManifest:
			if i != len(names)-1 {
				return nil, ferrors.ConfigError("write-manifest must be the last post-processing stage").Build()
			}
			fn = writeManifest(opts.ManifestName)
		default:
			return nil, ferrors.ConfigError("unknown post-processing stage").
				WithContext("stage", n).
				WithContext("known", Names()).
				Build()
		}
		p.stages = append(p.stages, stageDef{Name: name, Fn: fn})
	}
	return p, nil
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []StageName {
	out := make([]StageName, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.Name)
	}
	return out
}

// Run applies every stage to out in order.
func (p *Pipeline) Run(ctx context.Context, out *emit.Output) error {
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := s.Fn(ctx, out); err != nil {
			if ferrors.IsClassified(err) || ctx.Err() != nil {
				return err
			}
			return ferrors.WrapError(err, ferrors.CategoryBuild, "post-processing failed").
				WithContext("stage", string(s.Name)).
				Build()
		}
		p.logger.Debug("Post-processing stage completed",
			logfields.Stage(string(s.Name)),
			logfields.Count(len(out.Files)),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	}
	out.Finalize()
	return nil
}

// pruneStyleOnly drops the script bundle of entries that only carry styles.
func pruneStyleOnly(logger *slog.Logger) Stage {
	return func(_ context.Context, out *emit.Output) error {
		for _, b := range out.Bundles {
			if b.Script == "" || b.Style == "" || len(b.Modules) > 0 {
				continue
			}
			logger.Debug("Pruning style-only script bundle", logfields.Entry(b.Entry), logfields.Output(b.Script))
			out.Remove(b.Script)
		}
		return nil
	}
}

// minifyFiles minifies every file whose media type has a minifier.
func minifyFiles(m *minify.Minifier) Stage {
	return func(ctx context.Context, out *emit.Output) error {
		for _, p := range out.Paths() {
			if err := ctx.Err(); err != nil {
				return err
			}
			f := out.Files[p]
			if f.Source == emit.SourceManifest {
				continue
			}
			min, ok, err := m.File(p, f.Content)
			if err != nil {
				return fmt.Errorf("minify %s: %w", p, err)
			}
			if ok {
				f.Content = min
			}
		}
		return nil
	}
}

// writeManifest adds the manifest document to the output.
func writeManifest(name string) Stage {
	return func(_ context.Context, out *emit.Output) error {
		if cur, ok := out.Files[name]; ok && cur.Source == emit.SourceManifest {
			out.Remove(name)
		}
		out.Finalize()
		data, err := out.Manifest.ToJSON()
		if err != nil {
			return err
		}
		return out.Add(&emit.File{Path: name, Content: data, Kind: asset.KindOther, Source: emit.SourceManifest})
	}
}
