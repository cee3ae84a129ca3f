// Package transform runs ordered transform chains over unit content.
//
// A transform is a function of its input content and options. The runner pipes
// each stage's content into the next and accumulates the side outputs every stage
// reports: discovered references, extra artifacts, naming and inlining hints.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/rules"
)

// Input is what a single stage sees.
type Input struct {
	// Path is the unit path relative to the source root, slash separated.
	Path    string
	Kind    asset.Kind
	Content []byte
	Options map[string]any
	// Globals is the side-loaded data document. Transforms must not mutate it.
	Globals map[string]any
	// Load resolves specifier relative to the unit at from and returns the
	// resolved source path and raw content. It serves raw includes.
	Load func(ctx context.Context, from, specifier string) (string, []byte, error)
}

// Result is a stage's output, and the accumulated output of a whole chain.
type Result struct {
	Content []byte
	// Kind overrides the routing kind when non-empty.
	Kind asset.Kind
	// Name is an output name template overriding the per-kind default.
	Name string
	// Context is stripped from the front of [path] when expanding Name.
	Context string
	// InlineLimit enables data URI inlining for sizes strictly below the limit.
	InlineLimit *int64
	// Extract routes style content to the entry's style bundle instead of the script bundle.
	Extract bool
	// PublicPath prefixes URLs written into extracted style bundles.
	PublicPath string
	// Target replaces the unit's own output as the URL referrers receive.
	Target    string
	Artifacts []asset.Artifact
	Refs      []asset.Ref
	// Excluded drops the unit from the output on purpose.
	Excluded bool
	Meta     map[string]string
}

// Transform is a named content rewriting step.
type Transform interface {
	Apply(ctx context.Context, in Input) (*Result, error)
}

// Func adapts a plain function to the Transform interface.
type Func func(ctx context.Context, in Input) (*Result, error)

// Apply calls f.
func (f Func) Apply(ctx context.Context, in Input) (*Result, error) { return f(ctx, in) }

// merge folds a stage result into the accumulated chain result.
func (r *Result) merge(stage *Result) {
	r.Content = stage.Content
	if stage.Kind != "" {
		r.Kind = stage.Kind
	}
	if stage.Name != "" {
		r.Name = stage.Name
		r.Context = stage.Context
	}
	if stage.InlineLimit != nil {
		r.InlineLimit = stage.InlineLimit
	}
	if stage.Extract {
		r.Extract = true
		r.PublicPath = stage.PublicPath
	}
	if stage.Target != "" {
		r.Target = stage.Target
	}
	r.Artifacts = append(r.Artifacts, stage.Artifacts...)
	r.Refs = append(r.Refs, stage.Refs...)
	r.Excluded = r.Excluded || stage.Excluded
	for k, v := range stage.Meta {
		if r.Meta == nil {
			r.Meta = map[string]string{}
		}
		r.Meta[k] = v
	}
}

// TransformError reports the unit and chain stage that failed.
type TransformError struct {
	Unit  string
	Stage string
	Cause error

	classified *ferrors.ClassifiedError
}

func newTransformError(unit, stage string, cause error) *TransformError {
	return &TransformError{
		Unit:  unit,
		Stage: stage,
		Cause: cause,
		classified: ferrors.WrapError(cause, ferrors.CategoryTransform, "transform failed").
			WithContext("unit", unit).
			WithContext("stage", stage).
			Build(),
	}
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %q failed for %s: %v", e.Stage, e.Unit, e.Cause)
}

// Unwrap exposes the classified error, which in turn wraps Cause.
func (e *TransformError) Unwrap() error { return e.classified }

// Runner executes chains against a registry.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a runner over registry.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger}
}

// Registry returns the runner's transform registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Run pipes in.Content through chain in order. A later stage only sees the
// previous stage's output. The first failing stage aborts the chain.
func (r *Runner) Run(ctx context.Context, in Input, chain []rules.TransformRef) (*Result, error) {
	acc := &Result{Content: in.Content, Kind: in.Kind}
	for _, ref := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, ok := r.registry.Lookup(ref.Name)
		if !ok {
			return nil, newTransformError(in.Path, ref.Name, ferrors.ConfigError("unknown transform").Build())
		}
		stageIn := in
		stageIn.Content = acc.Content
		stageIn.Kind = acc.Kind
		stageIn.Options = ref.Options

		start := time.Now()
		out, err := t.Apply(ctx, stageIn)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, newTransformError(in.Path, ref.Name, err)
		}
		if out == nil {
			out = &Result{Content: acc.Content}
		}
		acc.merge(out)
		r.logger.Debug("Transform applied",
			logfields.Unit(in.Path),
			logfields.Stage(ref.Name),
			logfields.Rule(ref.Rule),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
		if acc.Excluded {
			break
		}
	}
	return acc, nil
}
