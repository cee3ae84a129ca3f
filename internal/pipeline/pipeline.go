// Package pipeline wires the rule matcher, transform runner, graph builder,
// emitter and post-processing stages into one build run.
//
// A build runs the stages load_globals, build_graph, emit, postprocess and
// publish in order. Any stage error aborts the build before publish, so a
// failed build never touches the output root. Every finished build is
// appended to the history store and announced to the notifier.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/emit"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/globals"
	"git.home.luguber.info/inful/assetbuilder/internal/graph"
	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/incremental"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/minify"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/postprocess"
	"git.home.luguber.info/inful/assetbuilder/internal/retry"
	"git.home.luguber.info/inful/assetbuilder/internal/rules"
	"git.home.luguber.info/inful/assetbuilder/internal/transform"
	"git.home.luguber.info/inful/assetbuilder/internal/vcs"
	"git.home.luguber.info/inful/assetbuilder/internal/version"
)

// Options configure a Pipeline. Only Config is required.
type Options struct {
	Config *config.Config
	// Cache stores transform results across builds. Nil disables caching.
	Cache    graph.Cache
	Recorder metrics.Recorder
	History  history.Store
	Notifier notify.Publisher
	Logger   *slog.Logger
	// SkipPublish stops after post-processing; the output stays in memory.
	SkipPublish bool
}

// Pipeline runs builds of one configuration.
type Pipeline struct {
	cfg       *config.Config
	matcher   *rules.Matcher
	registry  *transform.Registry
	builder   *graph.Builder
	emitOpts  emit.Options
	post      *postprocess.Pipeline
	publisher *emit.Publisher
	opts      Options
	logger    *slog.Logger
	stages    []namedStage
}

type namedStage struct {
	name StageName
	run  Stage
}

// New compiles the configuration into a ready-to-run pipeline. Invalid rules
// or post-processing stages are reported as configuration errors.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, ferrors.ConfigError("pipeline requires a configuration").Build()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}

	minifier := minify.Default()
	registry := transform.NewBuiltinRegistry(transform.Settings{
		Provide:     cfg.Provide,
		InlineLimit: cfg.Output.InlineLimit,
		AssetName:   cfg.Output.Asset,
		Minifier:    minifier,
	})
	matcher, err := rules.New(cfg.SourceRoot(), cfg.Rules, cfg.RulePolicy, rules.WithKnownTransform(registry.Has))
	if err != nil {
		return nil, err
	}
	post, err := postprocess.New(cfg.PostProcess, postprocess.Options{
		ManifestName: cfg.Output.Manifest,
		Minifier:     minifier,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	runner := transform.NewRunner(registry, logger)
	resolver := graph.NewResolver(cfg.SourceRoot(), cfg.Resolve)
	builder := graph.NewBuilder(matcher, runner, resolver, graph.Options{
		Concurrency:     cfg.Build.Concurrency,
		ContinueOnError: cfg.Build.ContinueOnError,
		Cache:           opts.Cache,
		Logger:          logger,
	})

	emitOpts := emit.OptionsFromConfig(cfg)
	emitOpts.Logger = logger

	publisher := &emit.Publisher{
		Root:       cfg.OutputRoot(),
		Clean:      cfg.Output.Clean,
		SourceRoot: cfg.SourceRoot(),
		Retry:      retry.FromConfig(cfg.Build.Retry),
		Logger:     logger,
	}
	p := &Pipeline{
		cfg:       cfg,
		matcher:   matcher,
		registry:  registry,
		builder:   builder,
		emitOpts:  emitOpts,
		post:      post,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}

	middlewares := []Middleware{
		TimingMiddleware(),
		ObservabilityMiddleware(opts.Recorder),
		LoggingMiddleware(logger),
	}
	add := func(name StageName, s Stage) {
		p.stages = append(p.stages, namedStage{name: name, run: Chain(name, s, middlewares...)})
	}
	add(StageLoadGlobals, p.loadGlobals)
	add(StageBuildGraph, p.buildGraph)
	add(StageEmit, p.emitOutput)
	add(StagePostProcess, p.postProcess)
	if !opts.SkipPublish {
		add(StagePublish, p.publish)
	}
	return p, nil
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Matcher returns the compiled rule matcher.
func (p *Pipeline) Matcher() *rules.Matcher { return p.matcher }

// Registry returns the transform registry.
func (p *Pipeline) Registry() *transform.Registry { return p.registry }

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []StageName {
	out := make([]StageName, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.name)
	}
	return out
}

// Build runs one build. The returned report is never nil; its Err is the
// same error Build returns.
func (p *Pipeline) Build(ctx context.Context, trigger history.Trigger) (*Report, error) {
	report := &Report{
		BuildID:   uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	bs := &BuildState{Report: report}
	p.logger.Info("Build started", logfields.BuildID(report.BuildID), slog.String("trigger", string(trigger)))

	err := p.run(ctx, bs)
	report.finish(err)
	p.observe(report)

	// Bookkeeping uses a fresh context so canceled builds are still recorded.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	p.record(bookCtx, report)
	p.announce(bookCtx, report)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, bs *BuildState) error {
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.run(ctx, bs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) loadGlobals(_ context.Context, bs *BuildState) error {
	doc, err := globals.Load(p.cfg.GlobalsPath())
	if err != nil {
		return err
	}
	bs.Globals = doc

	head, err := vcs.ReadHead(p.cfg.SourceRoot())
	if err != nil {
		p.logger.Warn("Could not read source revision", logfields.Path(p.cfg.SourceRoot()), logfields.Error(err))
	}
	bs.Head = head
	bs.Report.Commit = head.Commit

	sig, err := incremental.ComputeBuildSignature(p.cfg, doc.Digest, head.Commit, version.Version)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "compute build signature").Build()
	}
	bs.Signature = sig
	bs.Report.Signature = sig.BuildHash
	return nil
}

func (p *Pipeline) buildGraph(ctx context.Context, bs *BuildState) error {
	g, err := p.builder.Build(ctx, asset.SortedEntries(p.cfg.Entries), bs.Globals)
	if err != nil {
		return err
	}
	bs.Graph = g
	bs.Report.Graph = g
	for _, w := range g.Warnings {
		p.logger.Warn(w.Message, logfields.BuildID(bs.Report.BuildID), logfields.Unit(w.Unit), slog.String("specifier", w.Specifier))
	}
	return nil
}

func (p *Pipeline) emitOutput(ctx context.Context, bs *BuildState) error {
	opts := p.emitOpts
	opts.Commit = bs.Head.Commit
	out, err := emit.New(opts).Emit(ctx, bs.Graph)
	if err != nil {
		return err
	}
	bs.Output = out
	return nil
}

func (p *Pipeline) postProcess(ctx context.Context, bs *BuildState) error {
	if err := p.post.Run(ctx, bs.Output); err != nil {
		return err
	}
	hash, err := bs.Output.Manifest.Hash()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "hash output manifest").Build()
	}
	bs.Report.Output = bs.Output
	bs.Report.ManifestHash = hash
	return nil
}

func (p *Pipeline) publish(ctx context.Context, bs *BuildState) error {
	return p.publisher.Publish(ctx, bs.Output)
}

func (p *Pipeline) observe(r *Report) {
	rec := p.opts.Recorder
	rec.ObserveBuildDuration(r.Duration)
	rec.IncBuildOutcome(r.outcome())
	rec.AddUnits(r.Units, r.Cached, r.Failed)
	if r.Status == history.StatusSuccess {
		rec.SetOutputFiles(r.Files())
	}

	attrs := []any{
		logfields.BuildID(r.BuildID),
		logfields.State(string(r.Status)),
		logfields.Count(r.Files()),
		slog.Int("units", r.Units),
		slog.Int("cached", r.Cached),
		logfields.DurationMS(float64(r.Duration.Milliseconds())),
	}
	switch r.Status {
	case history.StatusSuccess:
		if r.Failed > 0 {
			p.logger.Warn("Build completed with failed units", append(attrs, slog.Int("failed", r.Failed))...)
			return
		}
		p.logger.Info("Build completed", attrs...)
	case history.StatusCanceled:
		p.logger.Info("Build canceled", attrs...)
	default:
		p.logger.Error("Build failed", append(attrs, logfields.Error(r.Err))...)
	}
}

func (p *Pipeline) record(ctx context.Context, r *Report) {
	if p.opts.History == nil {
		return
	}
	if err := p.opts.History.Append(ctx, r.Record()); err != nil {
		p.logger.Warn("Failed to record build history", logfields.BuildID(r.BuildID), logfields.Error(err))
	}
}

func (p *Pipeline) announce(ctx context.Context, r *Report) {
	if err := p.opts.Notifier.Publish(ctx, r.Event()); err != nil {
		p.logger.Warn("Failed to publish build event", logfields.BuildID(r.BuildID), logfields.Error(err))
	}
}
