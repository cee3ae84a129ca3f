package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/emit"
	"git.home.luguber.info/inful/assetbuilder/internal/globals"
	"git.home.luguber.info/inful/assetbuilder/internal/graph"
	"git.home.luguber.info/inful/assetbuilder/internal/incremental"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/vcs"
)

// StageName identifies a build stage.
type StageName string

const (
	StageLoadGlobals StageName = "load_globals"
	StageBuildGraph  StageName = "build_graph"
	StageEmit        StageName = "emit"
	StagePostProcess StageName = "postprocess"
	StagePublish     StageName = "publish"
)

// BuildState is the mutable state threaded through the stages of one build.
type BuildState struct {
	Report    *Report
	Head      vcs.Head
	Globals   *globals.Document
	Signature *incremental.BuildSignature
	Graph     *graph.Graph
	Output    *emit.Output
}

// Stage is one step of a build.
type Stage func(ctx context.Context, bs *BuildState) error

// Middleware wraps a stage with a cross-cutting concern.
type Middleware func(name StageName, next Stage) Stage

// Chain applies middleware to a stage. The first middleware runs outermost.
func Chain(name StageName, stage Stage, middlewares ...Middleware) Stage {
	for i := len(middlewares) - 1; i >= 0; i-- {
		stage = middlewares[i](name, stage)
	}
	return stage
}

// StageTiming is how long one stage of a build took.
type StageTiming struct {
	Name     StageName     `json:"name"`
	Duration time.Duration `json:"duration"`
	Failed   bool          `json:"failed,omitempty"`
}

// TimingMiddleware appends a StageTiming to the report for every stage run.
func TimingMiddleware() Middleware {
	return func(name StageName, next Stage) Stage {
		return func(ctx context.Context, bs *BuildState) error {
			start := time.Now()
			err := next(ctx, bs)
			bs.Report.Stages = append(bs.Report.Stages, StageTiming{Name: name, Duration: time.Since(start), Failed: err != nil})
			return err
		}
	}
}

// ObservabilityMiddleware records stage durations and results.
func ObservabilityMiddleware(rec metrics.Recorder) Middleware {
	return func(name StageName, next Stage) Stage {
		return func(ctx context.Context, bs *BuildState) error {
			start := time.Now()
			err := next(ctx, bs)
			rec.ObserveStageDuration(string(name), time.Since(start))
			switch {
			case err == nil:
				rec.IncStageResult(string(name), metrics.ResultSuccess)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				rec.IncStageResult(string(name), metrics.ResultCanceled)
			default:
				rec.IncStageResult(string(name), metrics.ResultFatal)
			}
			return err
		}
	}
}

// LoggingMiddleware logs stage completion at debug level and failures at error level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(name StageName, next Stage) Stage {
		return func(ctx context.Context, bs *BuildState) error {
			start := time.Now()
			err := next(ctx, bs)
			attrs := []any{
				logfields.BuildID(bs.Report.BuildID),
				logfields.Stage(string(name)),
				logfields.DurationMS(float64(time.Since(start).Milliseconds())),
			}
			if err != nil && ctx.Err() == nil {
				logger.Error("Build stage failed", append(attrs, logfields.Error(err))...)
				return err
			}
			logger.Debug("Build stage completed", attrs...)
			return err
		}
	}
}
