package commands

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Output      string `short:"o" help:"Override the output directory from the configuration"`
	NoCache     bool   `name:"no-cache" help:"Disable the persistent transform cache for this run"`
	DryRun      bool   `name:"dry-run" help:"Run every stage except publishing to the output directory"`
	JSON        bool   `name:"json" help:"Print the build report as JSON"`
	MetricsFile string `name:"metrics-file" type:"path" help:"Write build metrics in Prometheus text format to this file"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if err := b.apply(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, registry, err := RunBuild(ctx, cfg, g, b.DryRun)
	if report != nil {
		if b.JSON {
			if jerr := writeJSONReport(os.Stdout, report); jerr != nil {
				return jerr
			}
		} else {
			writeReport(os.Stdout, report)
		}
	}
	if b.MetricsFile != "" && registry != nil {
		if merr := prom.WriteToTextfile(b.MetricsFile, registry); merr != nil {
			g.Logger.Warn("Failed to write metrics file", logfields.Path(b.MetricsFile), logfields.Error(merr))
		}
	}
	return err
}

// apply folds command line overrides into cfg.
func (b *BuildCmd) apply(cfg *config.Config) error {
	if b.Output != "" {
		abs, err := filepath.Abs(b.Output)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryValidation, "resolve output directory").Build()
		}
		cfg.Output.Directory = abs
	}
	if b.NoCache {
		cfg.Build.Cache.Enabled = false
	}
	return config.Validate(cfg)
}

// RunBuild runs one build of cfg and returns its report together with the
// metrics registry the build recorded into.
func RunBuild(ctx context.Context, cfg *config.Config, g *Global, dryRun bool) (*pipeline.Report, *prom.Registry, error) {
	d, err := openDeps(cfg, g.Logger, false)
	if err != nil {
		return nil, nil, err
	}
	defer d.close(g.Logger)

	opts := d.pipelineOptions(cfg, g.Logger)
	opts.SkipPublish = dryRun
	p, err := pipeline.New(opts)
	if err != nil {
		return nil, d.registry, err
	}
	report, err := p.Build(ctx, history.TriggerCLI)
	if d.cache != nil {
		stats := d.cache.Stats()
		g.Logger.Debug("Transform cache", slog.Int64("hits", stats.Hits), slog.Int64("misses", stats.Misses))
	}
	return report, d.registry, err
}

type stageJSON struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Failed     bool    `json:"failed,omitempty"`
}

type warningJSON struct {
	Unit      string `json:"unit"`
	Specifier string `json:"specifier,omitempty"`
	Message   string `json:"message"`
}

type reportJSON struct {
	BuildID      string              `json:"build_id"`
	Trigger      string              `json:"trigger"`
	Status       string              `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	DurationMS   float64             `json:"duration_ms"`
	Units        int                 `json:"units"`
	Cached       int                 `json:"cached"`
	Failed       int                 `json:"failed"`
	Files        int                 `json:"files"`
	Bundles      map[string][]string `json:"bundles,omitempty"`
	ManifestHash string              `json:"manifest_hash,omitempty"`
	Signature    string              `json:"signature,omitempty"`
	Commit       string              `json:"source_commit,omitempty"`
	Stages       []stageJSON         `json:"stages"`
	Warnings     []warningJSON       `json:"warnings,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func writeJSONReport(w io.Writer, r *pipeline.Report) error {
	out := reportJSON{
		BuildID:      r.BuildID,
		Trigger:      string(r.Trigger),
		Status:       string(r.Status),
		StartedAt:    r.StartedAt,
		DurationMS:   float64(r.Duration.Microseconds()) / 1000,
		Units:        r.Units,
		Cached:       r.Cached,
		Failed:       r.Failed,
		Files:        r.Files(),
		Bundles:      r.Bundles(),
		ManifestHash: r.ManifestHash,
		Signature:    r.Signature,
		Commit:       r.Commit,
		Stages:       make([]stageJSON, 0, len(r.Stages)),
	}
	for _, s := range r.Stages {
		out.Stages = append(out.Stages, stageJSON{
			Name:       string(s.Name),
			DurationMS: float64(s.Duration.Microseconds()) / 1000,
			Failed:     s.Failed,
		})
	}
	for _, wn := range r.Warnings {
		out.Warnings = append(out.Warnings, warningJSON{Unit: wn.Unit, Specifier: wn.Specifier, Message: wn.Message})
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
