package commands

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/incremental"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/storage"
)

// Global carries state shared by every subcommand.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"assetbuilder.yaml" env:"ASSETBUILDER_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build all entry points and publish the output directory"`
	Serve   ServeCmd   `cmd:"" help:"Serve the build from memory and rebuild on change with live reload"`
	Init    InitCmd    `cmd:"" help:"Write an example configuration file"`
	Match   MatchCmd   `cmd:"" help:"Show which rules and transforms apply to source paths"`
	History HistoryCmd `cmd:"" help:"List recent builds from the history database"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(c.Verbose)})))
	return nil
}

// parseLogLevel honours ASSETBUILDER_LOG_LEVEL unless -v asks for debug.
func parseLogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(os.Getenv("ASSETBUILDER_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// deps are the optional collaborators of a pipeline, opened from the
// configuration and closed together.
type deps struct {
	cache    *incremental.ResultCache
	history  history.Store
	notifier notify.Publisher
	registry *prom.Registry
	recorder metrics.Recorder
}

// openDeps opens the cache, history database, notifier and metrics registry
// the configuration asks for. An in-memory cache is used when persistent
// caching is off and memCache is set.
func openDeps(cfg *config.Config, logger *slog.Logger, memCache bool) (*deps, error) {
	d := &deps{}

	switch {
	case cfg.Build.Cache.Enabled:
		store, err := storage.NewFSStore(cfg.Abs(cfg.Build.Cache.Dir))
		if err != nil {
			return nil, err
		}
		d.cache = incremental.NewResultCache(store.WithLogger(logger)).WithLogger(logger)
		logger.Debug("Using persistent transform cache", logfields.Path(cfg.Build.Cache.Dir))
	case memCache:
		d.cache = incremental.NewResultCache(storage.NewMemoryStore()).WithLogger(logger)
	}

	if cfg.History.Path != "" {
		store, err := history.NewSQLiteStore(cfg.Abs(cfg.History.Path))
		if err != nil {
			d.close(logger)
			return nil, err
		}
		d.history = store
	}

	n, err := notify.New(cfg.Events.NATSURL, cfg.Events.Subject, logger)
	if err != nil {
		// Notifications are best effort; a build never fails for want of a broker.
		logger.Warn("Build notifications disabled", logfields.Error(err))
		n = notify.Noop{}
	}
	d.notifier = n

	d.registry = prom.NewRegistry()
	d.recorder = metrics.NewPrometheusRecorder(d.registry)
	return d, nil
}

// pipelineOptions returns the options for a pipeline over d.
func (d *deps) pipelineOptions(cfg *config.Config, logger *slog.Logger) pipeline.Options {
	opts := pipeline.Options{
		Config:   cfg,
		Recorder: d.recorder,
		History:  d.history,
		Notifier: d.notifier,
		Logger:   logger,
	}
	if d.cache != nil {
		opts.Cache = d.cache
	}
	return opts
}

func (d *deps) close(logger *slog.Logger) {
	var errs []error
	if d.cache != nil {
		errs = append(errs, d.cache.Close())
	}
	if d.history != nil {
		errs = append(errs, d.history.Close())
	}
	if d.notifier != nil {
		errs = append(errs, d.notifier.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("Failed to release resources", logfields.Error(err))
	}
}
