package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/adrg/xdg"
)

// Default values shared by the loader, the init command and tests.
const (
	DefaultConfigFile       = "assetbuilder.yaml"
	DefaultSource           = "src"
	DefaultOutputDir        = "dist"
	DefaultScriptName       = "js/[name].js"
	DefaultStyleName        = "css/[name].css"
	DefaultAssetName        = "[path][name].[ext]"
	DefaultMarkupName       = "[path][name].html"
	DefaultManifestName     = "manifest.json"
	DefaultInlineLimit      = 8192
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 9000
	DefaultDebounce         = 150 * time.Millisecond
	DefaultCacheMaxAge      = 72 * time.Hour
	DefaultEventSubject     = "assetbuilder.builds"
	DefaultHistoryRetention = 30 * 24 * time.Hour
)

// DefaultExtensions are probed, in order, when a specifier has no extension.
var DefaultExtensions = []string{".js", ".jsx", ".mjs", ".css"}

// DefaultPostProcess is the post-processing stage order used when none is configured.
var DefaultPostProcess = []string{"prune-style-only", "write-manifest"}

// ConfigDefaultApplier applies defaults for a specific configuration domain.
type ConfigDefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier applies defaults across all configuration domains.
type CompositeDefaultApplier struct {
	appliers []ConfigDefaultApplier
}

// NewDefaultApplier creates a composite default applier with all domain appliers.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []ConfigDefaultApplier{
			&SourceDefaultApplier{},
			&OutputDefaultApplier{},
			&BuildDefaultApplier{},
			&ServerDefaultApplier{},
			&EventsDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// SourceDefaultApplier handles source root, resolution and rule policy defaults.
type SourceDefaultApplier struct{}

func (s *SourceDefaultApplier) Domain() string { return "source" }

func (s *SourceDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.RulePolicy == "" {
		cfg.RulePolicy = RulePolicyFirst
	}
	if len(cfg.Resolve.Extensions) == 0 {
		cfg.Resolve.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.PostProcess == nil {
		cfg.PostProcess = append([]string(nil), DefaultPostProcess...)
	}
	for i := range cfg.Rules {
		if cfg.Rules[i].Name == "" {
			cfg.Rules[i].Name = fmt.Sprintf("rule-%d", i+1)
		}
	}
	return nil
}

// OutputDefaultApplier handles output defaults.
type OutputDefaultApplier struct{}

func (o *OutputDefaultApplier) Domain() string { return "output" }

func (o *OutputDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = DefaultOutputDir
	}
	if !cfg.Output.cleanSpecified {
		cfg.Output.Clean = true
	}
	if cfg.Output.Script == "" {
		cfg.Output.Script = DefaultScriptName
	}
	if cfg.Output.Style == "" {
		cfg.Output.Style = DefaultStyleName
	}
	if cfg.Output.Asset == "" {
		cfg.Output.Asset = DefaultAssetName
	}
	if cfg.Output.Markup == "" {
		cfg.Output.Markup = DefaultMarkupName
	}
	if cfg.Output.InlineLimit == 0 {
		cfg.Output.InlineLimit = DefaultInlineLimit
	}
	if cfg.Output.Manifest == "" {
		cfg.Output.Manifest = DefaultManifestName
	}
	return nil
}

// BuildDefaultApplier handles Build configuration defaults.
type BuildDefaultApplier struct{}

func (b *BuildDefaultApplier) Domain() string { return "build" }

func (b *BuildDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Build.Concurrency <= 0 {
		cfg.Build.Concurrency = runtime.NumCPU()
	}
	if cfg.Build.Cache.Dir == "" {
		cfg.Build.Cache.Dir = filepath.Join(xdg.CacheHome, "assetbuilder")
	}
	if cfg.Build.Cache.MaxAge <= 0 {
		cfg.Build.Cache.MaxAge = DefaultCacheMaxAge
	}
	if cfg.Build.Retry.Mode == "" {
		cfg.Build.Retry.Mode = RetryBackoffExponential
	}
	if cfg.Build.Retry.Initial <= 0 {
		cfg.Build.Retry.Initial = 50 * time.Millisecond
	}
	if cfg.Build.Retry.Max <= 0 {
		cfg.Build.Retry.Max = time.Second
	}
	if !cfg.Build.Retry.maxRetriesSpecified && cfg.Build.Retry.MaxRetries <= 0 {
		cfg.Build.Retry.MaxRetries = 3
	}
	return nil
}

// ServerDefaultApplier handles dev server defaults.
type ServerDefaultApplier struct{}

func (s *ServerDefaultApplier) Domain() string { return "server" }

func (s *ServerDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Debounce <= 0 {
		cfg.Server.Debounce = DefaultDebounce
	}
	if !cfg.Server.liveReloadSpecified {
		cfg.Server.LiveReload = true
	}
	return nil
}

// EventsDefaultApplier handles notification and history defaults.
type EventsDefaultApplier struct{}

func (e *EventsDefaultApplier) Domain() string { return "events" }

func (e *EventsDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventSubject
	}
	if cfg.History.Retention <= 0 {
		cfg.History.Retention = DefaultHistoryRetention
	}
	return nil
}
