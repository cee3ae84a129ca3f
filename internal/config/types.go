package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the assetbuilder configuration file.
type Config struct {
	// Source is the source root; every unit path is relative to it.
	Source      string            `yaml:"source"`
	Entries     map[string]string `yaml:"entries"`
	Resolve     ResolveConfig     `yaml:"resolve,omitempty"`
	Rules       []RuleConfig      `yaml:"rules"`
	RulePolicy  RulePolicy        `yaml:"rule_policy,omitempty"`
	Provide     map[string]string `yaml:"provide,omitempty"`
	Output      OutputConfig      `yaml:"output"`
	Static      []StaticConfig    `yaml:"static,omitempty"`
	Data        DataConfig        `yaml:"data,omitempty"`
	PostProcess []string          `yaml:"postprocess,omitempty"`
	Build       BuildConfig       `yaml:"build,omitempty"`
	Server      ServerConfig      `yaml:"server,omitempty"`
	Events      EventsConfig      `yaml:"events,omitempty"`
	History     HistoryConfig     `yaml:"history,omitempty"`
	Monitoring  MonitoringConfig  `yaml:"monitoring,omitempty"`

	// baseDir is the directory of the loaded config file; relative paths resolve against it.
	baseDir string
}

// ResolveConfig controls module specifier resolution.
type ResolveConfig struct {
	Alias      map[string]string `yaml:"alias,omitempty"`
	Extensions []string          `yaml:"extensions,omitempty"`
}

// RulePolicy selects how overlapping rules combine.
type RulePolicy string

const (
	// RulePolicyFirst applies only the first matching, non-excluded rule.
	RulePolicyFirst RulePolicy = "first"
	// RulePolicyUnion concatenates the chains of every applying rule in declaration order.
	RulePolicyUnion RulePolicy = "union"
)

// RuleConfig declares one module rule.
type RuleConfig struct {
	Name    string            `yaml:"name,omitempty"`
	Test    string            `yaml:"test"`
	Include []string          `yaml:"include,omitempty"`
	Exclude []string          `yaml:"exclude,omitempty"`
	Use     []TransformConfig `yaml:"use"`
}

// TransformConfig references a named transform with opaque options.
type TransformConfig struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options,omitempty"`
}

// UnmarshalYAML accepts either a bare transform name or a {name, options} mapping.
func (t *TransformConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Name = value.Value
		return nil
	}
	type plain TransformConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = TransformConfig(p)
	return nil
}

// OutputConfig represents output configuration.
type OutputConfig struct {
	Directory string `yaml:"directory"`
	// Clean replaces the output root wholesale on publish.
	Clean      bool   `yaml:"clean"`
	PublicPath string `yaml:"public_path,omitempty"`
	Script     string `yaml:"script,omitempty"`
	Style      string `yaml:"style,omitempty"`
	Asset      string `yaml:"asset,omitempty"`
	Markup     string `yaml:"markup,omitempty"`
	// InlineLimit is the size in bytes below which inlineable assets are embedded.
	InlineLimit int64  `yaml:"inline_limit,omitempty"`
	Manifest    string `yaml:"manifest,omitempty"`

	cleanSpecified bool
}

// UnmarshalYAML records whether clean was set so the default only applies when omitted.
func (o *OutputConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain OutputConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	p.cleanSpecified = hasKey(value, "clean")
	*o = OutputConfig(p)
	return nil
}

// StaticConfig copies a source subtree verbatim into the output root.
type StaticConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DataConfig points at the side-loaded global data document.
type DataConfig struct {
	Globals string `yaml:"globals,omitempty"`
}

// BuildConfig controls build execution.
type BuildConfig struct {
	Concurrency     int         `yaml:"concurrency,omitempty"`
	ContinueOnError bool        `yaml:"continue_on_error,omitempty"`
	Cache           CacheConfig `yaml:"cache,omitempty"`
	Retry           RetryConfig `yaml:"retry,omitempty"`
}

// CacheConfig controls the incremental transform cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
	// MaxAge is how long an unused cache object survives the janitor.
	MaxAge time.Duration `yaml:"max_age,omitempty"`
}

// RetryBackoffMode selects how retry delays grow.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// RetryConfig controls retries of transient filesystem failures.
type RetryConfig struct {
	Mode    RetryBackoffMode `yaml:"mode,omitempty"`
	Initial time.Duration    `yaml:"initial,omitempty"`
	Max     time.Duration    `yaml:"max,omitempty"`
	// MaxRetries of 0 disables retries.
	MaxRetries int `yaml:"max_retries,omitempty"`

	maxRetriesSpecified bool
}

// UnmarshalYAML records whether max_retries was set so an explicit 0 survives defaulting.
func (r *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain RetryConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	p.maxRetriesSpecified = hasKey(value, "max_retries")
	*r = RetryConfig(p)
	return nil
}

// ServerConfig holds dev server bind parameters.
type ServerConfig struct {
	Host       string        `yaml:"host,omitempty"`
	Port       int           `yaml:"port,omitempty"`
	Compress   bool          `yaml:"compress,omitempty"`
	LiveReload bool          `yaml:"live_reload,omitempty"`
	Debounce   time.Duration `yaml:"debounce,omitempty"`
	// Publish writes each successful rebuild to the output directory as well as serving it.
	Publish bool `yaml:"publish,omitempty"`

	liveReloadSpecified bool
}

// UnmarshalYAML records whether live_reload was set so the default only applies when omitted.
func (s *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ServerConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	p.liveReloadSpecified = hasKey(value, "live_reload")
	*s = ServerConfig(p)
	return nil
}

func hasKey(mapping *yaml.Node, key string) bool {
	if mapping.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return true
		}
	}
	return false
}

// EventsConfig configures external build notifications.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// HistoryConfig configures the build history database.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
	// Retention is how long build records are kept by the dev server janitor.
	Retention time.Duration `yaml:"retention,omitempty"`
}

// MonitoringConfig configures metrics exposure.
type MonitoringConfig struct {
	Metrics bool `yaml:"metrics,omitempty"`
}

// BaseDir returns the directory relative paths are resolved against.
func (c *Config) BaseDir() string {
	if c.baseDir == "" {
		return "."
	}
	return c.baseDir
}

// SetBaseDir overrides the directory relative paths are resolved against.
func (c *Config) SetBaseDir(dir string) {
	c.baseDir = dir
}
