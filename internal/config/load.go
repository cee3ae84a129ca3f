package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Load reads, expands, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve config path").Build()
	}
	baseDir := filepath.Dir(absPath)

	if err := loadEnvFiles(baseDir); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "load environment file").Build()
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ferrors.ConfigError("configuration file not found").WithContext("path", configPath).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").Build()
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.baseDir = baseDir

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration bytes after environment expansion and applies defaults.
// It does not validate; callers that bypass Load must call Validate.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Build()
	}
	if err := NewDefaultApplier().ApplyDefaults(&cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to apply defaults").Build()
	}
	return &cfg, nil
}

// Abs resolves p against the configuration base directory.
func (c *Config) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir(), p)
}

// SourceRoot returns the absolute source root.
func (c *Config) SourceRoot() string {
	return c.Abs(c.Source)
}

// OutputRoot returns the absolute output root.
func (c *Config) OutputRoot() string {
	return c.Abs(c.Output.Directory)
}

// GlobalsPath returns the absolute globals document path, or "" when unset.
func (c *Config) GlobalsPath() string {
	if c.Data.Globals == "" {
		return ""
	}
	if filepath.IsAbs(c.Data.Globals) {
		return c.Data.Globals
	}
	return filepath.Join(c.SourceRoot(), c.Data.Globals)
}

// Init writes an example configuration modelled on a typical front-end project.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ValidationError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			Build()
	}

	data, err := yaml.Marshal(Example())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}

// Example returns the configuration written by Init.
func Example() *Config {
	return &Config{
		Source: "src",
		Entries: map[string]string{
			"app":    "./js/main.js",
			"styles": "./css/main.css",
			"assets": "./assets.js",
		},
		Resolve: ResolveConfig{
			Alias: map[string]string{
				"@":   ".",
				"Img": "img",
				"Js":  "js",
			},
			Extensions: []string{".js", ".jsx"},
		},
		RulePolicy: RulePolicyFirst,
		Rules: []RuleConfig{
			{
				Name:    "scripts",
				Test:    `\.jsx?$`,
				Exclude: []string{`re:node_modules/`, `re:\.test\.jsx?$`},
				Use:     []TransformConfig{{Name: "provide"}, {Name: "script"}},
			},
			{
				Name: "styles",
				Test: `\.css$`,
				Use: []TransformConfig{
					{Name: "style"},
					{Name: "extract", Options: map[string]any{"publicPath": "../"}},
				},
			},
			{
				Name:    "images",
				Test:    `\.(gif|png|jpe?g|svg|woff)$`,
				Exclude: []string{"ico/"},
				Use: []TransformConfig{
					{Name: "url", Options: map[string]any{"limit": 8192, "name": "[path][name].[ext]"}},
				},
			},
			{
				Name:    "icons",
				Test:    `\.svg$`,
				Include: []string{"ico/"},
				Use:     []TransformConfig{{Name: "minify"}, {Name: "svg-sprite"}},
			},
			{
				Name:    "pages",
				Test:    `\.tmpl$`,
				Include: []string{"templates/"},
				Use: []TransformConfig{
					{Name: "template", Options: map[string]any{"basedir": "templates"}},
					{Name: "html", Options: map[string]any{"attrs": []any{"img:src", "link:href"}}},
					{Name: "file", Options: map[string]any{"name": "[path][name].html", "context": "templates"}},
				},
			},
		},
		Provide: map[string]string{
			"$":             "jquery",
			"jQuery":        "jquery",
			"window.jQuery": "jquery",
		},
		Output: OutputConfig{
			Directory:   "dist",
			Clean:       true,
			Script:      DefaultScriptName,
			Style:       DefaultStyleName,
			InlineLimit: DefaultInlineLimit,
		},
		Static: []StaticConfig{{From: "img", To: "img"}},
		Data:   DataConfig{Globals: "templates/data/global.json"},
		PostProcess: []string{
			"prune-style-only",
			"minify",
			"write-manifest",
		},
		Server: ServerConfig{
			Host:       DefaultHost,
			Port:       DefaultPort,
			Compress:   true,
			LiveReload: true,
		},
	}
}
