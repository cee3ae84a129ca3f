package config

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Validate checks the configuration for structural errors. Transform names are
// checked later, when rules are compiled against the transform registry.
func Validate(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.entries()
	v.rules()
	v.output()
	v.server()
	v.build()
	if v.err != nil {
		return v.err
	}
	return nil
}

type validator struct {
	cfg *Config
	err error
}

func (v *validator) fail(msg string, kv ...any) {
	if v.err != nil {
		return
	}
	b := ferrors.ConfigError(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		b = b.WithContext(fmt.Sprint(kv[i]), kv[i+1])
	}
	v.err = b.Build()
}

func (v *validator) entries() {
	if len(v.cfg.Entries) == 0 {
		v.fail("at least one entry point is required")
		return
	}
	for name, src := range v.cfg.Entries {
		if strings.TrimSpace(name) == "" {
			v.fail("entry name must not be empty")
			return
		}
		if strings.ContainsAny(name, `/\`) {
			v.fail("entry name must not contain path separators", "entry", name)
			return
		}
		if strings.TrimSpace(src) == "" {
			v.fail("entry source path must not be empty", "entry", name)
			return
		}
		if clean := path.Clean(strings.TrimPrefix(src, "./")); clean == ".." || strings.HasPrefix(clean, "../") {
			v.fail("entry source path escapes the source root", "entry", name, "path", src)
			return
		}
	}
}

func (v *validator) rules() {
	switch v.cfg.RulePolicy {
	case RulePolicyFirst, RulePolicyUnion:
	default:
		v.fail("invalid rule_policy", "rule_policy", string(v.cfg.RulePolicy))
		return
	}
	seen := make(map[string]struct{}, len(v.cfg.Rules))
	for _, r := range v.cfg.Rules {
		if _, dup := seen[r.Name]; dup {
			v.fail("duplicate rule name", "rule", r.Name)
			return
		}
		seen[r.Name] = struct{}{}
		if r.Test == "" {
			v.fail("rule test pattern is required", "rule", r.Name)
			return
		}
		if _, err := regexp.Compile(r.Test); err != nil {
			v.fail("rule test pattern is not a valid regular expression", "rule", r.Name, "test", r.Test)
			return
		}
		for _, p := range append(append([]string(nil), r.Include...), r.Exclude...) {
			if expr, ok := strings.CutPrefix(p, "re:"); ok {
				if _, err := regexp.Compile(expr); err != nil {
					v.fail("rule predicate is not a valid regular expression", "rule", r.Name, "predicate", p)
					return
				}
			}
		}
		if len(r.Use) == 0 {
			v.fail("rule must use at least one transform", "rule", r.Name)
			return
		}
		for _, t := range r.Use {
			if t.Name == "" {
				v.fail("transform name must not be empty", "rule", r.Name)
				return
			}
		}
	}
}

func (v *validator) output() {
	o := v.cfg.Output
	if o.InlineLimit < 0 {
		v.fail("output.inline_limit must not be negative", "inline_limit", o.InlineLimit)
		return
	}
	if !strings.Contains(o.Script, "[name]") {
		v.fail("output.script must contain [name]", "script", o.Script)
		return
	}
	if path.IsAbs(o.Script) || path.IsAbs(o.Style) {
		v.fail("output name templates must be relative")
		return
	}
	for _, s := range v.cfg.Static {
		if s.From == "" {
			v.fail("static.from is required")
			return
		}
	}
	for _, stage := range v.cfg.PostProcess {
		if stage == "" {
			v.fail("post-processing stage name must not be empty")
			return
		}
	}
}

func (v *validator) server() {
	if v.cfg.Server.Port < 0 || v.cfg.Server.Port > 65535 {
		v.fail("server.port out of range", "port", v.cfg.Server.Port)
	}
}

func (v *validator) build() {
	switch v.cfg.Build.Retry.Mode {
	case RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential:
	default:
		v.fail("invalid build.retry.mode", "mode", string(v.cfg.Build.Retry.Mode))
		return
	}
	if v.cfg.Build.Retry.Max < v.cfg.Build.Retry.Initial {
		v.fail("build.retry.max must be >= build.retry.initial")
	}
	if v.cfg.Build.Retry.MaxRetries < 0 {
		v.fail("build.retry.max_retries must not be negative", "max_retries", v.cfg.Build.Retry.MaxRetries)
	}
}
