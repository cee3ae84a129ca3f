// Package rules selects the transform chain for a source path.
package rules

import (
	"errors"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// ErrNoMatchingRule signals that no rule applies; callers pass the file through unchanged.
var ErrNoMatchingRule = ferrors.NotFoundError("no matching rule").
	WithSeverity(ferrors.SeverityInfo).
	Build()

// TransformRef names a transform and carries its opaque options.
type TransformRef struct {
	Name    string
	Options map[string]any
	// Rule is the name of the rule that contributed this step.
	Rule string
}

// Predicate tests a source-root relative, slash separated path.
type Predicate func(rel string) bool

// Rule is a compiled rule declaration.
type Rule struct {
	Name    string
	test    *regexp.Regexp
	include []Predicate
	exclude []Predicate
	chain   []TransformRef
}

// Applies reports whether the rule matches rel: the test matches, an include
// predicate matches (or there are none) and no exclude predicate matches.
func (r *Rule) Applies(rel string) bool {
	if !r.test.MatchString(rel) {
		return false
	}
	if len(r.include) > 0 && !anyMatch(r.include, rel) {
		return false
	}
	return !anyMatch(r.exclude, rel)
}

// Chain returns a copy of the rule's transform chain.
func (r *Rule) Chain() []TransformRef {
	return append([]TransformRef(nil), r.chain...)
}

func anyMatch(ps []Predicate, rel string) bool {
	for _, p := range ps {
		if p(rel) {
			return true
		}
	}
	return false
}

// Matcher evaluates rules in declaration order under a fixed policy.
// It is immutable and safe for concurrent use.
type Matcher struct {
	root   string
	rules  []*Rule
	policy config.RulePolicy
	known  func(name string) bool
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithKnownTransform rejects rules that reference transforms known does not accept.
func WithKnownTransform(known func(name string) bool) Option {
	return func(m *Matcher) { m.known = known }
}

// New compiles rule declarations rooted at sourceRoot.
func New(sourceRoot string, decls []config.RuleConfig, policy config.RulePolicy, opts ...Option) (*Matcher, error) {
	abs, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve source root").Build()
	}
	if policy == "" {
		policy = config.RulePolicyFirst
	}
	if policy != config.RulePolicyFirst && policy != config.RulePolicyUnion {
		return nil, ferrors.ConfigError("invalid rule policy").WithContext("rule_policy", string(policy)).Build()
	}

	m := &Matcher{root: abs, policy: policy}
	for _, opt := range opts {
		opt(m)
	}
	for i, d := range decls {
		r, err := compile(i, d)
		if err != nil {
			return nil, err
		}
		for _, t := range r.chain {
			if m.known != nil && !m.known(t.Name) {
				return nil, ferrors.ConfigError("unknown transform").
					WithContext("rule", r.Name).
					WithContext("transform", t.Name).
					Build()
			}
		}
		m.rules = append(m.rules, r)
	}
	return m, nil
}

func compile(i int, d config.RuleConfig) (*Rule, error) {
	name := d.Name
	if name == "" {
		name = "rule-" + strconv.Itoa(i+1)
	}
	re, err := regexp.Compile(d.Test)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid rule test").WithContext("rule", name).Build()
	}
	r := &Rule{Name: name, test: re}
	for _, p := range d.Include {
		pred, perr := ParsePredicate(p)
		if perr != nil {
			return nil, ferrors.WrapError(perr, ferrors.CategoryConfig, "invalid include predicate").WithContext("rule", name).Build()
		}
		r.include = append(r.include, pred)
	}
	for _, p := range d.Exclude {
		pred, perr := ParsePredicate(p)
		if perr != nil {
			return nil, ferrors.WrapError(perr, ferrors.CategoryConfig, "invalid exclude predicate").WithContext("rule", name).Build()
		}
		r.exclude = append(r.exclude, pred)
	}
	for _, u := range d.Use {
		r.chain = append(r.chain, TransformRef{Name: u.Name, Options: u.Options, Rule: name})
	}
	return r, nil
}

// ParsePredicate builds a predicate from its declaration. "re:<expr>" is a
// regular expression over the relative path; anything else is a path prefix,
// matched on segment boundaries.
func ParsePredicate(decl string) (Predicate, error) {
	if expr, ok := strings.CutPrefix(decl, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	}
	prefix := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(decl)), "/")
	if prefix == "" {
		return func(string) bool { return true }, nil
	}
	return func(rel string) bool {
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	}, nil
}

// Rules returns the compiled rules in declaration order.
func (m *Matcher) Rules() []*Rule {
	return append([]*Rule(nil), m.rules...)
}

// Root returns the absolute source root.
func (m *Matcher) Root() string {
	return m.root
}

// Match returns the transform chain for p. p may be absolute or relative to the
// source root; either way it must lie within the source root. A path no rule
// applies to yields ErrNoMatchingRule.
func (m *Matcher) Match(p string) ([]TransformRef, error) {
	rel, err := m.Rel(p)
	if err != nil {
		return nil, err
	}
	var chain []TransformRef
	for _, r := range m.rules {
		if !r.Applies(rel) {
			continue
		}
		chain = append(chain, r.chain...)
		if m.policy == config.RulePolicyFirst {
			break
		}
	}
	if len(chain) == 0 {
		return nil, ErrNoMatchingRule
	}
	return chain, nil
}

// Rel converts p to a slash separated path relative to the source root.
func (m *Matcher) Rel(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.root, filepath.FromSlash(p))
	}
	rel, err := filepath.Rel(m.root, filepath.Clean(abs))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return "", ferrors.ValidationError("path is outside the source root").
			WithContext("path", p).
			WithContext("source_root", m.root).
			Build()
	}
	return filepath.ToSlash(rel), nil
}

// IsNoMatch reports whether err is ErrNoMatchingRule.
func IsNoMatch(err error) bool {
	return errors.Is(err, ErrNoMatchingRule)
}

// Policy returns the configured overlap policy.
func (m *Matcher) Policy() config.RulePolicy {
	return m.policy
}

// Explain lists every rule that applies to p, regardless of policy.
func (m *Matcher) Explain(p string) ([]*Rule, error) {
	rel, err := m.Rel(p)
	if err != nil {
		return nil, err
	}
	var out []*Rule
	for _, r := range m.rules {
		if r.Applies(rel) {
			out = append(out, r)
		}
	}
	return out, nil
}
