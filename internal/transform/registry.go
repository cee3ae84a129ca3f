package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"git.home.luguber.info/inful/assetbuilder/internal/minify"
)

// Settings carries project-wide values built-in transforms fall back to.
type Settings struct {
	// Provide maps free identifiers to the module that defines them.
	Provide map[string]string
	// InlineLimit is used by the url transform when it has no limit option.
	InlineLimit int64
	// AssetName is the default name template of the file and url transforms.
	AssetName string
	// Minifier is shared by the minify transform. Nil selects minify.Default().
	Minifier *minify.Minifier
}

// Digest identifies the settings that change transform output. Encoding
// sorts map keys, so equal settings give equal digests.
func (s Settings) Digest() string {
	data, _ := json.Marshal(struct {
		Provide     map[string]string `json:"provide,omitempty"`
		InlineLimit int64             `json:"inline_limit"`
		AssetName   string            `json:"asset_name"`
	}{s.Provide, s.InlineLimit, s.AssetName})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Registry maps transform names to implementations. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transforms  map[string]Transform
	fingerprint string
}

// NewRegistry returns a registry without any transforms.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transform)}
}

// NewBuiltinRegistry returns a registry holding every built-in transform.
func NewBuiltinRegistry(s Settings) *Registry {
	if s.Minifier == nil {
		s.Minifier = minify.Default()
	}
	r := NewRegistry()
	r.fingerprint = s.Digest()
	r.MustRegister("script", Func(scriptTransform))
	r.MustRegister("provide", provideTransform(s.Provide))
	r.MustRegister("style", Func(styleTransform))
	r.MustRegister("extract", Func(extractTransform))
	r.MustRegister("url", urlTransform(s.InlineLimit, s.AssetName))
	r.MustRegister("file", fileTransform(s.AssetName))
	r.MustRegister("template", Func(templateTransform))
	r.MustRegister("markdown", Func(markdownTransform))
	r.MustRegister("html", Func(htmlTransform))
	r.MustRegister("svg-sprite", Func(spriteTransform))
	r.MustRegister("minify", minifyTransform(s.Minifier))
	r.MustRegister("ignore", Func(ignoreTransform))
	return r
}

// Register adds a transform. Names are unique.
func (r *Registry) Register(name string, t Transform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transforms[name]; exists {
		return fmt.Errorf("transform %q already registered", name)
	}
	r.transforms[name] = t
	return nil
}

// MustRegister is Register that panics on duplicates.
func (r *Registry) MustRegister(name string, t Transform) {
	if err := r.Register(name, t); err != nil {
		panic(err)
	}
}

// Fingerprint is the Settings digest of a built-in registry and empty for
// registries from NewRegistry. Cached results are only valid for the
// fingerprint they were produced under.
func (r *Registry) Fingerprint() string { return r.fingerprint }

// Lookup returns the transform registered under name.
func (r *Registry) Lookup(name string) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.transforms))
	for n := range r.transforms {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
