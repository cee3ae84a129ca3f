package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/inful/mdfp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
)

// errMissingClosingDelimiter is returned for a document that opens a front
// matter block without closing it.
var errMissingClosingDelimiter = errors.New("front matter start delimiter found but closing delimiter is missing")

// markdownTransform renders Markdown to an HTML fragment. YAML front matter is
// parsed off the body and exposed as Meta together with a content fingerprint.
func markdownTransform(_ context.Context, in Input) (*Result, error) {
	unsafe, err := optBool(in.Options, "unsafe", false)
	if err != nil {
		return nil, err
	}

	fm, body, err := splitFrontMatter(in.Content)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if len(fm) > 0 {
		if err := yaml.Unmarshal(fm, &fields); err != nil {
			return nil, fmt.Errorf("parse front matter: %w", err)
		}
	}

	rendererOpts := []goldmark.Option{goldmark.WithExtensions(extension.GFM)}
	if unsafe {
		rendererOpts = append(rendererOpts, goldmark.WithRendererOptions(html.WithUnsafe()))
	}
	var out bytes.Buffer
	if err := goldmark.New(rendererOpts...).Convert(body, &out); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	meta := map[string]string{mdfp.FingerprintField: fingerprint(fields, body)}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := fields[k].(string); ok {
			meta[k] = s
		}
	}

	return &Result{Content: out.Bytes(), Kind: asset.KindMarkup, Meta: meta}, nil
}

// splitFrontMatter separates a leading `---` delimited YAML block from the body.
func splitFrontMatter(content []byte) (frontMatter, body []byte, err error) {
	nl := []byte("\n")
	if bytes.Contains(content, []byte("\r\n")) {
		nl = []byte("\r\n")
	}
	open := append([]byte("---"), nl...)
	if !bytes.HasPrefix(content, open) {
		return nil, content, nil
	}
	rest := content[len(open):]
	if bytes.HasPrefix(rest, open) {
		return nil, rest[len(open):], nil
	}
	closing := append(append([]byte{}, nl...), open...)
	idx := bytes.Index(rest, closing)
	if idx < 0 {
		return nil, nil, errMissingClosingDelimiter
	}
	return rest[:idx+len(nl)], rest[idx+len(closing):], nil
}

// fingerprint hashes the front matter (minus volatile keys) and body.
func fingerprint(fields map[string]any, body []byte) string {
	stable := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case mdfp.FingerprintField, "lastmod", "uid", "aliases":
			continue
		}
		stable[k] = v
	}
	serialized := ""
	if len(stable) > 0 {
		if b, err := yaml.Marshal(stable); err == nil {
			serialized = string(bytes.TrimSuffix(b, []byte("\n")))
		}
	}
	return mdfp.CalculateFingerprintFromParts(serialized, string(body))
}
