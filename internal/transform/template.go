package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
)

const maxIncludeDepth = 16

// templateTransform renders the unit as an html/template. Templates see
//
//	.Globals  the side-loaded data document
//	.Page     {Path, Name} of the unit being rendered
//
// and may call include, asset, global, title, upper and lower.
func templateTransform(ctx context.Context, in Input) (*Result, error) {
	r := &templateRenderer{ctx: ctx, in: in}
	data := map[string]any{
		"Globals": in.Globals,
		"Page": map[string]any{
			"Path": in.Path,
			"Name": strings.TrimSuffix(path.Base(in.Path), path.Ext(in.Path)),
		},
	}
	out, err := r.render(in.Path, in.Content, data, 0)
	if err != nil {
		return nil, err
	}
	return &Result{Content: out, Kind: asset.KindMarkup, Refs: r.refs}, nil
}

type templateRenderer struct {
	ctx  context.Context
	in   Input
	refs []asset.Ref
}

func (r *templateRenderer) funcs(current string, depth int) template.FuncMap {
	title := cases.Title(language.Und)
	upper := cases.Upper(language.Und)
	lower := cases.Lower(language.Und)
	return template.FuncMap{
		"include": func(spec string, data ...any) (template.HTML, error) {
			return r.include(current, spec, data, depth)
		},
		"asset": func(spec string) template.URL {
			spec = rebase(current, r.in.Path, spec)
			r.refs = append(r.refs, asset.Ref{Specifier: spec, Kind: asset.RefAsset})
			return template.URL(asset.Placeholder(spec)) // #nosec G203 -- placeholder is replaced at emission
		},
		"global": func(key string) any { return lookupDotted(r.in.Globals, key) },
		"title":  title.String,
		"upper":  upper.String,
		"lower":  lower.String,
	}
}

func (r *templateRenderer) render(name string, content []byte, data any, depth int) ([]byte, error) {
	t, err := template.New(name).Funcs(r.funcs(name, depth)).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (r *templateRenderer) include(current, spec string, data []any, depth int) (template.HTML, error) {
	if depth >= maxIncludeDepth {
		return "", fmt.Errorf("include depth exceeded at %s (include cycle?)", spec)
	}
	if r.in.Load == nil {
		return "", errors.New("include is not available in this context")
	}
	resolved, content, err := r.in.Load(r.ctx, current, spec)
	if err != nil {
		return "", err
	}
	r.refs = append(r.refs, asset.Ref{Specifier: "/" + resolved, Kind: asset.RefInclude})

	var scope any
	if len(data) > 0 {
		scope = data[0]
	} else {
		scope = map[string]any{
			"Globals": r.in.Globals,
			"Page":    map[string]any{"Path": r.in.Path, "Name": strings.TrimSuffix(path.Base(r.in.Path), path.Ext(r.in.Path))},
		}
	}
	out, err := r.render(resolved, content, scope, depth+1)
	if err != nil {
		return "", err
	}
	return template.HTML(out), nil // #nosec G203 -- partials are trusted project sources
}

// rebase rewrites a ./ or ../ specifier written in an included partial so it
// resolves the same way from the including unit.
func rebase(current, unit, spec string) string {
	if current == unit || !(strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")) {
		return spec
	}
	return "/" + path.Join(path.Dir(current), spec)
}

// lookupDotted walks nested maps by a dotted key.
func lookupDotted(data map[string]any, key string) any {
	var cur any = data
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}
