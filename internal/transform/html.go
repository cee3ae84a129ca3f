package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
)

var defaultHTMLAttrs = []string{"img:src", "img:srcset", "source:src", "source:srcset", "video:poster", "link:href"}

// htmlTransform discovers URL references in tag attributes (`tag:attr` pairs,
// "*" for any tag) and rewrites them to placeholders. Untouched tokens are
// copied byte for byte.
func htmlTransform(_ context.Context, in Input) (*Result, error) {
	attrs, err := optStrings(in.Options, "attrs", defaultHTMLAttrs)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, a := range attrs {
		tag, attr, ok := strings.Cut(a, ":")
		if !ok || attr == "" {
			continue
		}
		if tag == "" {
			tag = "*"
		}
		want[strings.ToLower(tag)+":"+strings.ToLower(attr)] = true
	}

	var (
		out  bytes.Buffer
		refs []asset.Ref
	)
	z := html.NewTokenizer(bytes.NewReader(in.Content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return nil, fmt.Errorf("tokenize html: %w", z.Err())
		}
		raw := append([]byte(nil), z.Raw()...)
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(raw)
			continue
		}
		tok := z.Token()
		changed := false
		for i, a := range tok.Attr {
			if !want[tok.Data+":"+a.Key] && !want["*:"+a.Key] {
				continue
			}
			if a.Key == "href" && tok.Data == "link" && !linkIsAsset(tok.Attr) {
				continue
			}
			rewritten, found := rewriteAttr(a.Key, a.Val)
			if len(found) == 0 {
				continue
			}
			for _, spec := range found {
				refs = append(refs, asset.Ref{Specifier: spec, Kind: asset.RefAsset})
			}
			tok.Attr[i].Val = rewritten
			changed = true
		}
		if changed {
			out.WriteString(tok.String())
		} else {
			out.Write(raw)
		}
	}
	return &Result{Content: out.Bytes(), Kind: asset.KindMarkup, Refs: refs}, nil
}

// rewriteAttr replaces local URLs in an attribute value. srcset values carry
// several comma separated candidates.
func rewriteAttr(key, val string) (string, []string) {
	if key != "srcset" {
		v := strings.TrimSpace(val)
		if isExternalURL(v) || asset.HasPlaceholders([]byte(v)) {
			return val, nil
		}
		return asset.Placeholder(v), []string{v}
	}
	var found []string
	parts := strings.Split(val, ",")
	for i, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 || isExternalURL(fields[0]) {
			continue
		}
		found = append(found, fields[0])
		fields[0] = asset.Placeholder(fields[0])
		parts[i] = strings.Join(fields, " ")
	}
	return strings.Join(parts, ", "), found
}

// linkIsAsset limits <link href> rewriting to stylesheets and icons.
func linkIsAsset(attrs []html.Attribute) bool {
	for _, a := range attrs {
		if a.Key != "rel" {
			continue
		}
		for _, rel := range strings.Fields(strings.ToLower(a.Val)) {
			switch rel {
			case "stylesheet", "icon", "apple-touch-icon", "manifest", "preload":
				return true
			}
		}
	}
	return false
}
