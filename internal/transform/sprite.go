package transform

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/beevik/etree"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
)

const (
	defaultSpriteName = "img/sprite.svg"
	spriteHeader      = `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" style="position:absolute;width:0;height:0">`
	spriteFooter      = `</svg>`
)

// spriteTransform turns a standalone SVG into a <symbol> of a shared sprite.
// Referrers receive "<sprite>#<id>" instead of a file of their own.
func spriteTransform(_ context.Context, in Input) (*Result, error) {
	spriteName, err := optString(in.Options, "sprite", defaultSpriteName)
	if err != nil {
		return nil, err
	}
	prefix, err := optString(in.Options, "prefix", "")
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(in.Content); err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "svg" {
		return nil, fmt.Errorf("%s is not an svg document", in.Path)
	}

	id := prefix + symbolID(in.Path)
	symbol := etree.NewElement("symbol")
	symbol.CreateAttr("id", id)
	if vb := root.SelectAttrValue("viewBox", ""); vb != "" {
		symbol.CreateAttr("viewBox", vb)
	} else if w, h := root.SelectAttrValue("width", ""), root.SelectAttrValue("height", ""); w != "" && h != "" {
		symbol.CreateAttr("viewBox", "0 0 "+strings.TrimSuffix(w, "px")+" "+strings.TrimSuffix(h, "px"))
	}
	for _, child := range root.ChildElements() {
		symbol.AddChild(child.Copy())
	}

	out := etree.NewDocument()
	out.SetRoot(symbol)
	content, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize symbol: %w", err)
	}

	return &Result{
		Content: content,
		Kind:    asset.KindImage,
		Target:  spriteName + "#" + id,
		Artifacts: []asset.Artifact{{
			Name:    spriteName,
			Kind:    asset.KindImage,
			Content: content,
			Merge:   true,
			Header:  []byte(spriteHeader),
			Footer:  []byte(spriteFooter),
		}},
	}, nil
}

func symbolID(p string) string {
	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
