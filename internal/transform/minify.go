package transform

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/minify"
)

var kindMediaTypes = map[asset.Kind]string{
	asset.KindScript: "text/javascript",
	asset.KindStyle:  "text/css",
	asset.KindMarkup: "text/html",
}

// minifyTransform minifies the current content by media type. The "type"
// option overrides the type derived from the unit.
func minifyTransform(m *minify.Minifier) Transform {
	return Func(func(_ context.Context, in Input) (*Result, error) {
		mediaType, err := optString(in.Options, "type", "")
		if err != nil {
			return nil, err
		}
		if mediaType == "" {
			mediaType = minify.MediaTypeFor(in.Path)
			if mt, ok := kindMediaTypes[in.Kind]; ok {
				mediaType = mt
			}
		}
		out, _, err := m.Bytes(mediaType, in.Content)
		if err != nil {
			return nil, fmt.Errorf("minify %s: %w", mediaType, err)
		}
		return &Result{Content: out}, nil
	})
}
