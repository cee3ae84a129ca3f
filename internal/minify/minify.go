// Package minify wraps tdewolff/minify with the media types the pipeline emits.
package minify

import (
	"errors"
	"mime"
	"path"
	"regexp"
	"strings"
	"sync"

	tdminify "github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
)

// Minifier minifies content by media type. It is safe for concurrent use.
type Minifier struct {
	m *tdminify.M
}

// New returns a minifier for CSS, HTML, JavaScript, JSON and SVG.
func New() *Minifier {
	m := tdminify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFunc("image/svg+xml", svg.Minify)
	m.AddFuncRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), js.Minify)
	m.AddFuncRegexp(regexp.MustCompile(`[/+]json$`), json.Minify)
	return &Minifier{m: m}
}

var (
	defaultOnce sync.Once
	defaultMin  *Minifier
)

// Default returns a shared minifier.
func Default() *Minifier {
	defaultOnce.Do(func() { defaultMin = New() })
	return defaultMin
}

var extMediaTypes = map[string]string{
	".js":   "text/javascript",
	".mjs":  "text/javascript",
	".css":  "text/css",
	".html": "text/html",
	".htm":  "text/html",
	".svg":  "image/svg+xml",
	".json": "application/json",
}

// MediaTypeFor returns the media type for a file name, or "" when unknown.
func MediaTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if mt, ok := extMediaTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		mt, _, _ = strings.Cut(mt, ";")
		return mt
	}
	return ""
}

// Bytes minifies b as mediaType. Content of a media type without a minifier is
// returned unchanged with ok false.
func (m *Minifier) Bytes(mediaType string, b []byte) (out []byte, ok bool, err error) {
	if mediaType == "" {
		return b, false, nil
	}
	out, err = m.m.Bytes(mediaType, b)
	if errors.Is(err, tdminify.ErrNotExist) {
		return b, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// File minifies b using the media type derived from name.
func (m *Minifier) File(name string, b []byte) ([]byte, bool, error) {
	return m.Bytes(MediaTypeFor(name), b)
}
