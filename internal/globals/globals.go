// Package globals loads the side-loaded global data document that markup
// transforms receive as shared template variables.
//
// The document is read once per build and handed to every transform as a
// read-only value, so editing it takes effect on the next rebuild.
package globals

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Document is one read of the global data file.
type Document struct {
	Path string
	Data map[string]any
	// Digest identifies the raw bytes; it changes whenever the file does.
	Digest string
}

// Empty is the document used when no globals file is configured.
func Empty() *Document {
	return &Document{Data: map[string]any{}}
}

// Load reads and decodes the document at path by its extension: .json,
// .yaml/.yml or .toml. An empty path yields Empty().
func Load(path string) (*Document, error) {
	if path == "" {
		return Empty(), nil
	}
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ferrors.NotFoundError("globals document not found").
				WithContext("path", path).
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read globals document").
			WithContext("path", path).
			Build()
	}
	data, err := Decode(filepath.Ext(path), raw)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid globals document").
			WithContext("path", path).
			Build()
	}
	sum := sha256.Sum256(raw)
	return &Document{Path: path, Data: data, Digest: hex.EncodeToString(sum[:])}, nil
}

// Decode parses raw according to ext. The top level must be a mapping.
func Decode(ext string, raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return data, nil
	}
	var err error
	switch strings.ToLower(ext) {
	case ".json":
		err = json.Unmarshal(raw, &data)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &data)
	case ".toml":
		err = toml.Unmarshal(raw, &data)
	default:
		return nil, ferrors.ValidationError("unsupported globals format").
			WithContext("extension", ext).
			Build()
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
