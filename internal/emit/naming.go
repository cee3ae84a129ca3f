package emit

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

const hashLen = 8

// nameTokens are the values substituted into an output name template.
type nameTokens struct {
	Name string
	Ext  string
	Path string
	Hash string
}

// tokensFor derives the tokens of a source unit. context is stripped from the
// front of the unit's directory.
func tokensFor(unitPath, context string, content []byte) nameTokens {
	dir := path.Dir(unitPath)
	if dir == "." {
		dir = ""
	}
	if context = strings.Trim(context, "/"); context != "" {
		switch {
		case dir == context:
			dir = ""
		case strings.HasPrefix(dir, context+"/"):
			dir = strings.TrimPrefix(dir, context+"/")
		}
	}
	if dir != "" {
		dir += "/"
	}
	ext := path.Ext(unitPath)
	return nameTokens{
		Name: strings.TrimSuffix(path.Base(unitPath), ext),
		Ext:  strings.TrimPrefix(ext, "."),
		Path: dir,
		Hash: contentHash(content),
	}
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:hashLen]
}

// expandName substitutes tokens into template and checks that the result stays
// inside the output root.
func expandName(template string, t nameTokens) (string, error) {
	name := strings.NewReplacer(
		"[name]", t.Name,
		"[ext]", t.Ext,
		"[path]", t.Path,
		"[hash]", t.Hash,
	).Replace(template)
	return cleanOutputPath(name)
}

func cleanOutputPath(name string) (string, error) {
	if strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", ferrors.ValidationError("output name must be relative to the output root").
			WithContext("output", name).
			Build()
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ferrors.ValidationError("output name escapes the output root").
			WithContext("output", name).
			Build()
	}
	return cleaned, nil
}
