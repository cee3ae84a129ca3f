package devserver

import (
	"path"
	"strings"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

// Snapshot is one successful build as served to clients. It is immutable
// once published.
type Snapshot struct {
	BuildID      string
	ManifestHash string
	BuiltAt      time.Time
	files        map[string][]byte
	manifest     *manifest.Manifest
}

func newSnapshot(r *pipeline.Report) *Snapshot {
	s := &Snapshot{
		BuildID:      r.BuildID,
		ManifestHash: r.ManifestHash,
		BuiltAt:      r.StartedAt.Add(r.Duration),
		files:        map[string][]byte{},
		manifest:     manifest.New(),
	}
	if r.Output != nil {
		for p, f := range r.Output.Files {
			s.files[p] = f.Content
		}
		s.manifest = r.Output.Manifest
	}
	return s
}

// Len returns the number of files in the snapshot.
func (s *Snapshot) Len() int { return len(s.files) }

// Manifest returns the output manifest of the build.
func (s *Snapshot) Manifest() *manifest.Manifest { return s.manifest }

// Lookup finds the file served for a request path. Directory paths fall
// back to their index.html.
func (s *Snapshot) Lookup(urlPath string) (name string, content []byte, ok bool) {
	p := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	candidates := []string{p}
	if p == "" || strings.HasSuffix(urlPath, "/") {
		candidates = []string{path.Join(p, "index.html")}
	} else if path.Ext(p) == "" {
		candidates = append(candidates, path.Join(p, "index.html"), p+".html")
	}
	for _, c := range candidates {
		if b, found := s.files[c]; found {
			return c, b, true
		}
	}
	return "", nil, false
}

// ETag returns the entity tag of an output file.
func (s *Snapshot) ETag(name string) string {
	if s.manifest == nil {
		return ""
	}
	fi, ok := s.manifest.Files[name]
	if !ok || len(fi.SHA256) < 16 {
		return ""
	}
	return `"` + fi.SHA256[:16] + `"`
}
