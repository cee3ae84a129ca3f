// Package manifest records what a build produced: which files make up each
// logical bundle, where every reachable source unit ended up, and the size
// and digest of every output file.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Placement records how one source unit was emitted.
type Placement struct {
	// Outputs are the output files carrying the unit's content.
	Outputs []string `json:"outputs,omitempty"`
	// Bundles are the entry bundles the unit was bundled into.
	Bundles []string `json:"bundles,omitempty"`
	// Inlined units were embedded into their referrers.
	Inlined  bool `json:"inlined,omitempty"`
	Excluded bool `json:"excluded,omitempty"`
	Failed   bool `json:"failed,omitempty"`
}

// FileInfo describes one output file.
type FileInfo struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is the output manifest of a build. Maps are encoded with sorted
// keys, so identical builds produce byte-identical documents.
type Manifest struct {
	// Bundles maps logical bundle names to their output paths.
	Bundles map[string][]string `json:"bundles"`
	// Units maps every reachable source unit to its placement.
	Units map[string]Placement `json:"units"`
	Files map[string]FileInfo  `json:"files"`
	// SourceCommit is the HEAD commit of the source tree, when it is a git repository.
	SourceCommit string `json:"source_commit,omitempty"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Bundles: map[string][]string{},
		Units:   map[string]Placement{},
		Files:   map[string]FileInfo{},
	}
}

// AddBundleFile records path as part of bundle.
func (m *Manifest) AddBundleFile(bundle, path string) {
	m.Bundles[bundle] = insertSorted(m.Bundles[bundle], path)
}

// RemoveFile drops path from the file table and every bundle.
func (m *Manifest) RemoveFile(path string) {
	delete(m.Files, path)
	for name, files := range m.Bundles {
		kept := files[:0]
		for _, f := range files {
			if f != path {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(m.Bundles, name)
			continue
		}
		m.Bundles[name] = kept
	}
	for unit, p := range m.Units {
		kept := p.Outputs[:0]
		for _, o := range p.Outputs {
			if o != path {
				kept = append(kept, o)
			}
		}
		p.Outputs = kept
		m.Units[unit] = p
	}
}

// Place merges placement information for unit.
func (m *Manifest) Place(unit string, p Placement) {
	cur := m.Units[unit]
	for _, o := range p.Outputs {
		cur.Outputs = insertSorted(cur.Outputs, o)
	}
	for _, b := range p.Bundles {
		cur.Bundles = insertSorted(cur.Bundles, b)
	}
	cur.Inlined = cur.Inlined || p.Inlined
	cur.Excluded = cur.Excluded || p.Excluded
	cur.Failed = cur.Failed || p.Failed
	m.Units[unit] = cur
}

// SetFile records size and digest of an output file.
func (m *Manifest) SetFile(path string, content []byte) {
	sum := sha256.Sum256(content)
	m.Files[path] = FileInfo{Size: int64(len(content)), SHA256: hex.EncodeToString(sum[:])}
}

// Paths returns the recorded output paths in sorted order.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Files))
	for p := range m.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every path a bundle or placement names is a recorded file.
func (m *Manifest) Validate() error {
	for name, files := range m.Bundles {
		for _, f := range files {
			if _, ok := m.Files[f]; !ok {
				return fmt.Errorf("bundle %q names unknown file %q", name, f)
			}
		}
	}
	for unit, p := range m.Units {
		for _, f := range p.Outputs {
			if _, ok := m.Files[f]; !ok {
				return fmt.Errorf("unit %q placed in unknown file %q", unit, f)
			}
		}
	}
	return nil
}

// ToJSON serializes the manifest to indented JSON with a trailing newline.
func (m *Manifest) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// FromJSON deserializes a manifest from JSON.
func FromJSON(data []byte) (*Manifest, error) {
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// Load reads a manifest file written by a previous build.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the configured manifest location
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return FromJSON(data)
}

// Hash computes a digest over the manifest's bundles and files, identifying a
// build's output independent of where it was published.
func (m *Manifest) Hash() (string, error) {
	hashInput := struct {
		Bundles map[string][]string `json:"bundles"`
		Files   map[string]FileInfo `json:"files"`
	}{Bundles: m.Bundles, Files: m.Files}

	data, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal for hash: %w", err)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash), nil
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
