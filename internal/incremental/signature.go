// Package incremental keeps the state that lets a build reuse work from
// earlier builds: cached transform results and build input signatures.
package incremental

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
)

// BuildSignature identifies the non-source inputs of a build. Two builds of
// the same source tree with equal signatures produce the same output.
type BuildSignature struct {
	ConfigHash    string            `json:"config_hash"`
	GlobalsDigest string            `json:"globals_digest,omitempty"`
	SourceCommit  string            `json:"source_commit,omitempty"`
	Entries       []string          `json:"entries"`
	Transforms    []string          `json:"transforms"`
	Version       string            `json:"version,omitempty"`
	BuildHash     string            `json:"build_hash"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ComputeBuildSignature computes a deterministic signature for a build.
// The signature includes:
// - the configuration sections that shape the output
// - entry names and the transform names the rules use (sorted)
// - the globals document digest, source commit and tool version
func ComputeBuildSignature(cfg *config.Config, globalsDigest, commit, version string) (*BuildSignature, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	configHash, err := computeConfigHash(cfg)
	if err != nil {
		return nil, err
	}

	entries := make([]string, 0, len(cfg.Entries))
	for name := range cfg.Entries {
		entries = append(entries, name)
	}
	sort.Strings(entries)

	seen := map[string]bool{}
	var transforms []string
	for _, r := range cfg.Rules {
		for _, u := range r.Use {
			if !seen[u.Name] {
				seen[u.Name] = true
				transforms = append(transforms, u.Name)
			}
		}
	}
	sort.Strings(transforms)

	sig := &BuildSignature{
		ConfigHash:    configHash,
		GlobalsDigest: globalsDigest,
		SourceCommit:  commit,
		Entries:       entries,
		Transforms:    transforms,
		Version:       version,
		Metadata:      make(map[string]string),
	}
	hash, err := computeSignatureHash(sig)
	if err != nil {
		return nil, err
	}
	sig.BuildHash = hash
	return sig, nil
}

// computeConfigHash hashes the configuration sections that affect output.
// Server, events, history and monitoring settings are left out.
func computeConfigHash(cfg *config.Config) (string, error) {
	data, err := json.Marshal(struct {
		Entries     map[string]string
		Resolve     config.ResolveConfig
		Rules       []config.RuleConfig
		RulePolicy  config.RulePolicy
		Provide     map[string]string
		Output      config.OutputConfig
		Static      []config.StaticConfig
		PostProcess []string
	}{
		Entries:     cfg.Entries,
		Resolve:     cfg.Resolve,
		Rules:       cfg.Rules,
		RulePolicy:  cfg.RulePolicy,
		Provide:     cfg.Provide,
		Output:      cfg.Output,
		Static:      cfg.Static,
		PostProcess: cfg.PostProcess,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// computeSignatureHash hashes every field except BuildHash and Metadata.
func computeSignatureHash(sig *BuildSignature) (string, error) {
	normalized := *sig
	normalized.BuildHash = ""
	normalized.Metadata = nil

	data, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signature: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// ToJSON serializes the signature to JSON.
func (s *BuildSignature) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON deserializes a signature from JSON.
func FromJSON(data []byte) (*BuildSignature, error) {
	var sig BuildSignature
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signature: %w", err)
	}
	return &sig, nil
}

// Equals checks if two signatures are equal (same BuildHash).
func (s *BuildSignature) Equals(other *BuildSignature) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.BuildHash == other.BuildHash
}
