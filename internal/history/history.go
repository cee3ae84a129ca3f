// Package history records finished builds in a SQLite database.
package history

import (
	"context"
	"time"
)

// Status is the outcome of a build.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Trigger names what started a build.
type Trigger string

const (
	TriggerCLI   Trigger = "cli"
	TriggerWatch Trigger = "watch"
	TriggerStart Trigger = "startup"
)

// Record describes one finished build.
type Record struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Status    Status        `json:"status"`
	Trigger   Trigger       `json:"trigger"`
	// Files is the number of output files.
	Files     int `json:"files"`
	Units     int `json:"units"`
	CacheHits int `json:"cache_hits"`
	// Signature is the build input signature hash.
	Signature    string `json:"signature,omitempty"`
	SourceCommit string `json:"source_commit,omitempty"`
	ManifestHash string `json:"manifest_hash,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Store persists build records.
type Store interface {
	// Append adds a finished build.
	Append(ctx context.Context, rec Record) error

	// Get retrieves one build by ID.
	Get(ctx context.Context, id string) (Record, error)

	// Recent returns up to limit builds, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Prune deletes builds started before the given time.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}
