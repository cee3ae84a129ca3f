// Package storage keeps transform results between builds. Entries are
// addressed by the hex digest the incremental cache computes for a unit.
package storage

import (
	"context"
	"errors"
	"time"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// BlobStore holds opaque blobs by key. Get and Put refresh an entry's access
// time, which Prune compares against.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// ErrNotFound is returned by Get and Delete for unknown keys.
var ErrNotFound = ferrors.NotFoundError("cache entry not found").Build()

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// validKey accepts lowercase hex of at least three characters, so keys can
// be used as path components.
func validKey(key string) error {
	if len(key) < 3 {
		return ferrors.ValidationError("invalid cache key").WithContext("key", key).Build()
	}
	for _, r := range key {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ferrors.ValidationError("invalid cache key").WithContext("key", key).Build()
		}
	}
	return nil
}
