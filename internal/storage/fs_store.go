package storage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

const blobExt = ".zst"

// FSStore keeps zstd-compressed blobs in a directory fanned out by the first
// two key characters:
//
//	<dir>/ab/cd1234....zst
//
// A blob's modification time is its last access time.
type FSStore struct {
	dir    string
	mu     sync.Mutex
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
	now    func() time.Time
}

// NewFSStore opens or creates a store in dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create cache directory").
			WithContext("path", dir).Build()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "create zstd encoder").Build()
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "create zstd decoder").Build()
	}
	return &FSStore{dir: dir, enc: enc, dec: dec, logger: slog.Default(), now: time.Now}, nil
}

// WithLogger sets the logger used for non-fatal maintenance failures.
func (s *FSStore) WithLogger(logger *slog.Logger) *FSStore {
	s.logger = logger
	return s
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.dir, key[:2], key[2:]+blobExt)
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validKey(key); err != nil {
		return err
	}
	p := s.path(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create cache directory").
			WithContext("path", filepath.Dir(p)).Build()
	}
	if err := writeFileAtomic(p, s.enc.EncodeAll(data, nil)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write cache entry").
			WithContext("key", key).Build()
	}
	return s.touch(p)
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if validKey(key) != nil {
		return nil, ErrNotFound.WithContext("key", key)
	}
	p := s.path(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	// #nosec G304 -- p is built from a validated hex key
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound.WithContext("key", key)
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read cache entry").
			WithContext("key", key).Build()
	}
	data, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "decompress cache entry").
			WithContext("key", key).Build()
	}
	if err := s.touch(p); err != nil {
		s.logger.Warn("Failed to refresh cache entry access time", logfields.Path(p), logfields.Error(err))
	}
	return data, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	if validKey(key) != nil {
		return ErrNotFound.WithContext("key", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(s.path(key), key)
}

// Prune removes entries last read or written before the cutoff.
func (s *FSStore) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), blobExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(before) {
			return nil
		}
		if err := s.remove(p, strings.TrimSuffix(d.Name(), blobExt)); err != nil && !IsNotFound(err) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// Close releases the zstd encoder and decoder.
func (s *FSStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

func (s *FSStore) touch(p string) error {
	now := s.now()
	return os.Chtimes(p, now, now)
}

func (s *FSStore) remove(p, key string) error {
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound.WithContext("key", key)
		}
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "delete cache entry").
			WithContext("key", key).Build()
	}
	// Fails while other entries share the directory.
	_ = os.Remove(filepath.Dir(p))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-")
	if err != nil {
		return err
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	if err := errors.Join(werr, tmp.Close()); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
