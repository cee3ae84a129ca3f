package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

const (
	keyA = "aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11"
	keyB = "bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFSStore_PutGetCompressed(t *testing.T) {
	store := newTestStore(t)
	data := bytes.Repeat([]byte("body { color: red; }\n"), 200)

	require.NoError(t, store.Put(t.Context(), keyA, data))

	info, err := os.Stat(store.path(keyA))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(data)), "entries are stored compressed")
	assert.Equal(t, filepath.Join(store.dir, "aa", keyA[2:]+".zst"), store.path(keyA))

	got, err := store.Get(t.Context(), keyA)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFSStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFSStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put(t.Context(), keyA, []byte("x")))
	require.NoError(t, first.Close())

	second, err := NewFSStore(dir)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	got, err := second.Get(t.Context(), keyA)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestFSStore_NotFoundAndDelete(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(t.Context(), keyA)
	assert.True(t, IsNotFound(err))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))

	require.NoError(t, store.Put(t.Context(), keyA, []byte("a")))
	require.NoError(t, store.Delete(t.Context(), keyA))
	assert.NoDirExists(t, filepath.Dir(store.path(keyA)), "empty fan-out directory is removed")
	assert.True(t, IsNotFound(store.Delete(t.Context(), keyA)))
}

func TestFSStore_RejectsUnsafeKeys(t *testing.T) {
	store := newTestStore(t)
	for _, key := range []string{"", "ab", "../etc/passwd", "ABCDEF", "abc/def"} {
		err := store.Put(t.Context(), key, []byte("x"))
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation), "key %q", key)
		_, err = store.Get(t.Context(), key)
		assert.True(t, IsNotFound(err), "key %q", key)
	}
}

func TestFSStore_CorruptEntry(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put(t.Context(), keyA, []byte("x")))
	require.NoError(t, os.WriteFile(store.path(keyA), []byte("not zstd"), 0o600))

	_, err := store.Get(t.Context(), keyA)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryStore))
}

func TestFSStore_PruneByAccessTime(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base }
	require.NoError(t, store.Put(t.Context(), keyA, []byte("old")))
	require.NoError(t, store.Put(t.Context(), keyB, []byte("new")))

	// Reading keyB later keeps it alive.
	store.now = func() time.Time { return base.Add(48 * time.Hour) }
	_, err := store.Get(t.Context(), keyB)
	require.NoError(t, err)

	removed, err := store.Prune(t.Context(), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(t.Context(), keyA)
	assert.True(t, IsNotFound(err))
	_, err = store.Get(t.Context(), keyB)
	assert.NoError(t, err)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	data := []byte("abc")
	require.NoError(t, m.Put(t.Context(), keyA, data))
	data[0] = 'z'
	got, err := m.Get(t.Context(), keyA)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got), "Put copies its input")

	got[0] = 'q'
	again, err := m.Get(t.Context(), keyA)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again), "Get returns a copy")

	require.Error(t, m.Put(t.Context(), "nothex", nil))

	m.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, m.Put(t.Context(), keyB, []byte("b")))
	removed, err := m.Prune(t.Context(), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(t.Context(), keyB))
	assert.True(t, IsNotFound(m.Delete(t.Context(), keyB)))
	assert.Equal(t, 0, m.Len())
}
