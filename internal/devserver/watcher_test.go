package devserver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/events"
)

func startWatcher(t *testing.T, root string, skip ...string) <-chan events.ChangeDetected {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	changes, unsub := events.Subscribe[events.ChangeDetected](bus, 8)
	t.Cleanup(unsub)

	w, err := NewWatcher(WatcherOptions{Roots: []string{root}, Skip: skip, Debounce: 50 * time.Millisecond, Bus: bus})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	go func() { _ = w.Run(t.Context()) }()
	return changes
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	for _, name := range []string{"a.js", "b.css", "a.js"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(name), 0o600))
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case ev := <-changes:
		assert.Equal(t, []string{filepath.Join(root, "a.js"), filepath.Join(root, "b.css")}, ev.Paths)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	select {
	case ev := <-changes:
		t.Fatalf("expected one event for the burst, got another: %v", ev.Paths)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	sub := filepath.Join(root, "components")
	require.NoError(t, os.Mkdir(sub, 0o750))
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mkdir event")
	}

	require.NoError(t, os.WriteFile(filepath.Join(sub, "button.js"), []byte("x"), 0o600))
	select {
	case ev := <-changes:
		assert.Contains(t, ev.Paths, filepath.Join(sub, "button.js"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for nested change")
	}
}

func TestWatcher_IgnoresSkippedAndTemporaryFiles(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "dist")
	require.NoError(t, os.Mkdir(out, 0o750))
	changes := startWatcher(t, root, out)

	require.NoError(t, os.WriteFile(filepath.Join(out, "app.js"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js~"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".app.js.swp"), []byte("x"), 0o600))

	select {
	case ev := <-changes:
		t.Fatalf("unexpected change event: %v", ev.Paths)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_Ignored(t *testing.T) {
	w := &Watcher{}
	for _, p := range []string{"/src/.git", "/src/a.js~", "/src/a.swp", "/src/#a.js#", "/src/4913", "/src/Thumbs.db"} {
		assert.True(t, w.ignored(p), p)
	}
	assert.False(t, w.ignored("/src/app.js"))
}

func TestNewWatcher_Validates(t *testing.T) {
	_, err := NewWatcher(WatcherOptions{Debounce: time.Second})
	require.Error(t, err)
	_, err = NewWatcher(WatcherOptions{Bus: events.NewBus()})
	require.Error(t, err)
}
