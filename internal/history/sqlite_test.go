package history

import (
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHistoryAppendAndGet(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	rec := Record{
		ID:           "b-1",
		StartedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:     1500 * time.Millisecond,
		Status:       StatusSuccess,
		Trigger:      TriggerCLI,
		Files:        4,
		Units:        9,
		CacheHits:    3,
		Signature:    "sig",
		SourceCommit: "abc123",
		ManifestHash: "mh",
	}
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	got, err := store.Get(ctx, "b-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}

	if _, err := store.Get(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := store.Append(ctx, rec); err == nil {
		t.Error("expected duplicate ID to fail")
	}
}

func TestHistoryRecentAndPrune(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		rec := Record{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour), Status: StatusFailed, Trigger: TriggerWatch, Error: "boom " + id}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("failed to append %s: %v", id, err)
		}
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Fatalf("unexpected recent builds: %+v", recent)
	}
	if recent[0].Error != "boom c" || recent[0].Trigger != TriggerWatch {
		t.Errorf("fields not round-tripped: %+v", recent[0])
	}

	removed, err := store.Prune(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 pruned, got %d", removed)
	}
	all, _ := store.Recent(ctx, 0)
	if len(all) != 1 || all[0].ID != "c" {
		t.Errorf("unexpected builds after prune: %+v", all)
	}
}

func TestHistoryPersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "history.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Append(t.Context(), Record{ID: "x", StartedAt: time.Now(), Status: StatusSuccess, Trigger: TriggerCLI}); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if _, err := reopened.Get(t.Context(), "x"); err != nil {
		t.Errorf("record lost after reopen: %v", err)
	}
}
