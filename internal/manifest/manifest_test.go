package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func sample() *Manifest {
	m := New()
	m.SetFile("js/app.js", []byte("app"))
	m.SetFile("css/app.css", []byte("body{}"))
	m.SetFile("img/bg.png", []byte("png"))
	m.AddBundleFile("app", "js/app.js")
	m.AddBundleFile("app", "css/app.css")
	m.Place("js/main.js", Placement{Outputs: []string{"js/app.js"}, Bundles: []string{"app"}})
	m.Place("css/main.css", Placement{Outputs: []string{"css/app.css"}, Bundles: []string{"app"}})
	m.Place("img/bg.png", Placement{Outputs: []string{"img/bg.png"}})
	m.Place("img/icon.png", Placement{Inlined: true})
	m.SourceCommit = "abc123"
	return m
}

func TestManifestSerialization(t *testing.T) {
	m := sample()

	data, err := m.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	restored, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if got := restored.Bundles["app"]; len(got) != 2 || got[0] != "css/app.css" || got[1] != "js/app.js" {
		t.Errorf("expected sorted bundle files, got %v", got)
	}
	if !restored.Units["img/icon.png"].Inlined {
		t.Error("expected inlined placement to survive a round trip")
	}
	if restored.SourceCommit != "abc123" {
		t.Errorf("expected source commit abc123, got %q", restored.SourceCommit)
	}
	if err := restored.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestManifestDeterministic(t *testing.T) {
	// Same content recorded in a different order encodes identically.
	a := sample()
	b := New()
	b.Place("img/icon.png", Placement{Inlined: true})
	b.Place("img/bg.png", Placement{Outputs: []string{"img/bg.png"}})
	b.Place("css/main.css", Placement{Bundles: []string{"app"}, Outputs: []string{"css/app.css"}})
	b.Place("js/main.js", Placement{Bundles: []string{"app"}, Outputs: []string{"js/app.js"}})
	b.AddBundleFile("app", "css/app.css")
	b.AddBundleFile("app", "js/app.js")
	b.SetFile("img/bg.png", []byte("png"))
	b.SetFile("css/app.css", []byte("body{}"))
	b.SetFile("js/app.js", []byte("app"))
	b.SourceCommit = "abc123"

	ja, _ := a.ToJSON()
	jb, _ := b.ToJSON()
	if !bytes.Equal(ja, jb) {
		t.Errorf("expected identical encodings:\n%s\n%s", ja, jb)
	}
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	if ha != hb {
		t.Error("expected equal hashes")
	}
}

func TestManifestRemoveFile(t *testing.T) {
	m := sample()
	m.RemoveFile("js/app.js")
	if _, ok := m.Files["js/app.js"]; ok {
		t.Error("file still recorded")
	}
	if got := m.Bundles["app"]; len(got) != 1 || got[0] != "css/app.css" {
		t.Errorf("expected bundle to keep only the style file, got %v", got)
	}
	if len(m.Units["js/main.js"].Outputs) != 0 {
		t.Errorf("expected placement outputs to drop the removed file, got %v", m.Units["js/main.js"].Outputs)
	}
	m.RemoveFile("css/app.css")
	if _, ok := m.Bundles["app"]; ok {
		t.Error("expected empty bundle to be dropped")
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestManifestValidate(t *testing.T) {
	m := sample()
	delete(m.Files, "img/bg.png")
	if err := m.Validate(); err == nil {
		t.Error("expected an error for a placement naming a missing file")
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "manifest.json")
	data, _ := sample().ToJSON()
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Files["img/bg.png"].Size != 3 {
		t.Errorf("expected size 3, got %d", m.Files["img/bg.png"].Size)
	}
}
