package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"BuildID", KeyBuildID, "b1", BuildID("b1")},
		{"Unit", KeyUnit, "js/main.js", Unit("js/main.js")},
		{"Kind", KeyKind, "script", Kind("script")},
		{"Stage", KeyStage, "style", Stage("style")},
		{"Rule", KeyRule, "scripts", Rule("scripts")},
		{"Entry", KeyEntry, "app", Entry("app")},
		{"Bundle", KeyBundle, "app", Bundle("app")},
		{"Output", KeyOutput, "js/app.js", Output("js/app.js")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"State", KeyState, "serving", State("serving")},
		{"Method", KeyMethod, "GET", Method("GET")},
		{"UserAgent", KeyUserAgent, "ua", UserAgent("ua")},
		{"RemoteAddr", KeyRemoteAddr, "1.2.3.4", RemoteAddr("1.2.3.4")},
	}
	for _, c := range cases {
		if c.attr.Key != c.attrKey {
			t.Fatalf("%s: key mismatch got %s want %s", c.name, c.attr.Key, c.attrKey)
		}
		if c.attr.Value.String() != c.attrVal {
			t.Fatalf("%s: value mismatch got %s want %s", c.name, c.attr.Value.String(), c.attrVal)
		}
	}
}

func TestNumericHelpers(t *testing.T) {
	if a := Count(3); a.Key != KeyCount || a.Value.Int64() != 3 {
		t.Fatalf("unexpected count attr %v", a)
	}
	if a := Status(404); a.Value.Int64() != 404 {
		t.Fatalf("unexpected status attr %v", a)
	}
	if a := DurationMS(1.5); a.Value.Float64() != 1.5 {
		t.Fatalf("unexpected duration attr %v", a)
	}
}

func TestErrorHelper(t *testing.T) {
	if a := Error(nil); a.Value.String() != "" {
		t.Fatalf("nil error should produce empty value, got %q", a.Value.String())
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Fatalf("unexpected error value %q", a.Value.String())
	}
}
