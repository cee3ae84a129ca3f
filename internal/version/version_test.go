package version

import "testing"

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if BuildTime == "" {
		t.Error("BuildTime should be initialized")
	}
}

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version, GitCommit = "v1.2.0", "unknown"
	if got := String(); got != "v1.2.0" {
		t.Errorf("String() = %q", got)
	}
	GitCommit = "abc1234"
	if got := String(); got != "v1.2.0 (abc1234)" {
		t.Errorf("String() = %q", got)
	}
}
