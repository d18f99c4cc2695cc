package version

import "testing"

func TestString(t *testing.T) {
	Version, GitSHA, BuildTime = "v1.2.3", "abc123", "2026-01-01"
	t.Cleanup(func() { Version, GitSHA, BuildTime = "dev", "unknown", "unknown" })

	want := "spike-relay v1.2.3 (abc123, built 2026-01-01)"
	if got := String("spike-relay"); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
