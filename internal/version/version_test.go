package version

import (
	"strings"
	"testing"
)

func TestStringUsesProvidedValues(t *testing.T) {
	if got, want := String("v0.3.0", "abc123", "2026-01-01T00:00:00Z"), "v0.3.0 (abc123) 2026-01-01T00:00:00Z"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStringOmitsUnknownFields(t *testing.T) {
	got := String("v0.3.0", "unknown", "")
	if !strings.HasPrefix(got, "v0.3.0") || strings.Contains(got, "unknown") {
		t.Fatalf("unexpected version string %q", got)
	}
}
