package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/morphogen/internal/scenario"
)

// Scenario returns the default scenario with edits applied in order.
// It fails the test if the result does not validate.
func Scenario(t testing.TB, edits ...func(*scenario.Scenario)) *scenario.Scenario {
	t.Helper()
	sc := scenario.Default()
	for _, edit := range edits {
		edit(&sc)
	}
	if err := sc.Validate(); err != nil {
		t.Fatalf("invalid test scenario: %v", err)
	}
	return &sc
}

// WriteFile writes content to name inside dir and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
