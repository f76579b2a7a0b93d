package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// WriteResource writes a resource descriptor JSON file into dir, returning
// the file path. Payload may be nil for resources without content.
func WriteResource(t testing.TB, dir, name, url, version, kind string, payload any) string {
	t.Helper()

	descriptor := map[string]any{
		"url":     url,
		"version": version,
		"kind":    kind,
	}
	if payload != nil {
		descriptor["payload"] = payload
	}
	data, err := json.Marshal(descriptor)
	if err != nil {
		t.Fatalf("marshal resource descriptor: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
