package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"

	"vellum/internal/pipeline"
	"vellum/internal/registry"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDirRegistersDescriptors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"),
		`{"url":"http://example.org/vs/a","version":"1.0.0","kind":"ValueSet","payload":{"concept":[{"code":"A1","display":"Alpha"}]}}`)
	writeFile(t, filepath.Join(dir, "b.json"),
		`{"url":"http://example.org/cs/b","version":"2.0.0","kind":"CodeSystem","payload":{}}`)

	reg := registry.New(nil)
	result, err := pipeline.LoadDir(reg, dir, nil)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if result.Loaded != 2 || result.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 registered resources, got %d", reg.Len())
	}
	res, ok := reg.Lookup("http://example.org/vs/a", "1.0.0")
	if !ok {
		t.Fatal("expected resource to be registered")
	}
	if res.Kind != "ValueSet" || len(res.Payload) == 0 {
		t.Fatalf("unexpected resource: %+v", res)
	}
}

func TestLoadDirSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.json"),
		`{"url":"http://example.org/vs/a","version":"1.0.0","kind":"ValueSet","payload":{}}`)
	writeFile(t, filepath.Join(dir, "broken.json"), `{not json`)
	writeFile(t, filepath.Join(dir, "missing-url.json"), `{"version":"1.0.0"}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	reg := registry.New(nil)
	result, err := pipeline.LoadDir(reg, dir, nil)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if result.Loaded != 1 {
		t.Fatalf("expected 1 loaded, got %d", result.Loaded)
	}
	if result.Skipped != 2 {
		t.Fatalf("expected 2 skipped, got %d", result.Skipped)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 registered resource, got %d", reg.Len())
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	reg := registry.New(nil)
	if _, err := pipeline.LoadDir(reg, filepath.Join(t.TempDir(), "absent"), nil); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
