package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	cmd := newConfigInitCommand()
	cmd.SetArgs([]string{"--path", target})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(content), "[terminology_cache]") {
		t.Fatalf("expected sample config sections, got %q", content)
	}
	if !strings.Contains(out.String(), target) {
		t.Fatalf("expected confirmation mentioning %s, got %q", target, out.String())
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(target, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newConfigInitCommand()
	cmd.SetArgs([]string{"--path", target})
	cmd.SetOut(new(bytes.Buffer))

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without --overwrite")
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable("Totals", []string{"Table", "Rows"}, [][]string{
		{"expansions", "12"},
		{"properties", "3"},
	}, 1)

	if !strings.Contains(out, "Totals") {
		t.Fatalf("expected title in output:\n%s", out)
	}
	if !strings.Contains(out, "expansions") || !strings.Contains(out, "12") {
		t.Fatalf("expected row content in output:\n%s", out)
	}
}
