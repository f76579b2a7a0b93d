package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidatesAfterNormalize(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !filepath.IsAbs(cfg.Paths.StateDir) {
		t.Fatalf("state dir not expanded: %q", cfg.Paths.StateDir)
	}
	if cfg.TermCache.Path != filepath.Join(cfg.Paths.StateDir, "txcache.json") {
		t.Fatalf("termcache path default wrong: %q", cfg.TermCache.Path)
	}
	if cfg.BulkLoad.DBPath != filepath.Join(cfg.Paths.StateDir, "sink.db") {
		t.Fatalf("sink db path default wrong: %q", cfg.BulkLoad.DBPath)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := strings.Join([]string{
		"[paths]",
		`state_dir = "` + filepath.Join(dir, "state") + `"`,
		`log_dir = "` + filepath.Join(dir, "logs") + `"`,
		"",
		"[terminology_cache]",
		"flush_interval_seconds = 2",
		"",
		"[bulk_load]",
		"batch_threshold = 100",
		"",
		"[pipeline]",
		"workers = 8",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.TermCache.FlushIntervalSeconds != 2 {
		t.Fatalf("flush interval = %d, want 2", cfg.TermCache.FlushIntervalSeconds)
	}
	if cfg.BulkLoad.BatchThreshold != 100 {
		t.Fatalf("batch threshold = %d, want 100", cfg.BulkLoad.BatchThreshold)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Fatalf("workers = %d, want 8", cfg.Pipeline.Workers)
	}
	// Unset sections keep defaults.
	if cfg.Derived.ContextCapacity != defaultContextCapacity {
		t.Fatalf("context capacity = %d, want default", cfg.Derived.ContextCapacity)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero flush interval", func(c *Config) { c.TermCache.FlushIntervalSeconds = 0 }},
		{"zero retry budget", func(c *Config) { c.TermCache.FlushRetryBudget = 0 }},
		{"zero batch threshold", func(c *Config) { c.BulkLoad.BatchThreshold = 0 }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"too many workers", func(c *Config) { c.Pipeline.Workers = 1000 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			if err := cfg.normalize(); err != nil {
				t.Fatalf("normalize: %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSampleConfigEmbedded(t *testing.T) {
	if !strings.Contains(SampleConfig(), "[terminology_cache]") {
		t.Fatal("sample config missing terminology_cache section")
	}
}
