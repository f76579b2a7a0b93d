// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"vellum/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SourceDir = filepath.Join(base, "resources")
	cfgVal.TermCache.Path = filepath.Join(base, "state", "txcache.json")
	cfgVal.BulkLoad.DBPath = filepath.Join(base, "state", "sink.db")
	cfgVal.Pipeline.Workers = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithFlushInterval overrides the terminology cache flush cadence in seconds.
func WithFlushInterval(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.TermCache.FlushIntervalSeconds = seconds
	}
}

// WithBatchThreshold overrides the bulk loader batch threshold.
func WithBatchThreshold(threshold int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.BulkLoad.BatchThreshold = threshold
	}
}

// WithWorkers overrides the pipeline worker count.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = workers
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
