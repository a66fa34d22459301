package testsupport

import (
	"path/filepath"
	"testing"

	"handforge/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.OutputDir = filepath.Join(base, "output")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxParallel overrides the worker count on the test config.
func WithMaxParallel(n int) ConfigOption {
	return func(c *config.Config) {
		c.Conversion.MaxParallel = n
	}
}

// WithCodecCaps sets per-format concurrency caps on the test config.
func WithCodecCaps(caps map[string]int) ConfigOption {
	return func(c *config.Config) {
		c.Conversion.CodecCaps = caps
	}
}
