package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"handforge/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Conversion.MaxParallel != 2 {
		t.Fatalf("expected default max_parallel 2, got %d", cfg.Conversion.MaxParallel)
	}
	if !cfg.Retry.AutoEnabled {
		t.Fatal("expected auto retry enabled by default")
	}
	if len(cfg.Retry.Patterns) == 0 {
		t.Fatal("expected default retry patterns")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Progress.EWMAAlpha != 0.3 {
		t.Fatalf("expected default alpha, got %v", cfg.Progress.EWMAAlpha)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
state_dir = "` + filepath.Join(dir, "state") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[conversion]
max_parallel = 4
on_exists = "Rename"

[conversion.codec_caps]
FLAC = 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Conversion.MaxParallel != 4 {
		t.Fatalf("expected max_parallel 4, got %d", cfg.Conversion.MaxParallel)
	}
	if cfg.Conversion.OnExists != "rename" {
		t.Fatalf("expected normalized on_exists, got %q", cfg.Conversion.OnExists)
	}
	if cfg.Conversion.CodecCaps["flac"] != 1 {
		t.Fatalf("expected normalized codec cap key, got %v", cfg.Conversion.CodecCaps)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"parallel too high", func(c *config.Config) { c.Conversion.MaxParallel = 64 }, "max_parallel"},
		{"parallel zero", func(c *config.Config) { c.Conversion.MaxParallel = 0 }, "max_parallel"},
		{"alpha too low", func(c *config.Config) { c.Progress.EWMAAlpha = 0.01 }, "ewma_alpha"},
		{"alpha too high", func(c *config.Config) { c.Progress.EWMAAlpha = 0.95 }, "ewma_alpha"},
		{"bad on_exists", func(c *config.Config) { c.Conversion.OnExists = "prompt" }, "on_exists"},
		{"bad mode", func(c *config.Config) { c.Conversion.DefaultMode = "abr" }, "default_mode"},
		{"zero cap", func(c *config.Config) { c.Conversion.CodecCaps = map[string]int{"mp3": 0} }, "codec_caps"},
		{"zero attempts", func(c *config.Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"zero grace", func(c *config.Config) { c.Workflow.StopGraceSeconds = 0 }, "stop_grace"},
		{"watch without dir", func(c *config.Config) { c.Watch.Enabled = true; c.Watch.Dir = "" }, "watch.dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[conversion]") {
		t.Fatal("sample config missing conversion section")
	}
}
