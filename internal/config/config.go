package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	OutputDir string `toml:"output_dir"`
}

// Conversion contains encoding defaults and concurrency limits.
type Conversion struct {
	MaxParallel       int            `toml:"max_parallel"`
	CodecCaps         map[string]int `toml:"codec_caps"`
	ThreadsPerJob     int            `toml:"threads_per_job"`
	OnExists          string         `toml:"on_exists"`
	DefaultFormat     string         `toml:"default_format"`
	DefaultMode       string         `toml:"default_mode"`
	DefaultBitrate    int            `toml:"default_bitrate"`
	NormalizeLoudness bool           `toml:"normalize_loudness"`
	TargetLUFS        float64        `toml:"target_lufs"`
	DeleteOriginal    bool           `toml:"delete_original"`
}

// Progress contains progress estimation tuning.
type Progress struct {
	EWMAAlpha float64 `toml:"ewma_alpha"`
}

// Retry contains auto-retry behavior for failed conversions.
type Retry struct {
	AutoEnabled bool     `toml:"auto_enabled"`
	Patterns    []string `toml:"patterns"`
	MaxAttempts int      `toml:"max_attempts"`
}

// Workflow contains orchestrator timing values.
type Workflow struct {
	StopGraceSeconds    int `toml:"stop_grace_seconds"`
	DispatchPollSeconds int `toml:"dispatch_poll_seconds"`
}

// Watch contains watch-folder ingestion settings.
type Watch struct {
	Enabled       bool   `toml:"enabled"`
	Dir           string `toml:"dir"`
	SettleSeconds int    `toml:"settle_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for HandForge.
//
// Configuration sections by subsystem:
//   - Paths: state, log, and default output directories
//   - Conversion: parallelism, per-codec caps, encoding defaults
//   - Progress: EWMA smoothing factor for progress estimation
//   - Retry: auto-retry rule patterns and the attempt ceiling
//   - Workflow: stop grace period and dispatch polling
//   - Watch: watch-folder ingestion
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Conversion Conversion `toml:"conversion"`
	Progress   Progress   `toml:"progress"`
	Retry      Retry      `toml:"retry"`
	Workflow   Workflow   `toml:"workflow"`
	Watch      Watch      `toml:"watch"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/handforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("handforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for orchestrator operation.
// OutputDir is created on a best-effort basis so batch runs can target
// directories on storage that is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		_ = os.MkdirAll(c.Paths.OutputDir, 0o755)
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func (c *Config) normalize() error {
	fields := []*string{&c.Paths.StateDir, &c.Paths.LogDir, &c.Paths.OutputDir, &c.Watch.Dir}
	for _, field := range fields {
		if strings.TrimSpace(*field) == "" {
			*field = ""
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Conversion.OnExists = strings.ToLower(strings.TrimSpace(c.Conversion.OnExists))
	c.Conversion.DefaultFormat = strings.ToLower(strings.TrimSpace(c.Conversion.DefaultFormat))
	c.Conversion.DefaultMode = strings.ToLower(strings.TrimSpace(c.Conversion.DefaultMode))
	normalizedCaps := make(map[string]int, len(c.Conversion.CodecCaps))
	for codec, cap := range c.Conversion.CodecCaps {
		normalizedCaps[strings.ToLower(strings.TrimSpace(codec))] = cap
	}
	c.Conversion.CodecCaps = normalizedCaps
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
