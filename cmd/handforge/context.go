package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"handforge/internal/config"
	"handforge/internal/logging"
	"handforge/internal/queue"
	"handforge/internal/scheduler"
	"handforge/internal/services/ffmpeg"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) openStore() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

func (c *commandContext) newLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

// schedulerSettings derives scheduler settings with the ffmpeg binary
// resolved to its discovered path, so a binary found in a common install
// location rather than on PATH still launches.
func (c *commandContext) schedulerSettings() (scheduler.Settings, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return scheduler.Settings{}, err
	}
	binary, err := ffmpeg.FindBinary(cfg.FFmpegBinary())
	if err != nil {
		return scheduler.Settings{}, err
	}
	settings := scheduler.SettingsFromConfig(cfg)
	settings.FFmpegBinary = binary
	return settings, nil
}

// acquireLock takes the single-instance lock. Only one process may run
// conversions against a state directory at a time.
func (c *commandContext) acquireLock() (*flock.Flock, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(cfg.Paths.StateDir, "handforge.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another handforge instance is already running against %s", cfg.Paths.StateDir)
	}
	return lock, nil
}
