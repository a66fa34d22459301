package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxParallelLimit is the highest supported worker count.
	MaxParallelLimit = 32

	// MinEWMAAlpha and MaxEWMAAlpha bound the progress smoothing factor.
	MinEWMAAlpha = 0.05
	MaxEWMAAlpha = 0.9
)

var validOnExists = map[string]struct{}{
	"overwrite": {},
	"skip":      {},
	"rename":    {},
}

var validModes = map[string]struct{}{
	"cbr":      {},
	"vbr":      {},
	"lossless": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateConversion() error {
	if c.Conversion.MaxParallel < 1 || c.Conversion.MaxParallel > MaxParallelLimit {
		return fmt.Errorf("conversion.max_parallel must be between 1 and %d", MaxParallelLimit)
	}
	if c.Conversion.ThreadsPerJob < 1 {
		return errors.New("conversion.threads_per_job must be positive")
	}
	if _, ok := validOnExists[c.Conversion.OnExists]; !ok {
		return fmt.Errorf("conversion.on_exists must be one of overwrite, skip, rename (got %q)", c.Conversion.OnExists)
	}
	if _, ok := validModes[c.Conversion.DefaultMode]; !ok {
		return fmt.Errorf("conversion.default_mode must be one of cbr, vbr, lossless (got %q)", c.Conversion.DefaultMode)
	}
	if c.Conversion.DefaultBitrate <= 0 {
		return errors.New("conversion.default_bitrate must be positive (kbps)")
	}
	for codec, cap := range c.Conversion.CodecCaps {
		if cap < 1 {
			return fmt.Errorf("conversion.codec_caps.%s must be positive", codec)
		}
	}
	return nil
}

func (c *Config) validateProgress() error {
	if c.Progress.EWMAAlpha < MinEWMAAlpha || c.Progress.EWMAAlpha > MaxEWMAAlpha {
		return fmt.Errorf("progress.ewma_alpha must be between %.2f and %.2f", MinEWMAAlpha, MaxEWMAAlpha)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be positive")
	}
	for i, pattern := range c.Retry.Patterns {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("retry.patterns[%d] must not be empty", i)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.StopGraceSeconds <= 0 {
		return errors.New("workflow.stop_grace_seconds must be positive")
	}
	if c.Workflow.DispatchPollSeconds <= 0 {
		return errors.New("workflow.dispatch_poll_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if !c.Watch.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Watch.Dir) == "" {
		return errors.New("watch.dir must be set when watch.enabled is true")
	}
	if c.Watch.SettleSeconds < 0 {
		return errors.New("watch.settle_seconds must be >= 0")
	}
	return nil
}
