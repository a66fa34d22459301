// Package config loads, validates, and defaults HandForge's TOML configuration.
package config
