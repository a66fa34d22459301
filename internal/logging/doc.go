// Package logging provides slog handler construction and shared attribute
// helpers for HandForge components.
package logging
