// Package progress estimates conversion completion and ETA from media-time
// samples.
package progress
