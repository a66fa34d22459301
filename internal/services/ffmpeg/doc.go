// Package ffmpeg builds conversion command lines, parses progress output,
// and supervises ffmpeg processes.
package ffmpeg
