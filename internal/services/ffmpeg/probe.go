package ffmpeg

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"time"

	"handforge/internal/services"
)

// StreamInfo describes one stream reported by ffprobe.
type StreamInfo struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Tags       struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
}

// ProbeResult is the subset of ffprobe output HandForge uses.
type ProbeResult struct {
	DurationSeconds float64
	Streams         []StreamInfo
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// Probe inspects a media file with ffprobe.
func Probe(ctx context.Context, binary, path string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, services.Wrap(services.ErrProcessExecution, "ffprobe", "probe", path, err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeResult{}, services.Wrap(services.ErrProcessExecution, "ffprobe", "decode", path, err)
	}

	result := ProbeResult{Streams: parsed.Streams}
	if parsed.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			result.DurationSeconds = seconds
		}
	}
	return result, nil
}

// AudioTracks filters the probe result to audio streams.
func (p ProbeResult) AudioTracks() []StreamInfo {
	var tracks []StreamInfo
	for _, s := range p.Streams {
		if s.CodecType == "audio" {
			tracks = append(tracks, s)
		}
	}
	return tracks
}

// SubtitleTracks filters the probe result to subtitle streams.
func (p ProbeResult) SubtitleTracks() []StreamInfo {
	var tracks []StreamInfo
	for _, s := range p.Streams {
		if s.CodecType == "subtitle" {
			tracks = append(tracks, s)
		}
	}
	return tracks
}
