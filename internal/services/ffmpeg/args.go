package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"handforge/internal/media"
)

// Audio encoders used when the output is a video container.
var containerAudioCodecs = map[string]string{
	"mp4":  "aac",
	"mkv":  "aac",
	"webm": "libopus",
	"avi":  "aac",
	"mov":  "aac",
}

// Quality presets translate to CRF plus x264/x265 preset pairs.
var qualityPresets = map[string][2]string{
	"low":    {"32", "fast"},
	"medium": {"28", "medium"},
	"high":   {"23", "slow"},
	"ultra":  {"18", "veryslow"},
}

// BuildArgs constructs the ffmpeg argument list for a job. The list is
// deterministic for a given job and output path; the binary itself is not
// included.
func BuildArgs(job media.Job, outputPath string) []string {
	args := []string{"-i", job.SourcePath}

	if media.IsVideoFormat(job.Format) && !job.ExtractAudioOnly {
		args = append(args, videoArgs(job)...)
	} else {
		args = append(args, audioArgs(job)...)
	}

	if !job.StripMetadata {
		if job.CopyMetadata {
			args = append(args, "-map_metadata", "0")
		}
		for _, pair := range job.Metadata.Pairs() {
			args = append(args, "-metadata", pair[0]+"="+pair[1])
		}
	}

	if job.Threads > 1 {
		args = append(args, "-threads", strconv.Itoa(job.Threads))
	}

	args = append(args, "-y", outputPath)
	return args
}

func audioArgs(job media.Job) []string {
	var args []string
	if job.ExtractAudioOnly || isVideoSource(job.SourcePath) {
		args = append(args, "-vn")
	}

	codec := media.AudioCodec(job.Format)
	if codec == "" {
		codec = "copy"
	}
	args = append(args, "-c:a", codec)

	switch job.Mode {
	case media.ModeCBR:
		if job.Bitrate > 0 {
			args = append(args, "-b:a", fmt.Sprintf("%dk", job.Bitrate))
		}
	case media.ModeVBR:
		if job.Quality != "" {
			if job.Format == "opus" {
				args = append(args, "-b:a", "0", "-vbr", "on", "-compression_level", job.Quality)
			} else {
				args = append(args, "-q:a", job.Quality)
			}
		}
	case media.ModeLossless:
		if job.Format == "flac" {
			args = append(args, "-compression_level", "12")
		}
	}

	if job.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(job.SampleRate))
	}
	if job.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(job.Channels))
	}

	args = append(args, trimArgs(job.Clip)...)

	if filter := audioFilter(job); filter != "" {
		args = append(args, "-af", filter)
	}
	return args
}

func videoArgs(job media.Job) []string {
	codec := media.VideoCodec(job.Format)
	args := []string{"-c:v", codec}

	audioMap := "0:a:0"
	if job.AudioTrack >= 0 {
		audioMap = fmt.Sprintf("0:a:%d", job.AudioTrack)
	}
	if job.SubtitleTrack >= 0 {
		args = append(args, "-map", "0:v:0", "-map", audioMap, "-map", fmt.Sprintf("0:%d", job.SubtitleTrack))
		if job.Format == "mkv" {
			args = append(args, "-c:s", "copy")
		} else {
			args = append(args, "-c:s", "mov_text")
		}
	} else {
		args = append(args, "-map", "0:v:0", "-map", audioMap)
	}

	if preset, ok := qualityPresets[strings.ToLower(job.QualityPreset)]; ok {
		if codec == "libvpx-vp9" {
			args = append(args, "-crf", preset[0], "-b:v", "0")
		} else {
			args = append(args, "-crf", preset[0], "-preset", preset[1])
		}
	} else if job.VideoBitrate > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", job.VideoBitrate))
	}

	var filters []string
	if job.Crop.Width > 0 && job.Crop.Height > 0 {
		filters = append(filters, fmt.Sprintf("crop=%d:%d:%d:%d", job.Crop.Width, job.Crop.Height, job.Crop.X, job.Crop.Y))
	}
	if job.Resolution != "" {
		filters = append(filters, "scale="+strings.ReplaceAll(job.Resolution, "x", ":"))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	if job.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(job.FPS))
	}

	acodec := containerAudioCodecs[job.Format]
	if acodec == "" {
		acodec = "aac"
	}
	args = append(args, "-c:a", acodec)
	if job.Bitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", job.Bitrate))
	}
	if job.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(job.SampleRate))
	}
	if job.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(job.Channels))
	}

	args = append(args, trimArgs(job.Clip)...)

	if af := audioFilter(job); af != "" {
		args = append(args, "-af", af)
	}
	return args
}

func trimArgs(clip media.Clip) []string {
	if clip.StartSeconds == 0 && clip.EndSeconds == 0 {
		return nil
	}
	args := []string{"-ss", formatFloat(clip.StartSeconds)}
	if clip.EndSeconds > 0 {
		args = append(args, "-t", formatFloat(clip.EndSeconds-clip.StartSeconds))
	}
	return args
}

func audioFilter(job media.Job) string {
	var filters []string
	if job.Fade.In > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=in:ss=0:d=%s", formatFloat(job.Fade.In)))
	}
	if job.Fade.Out > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=out:st=0:d=%s", formatFloat(job.Fade.Out)))
	}
	if job.NormalizeLoudness {
		filters = append(filters, fmt.Sprintf("loudnorm=I=%s:TP=-1.5:LRA=11", formatFloat(job.TargetLUFS)))
	}
	return strings.Join(filters, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isVideoSource(path string) bool {
	dot := strings.LastIndex(path, ".")
	if dot < 0 {
		return false
	}
	switch strings.ToLower(path[dot:]) {
	case ".mp4", ".mkv", ".webm", ".avi", ".mov", ".wmv", ".flv", ".m4v", ".ts", ".mpg", ".mpeg":
		return true
	}
	return false
}
