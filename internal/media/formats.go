package media

import "strings"

// Audio formats map to ffmpeg encoder names. Container formats carry a video
// encoder as well.
var audioCodecs = map[string]string{
	"mp3":  "libmp3lame",
	"aac":  "aac",
	"opus": "libopus",
	"ogg":  "libvorbis",
	"flac": "flac",
	"wav":  "pcm_s16le",
	"m4a":  "aac",
}

var videoCodecs = map[string]string{
	"mp4":  "libx264",
	"mkv":  "libx264",
	"webm": "libvpx-vp9",
	"avi":  "libx264",
	"mov":  "libx264",
}

// Extensions recognized by the watch folder as convertible media.
var mediaExtensions = map[string]struct{}{
	".mp3": {}, ".aac": {}, ".opus": {}, ".ogg": {}, ".flac": {},
	".wav": {}, ".m4a": {}, ".wma": {},
	".mp4": {}, ".mkv": {}, ".webm": {}, ".avi": {}, ".mov": {}, ".wmv": {},
}

// SupportedFormat reports whether format names a known output container.
func SupportedFormat(format string) bool {
	format = strings.ToLower(strings.TrimSpace(format))
	_, audio := audioCodecs[format]
	_, video := videoCodecs[format]
	return audio || video
}

// IsVideoFormat reports whether format produces a video container.
func IsVideoFormat(format string) bool {
	_, ok := videoCodecs[strings.ToLower(strings.TrimSpace(format))]
	return ok
}

// AudioCodec returns the ffmpeg audio encoder for format, or "" when unknown.
func AudioCodec(format string) string {
	return audioCodecs[strings.ToLower(strings.TrimSpace(format))]
}

// VideoCodec returns the ffmpeg video encoder for format, or "" when the
// format is audio-only or unknown.
func VideoCodec(format string) string {
	return videoCodecs[strings.ToLower(strings.TrimSpace(format))]
}

// IsMediaFile reports whether path looks like a convertible media file based
// on its extension.
func IsMediaFile(path string) bool {
	dot := strings.LastIndex(path, ".")
	if dot < 0 {
		return false
	}
	_, ok := mediaExtensions[strings.ToLower(path[dot:])]
	return ok
}
