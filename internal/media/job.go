package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Metadata carries tag overrides written to the output container.
type Metadata struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Year   string `json:"year,omitempty"`
	Genre  string `json:"genre,omitempty"`
	Track  string `json:"track,omitempty"`
}

// Pairs returns the non-empty tags as key/value pairs in a stable order.
func (m Metadata) Pairs() [][2]string {
	var pairs [][2]string
	add := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			pairs = append(pairs, [2]string{key, value})
		}
	}
	add("title", m.Title)
	add("artist", m.Artist)
	add("album", m.Album)
	add("date", m.Year)
	add("genre", m.Genre)
	add("track", m.Track)
	return pairs
}

// Clip trims the source to a window. Zero values mean unset.
type Clip struct {
	StartSeconds float64 `json:"start_seconds,omitempty"`
	EndSeconds   float64 `json:"end_seconds,omitempty"`
}

// Fade applies fade-in/out durations in seconds. Zero means no fade.
type Fade struct {
	In  float64 `json:"in,omitempty"`
	Out float64 `json:"out,omitempty"`
}

// Crop selects a video region. A zero Width disables cropping.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Encode modes.
const (
	ModeCBR      = "cbr"
	ModeVBR      = "vbr"
	ModeLossless = "lossless"
)

// Job describes a single conversion. Values are set once at submission; retry
// derivations produce a fresh Job rather than mutating the original.
type Job struct {
	ID       string `json:"id"`
	OriginID string `json:"origin_id"`
	Attempt  int    `json:"attempt"`

	SourcePath string `json:"source_path"`
	DestDir    string `json:"dest_dir"`
	Format     string `json:"format"`

	Mode       string `json:"mode"`
	Bitrate    int    `json:"bitrate,omitempty"`
	Quality    string `json:"quality,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	Metadata      Metadata `json:"metadata"`
	CopyMetadata  bool     `json:"copy_metadata"`
	StripMetadata bool     `json:"strip_metadata"`

	NormalizeLoudness bool    `json:"normalize_loudness"`
	TargetLUFS        float64 `json:"target_lufs"`

	Threads int `json:"threads,omitempty"`

	VideoBitrate  int    `json:"video_bitrate,omitempty"`
	QualityPreset string `json:"quality_preset,omitempty"`
	Resolution    string `json:"resolution,omitempty"`
	FPS           int    `json:"fps,omitempty"`

	Clip Clip `json:"clip"`
	Fade Fade `json:"fade"`
	Crop Crop `json:"crop"`

	// Track selectors, -1 means unset.
	SubtitleTrack int `json:"subtitle_track"`
	AudioTrack    int `json:"audio_track"`

	ExtractAudioOnly bool `json:"extract_audio_only"`
	DeleteOriginal   bool `json:"delete_original"`
}

// New builds a Job with the defaults used for ad-hoc submissions. The caller
// adjusts fields before validation.
func New(sourcePath, destDir, format string) Job {
	id := uuid.NewString()
	return Job{
		ID:            id,
		OriginID:      id,
		Attempt:       1,
		SourcePath:    sourcePath,
		DestDir:       destDir,
		Format:        strings.ToLower(strings.TrimSpace(format)),
		Mode:          ModeCBR,
		Bitrate:       192,
		CopyMetadata:  true,
		TargetLUFS:    -14.0,
		SubtitleTrack: -1,
		AudioTrack:    -1,
	}
}

// NextAttempt derives the job resubmitted after a matching failure. The
// lineage and parameters are preserved; only the identity and attempt count
// change.
func (j Job) NextAttempt() Job {
	next := j
	next.ID = uuid.NewString()
	next.Attempt = j.Attempt + 1
	return next
}

// SafeRetry derives a conservative resubmission: lossless WAV output with
// codec-specific parameters cleared, so a decode-side failure is not
// compounded by encoder settings.
func (j Job) SafeRetry() Job {
	next := j.NextAttempt()
	next.Format = "wav"
	next.Mode = ModeLossless
	next.Bitrate = 0
	next.Quality = ""
	next.SampleRate = 0
	next.Channels = 0
	next.NormalizeLoudness = false
	next.VideoBitrate = 0
	next.QualityPreset = ""
	next.Resolution = ""
	next.FPS = 0
	return next
}

// Validate checks the job for internally consistent, supported settings.
func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id must be set")
	}
	if strings.TrimSpace(j.SourcePath) == "" {
		return errors.New("source path must be set")
	}
	if strings.TrimSpace(j.DestDir) == "" {
		return errors.New("destination directory must be set")
	}
	if !SupportedFormat(j.Format) {
		return fmt.Errorf("unsupported output format %q", j.Format)
	}
	switch j.Mode {
	case ModeCBR:
		if j.Bitrate <= 0 {
			return errors.New("cbr mode requires a positive bitrate")
		}
	case ModeVBR:
		if strings.TrimSpace(j.Quality) == "" {
			return errors.New("vbr mode requires a quality value")
		}
	case ModeLossless:
	default:
		return fmt.Errorf("unsupported encode mode %q", j.Mode)
	}
	if j.Attempt < 1 {
		return errors.New("attempt must be >= 1")
	}
	if j.Clip.EndSeconds > 0 && j.Clip.EndSeconds <= j.Clip.StartSeconds {
		return errors.New("clip end must be after clip start")
	}
	if j.Fade.In < 0 || j.Fade.Out < 0 {
		return errors.New("fade durations must be >= 0")
	}
	if j.Crop.Width < 0 || j.Crop.Height < 0 {
		return errors.New("crop dimensions must be >= 0")
	}
	if j.ExtractAudioOnly && IsVideoFormat(j.Format) {
		return errors.New("extract-audio-only requires an audio output format")
	}
	return nil
}

// ShortID returns the first uuid segment, used in logs and tables.
func (j Job) ShortID() string {
	if i := strings.IndexByte(j.ID, '-'); i > 0 {
		return j.ID[:i]
	}
	return j.ID
}
