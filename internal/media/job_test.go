package media_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"handforge/internal/media"
)

func TestNewDefaults(t *testing.T) {
	job := media.New("/music/track.flac", "/out", "MP3")
	if job.ID == "" || job.ID != job.OriginID {
		t.Fatalf("expected fresh id matching origin, got id=%q origin=%q", job.ID, job.OriginID)
	}
	if job.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", job.Attempt)
	}
	if job.Format != "mp3" {
		t.Fatalf("expected lowercased format, got %q", job.Format)
	}
	if job.Mode != media.ModeCBR || job.Bitrate != 192 {
		t.Fatalf("expected cbr 192 defaults, got %s %d", job.Mode, job.Bitrate)
	}
	if !job.CopyMetadata {
		t.Fatal("expected copy metadata by default")
	}
	if job.SubtitleTrack != -1 || job.AudioTrack != -1 {
		t.Fatal("expected track selectors unset")
	}
	if err := job.Validate(); err != nil {
		t.Fatalf("default job should validate: %v", err)
	}
}

func TestNextAttemptPreservesLineage(t *testing.T) {
	job := media.New("/music/track.flac", "/out", "mp3")
	next := job.NextAttempt()
	if next.ID == job.ID {
		t.Fatal("expected a new id")
	}
	if next.OriginID != job.OriginID {
		t.Fatal("expected origin id preserved")
	}
	if next.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", next.Attempt)
	}
	if next.Format != job.Format || next.Bitrate != job.Bitrate {
		t.Fatal("expected parameters preserved")
	}
}

func TestSafeRetryForcesLosslessWAV(t *testing.T) {
	job := media.New("/music/track.flac", "/out", "opus")
	job.Mode = media.ModeVBR
	job.Quality = "5"
	job.SampleRate = 48000
	job.Channels = 2
	job.NormalizeLoudness = true
	safe := job.SafeRetry()
	if safe.Format != "wav" || safe.Mode != media.ModeLossless {
		t.Fatalf("expected lossless wav, got %s %s", safe.Format, safe.Mode)
	}
	if safe.Bitrate != 0 || safe.Quality != "" {
		t.Fatal("expected codec parameters cleared")
	}
	if safe.SampleRate != 0 || safe.Channels != 0 {
		t.Fatal("expected resample parameters cleared")
	}
	if safe.NormalizeLoudness {
		t.Fatal("expected loudness normalization disabled")
	}
	if safe.OriginID != job.OriginID || safe.Attempt != 2 {
		t.Fatalf("expected lineage preserved, got origin=%q attempt=%d", safe.OriginID, safe.Attempt)
	}
	if err := safe.Validate(); err != nil {
		t.Fatalf("safe retry should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*media.Job)
		want   string
	}{
		{"empty source", func(j *media.Job) { j.SourcePath = "" }, "source"},
		{"empty dest", func(j *media.Job) { j.DestDir = "" }, "destination"},
		{"bad format", func(j *media.Job) { j.Format = "xyz" }, "format"},
		{"cbr no bitrate", func(j *media.Job) { j.Bitrate = 0 }, "bitrate"},
		{"vbr no quality", func(j *media.Job) { j.Mode = media.ModeVBR }, "quality"},
		{"bad mode", func(j *media.Job) { j.Mode = "abr" }, "mode"},
		{"clip inverted", func(j *media.Job) { j.Clip = media.Clip{StartSeconds: 10, EndSeconds: 5} }, "clip"},
		{"extract audio to video", func(j *media.Job) { j.ExtractAudioOnly = true; j.Format = "mp4" }, "audio"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := media.New("/in/a.wav", "/out", "mp3")
			tc.mutate(&job)
			err := job.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSupportedFormats(t *testing.T) {
	for _, format := range []string{"mp3", "opus", "flac", "wav", "mp4", "webm"} {
		if !media.SupportedFormat(format) {
			t.Fatalf("expected %s supported", format)
		}
	}
	if media.SupportedFormat("docx") {
		t.Fatal("docx should not be supported")
	}
	if !media.IsVideoFormat("mkv") || media.IsVideoFormat("mp3") {
		t.Fatal("video detection wrong")
	}
	if media.AudioCodec("mp3") != "libmp3lame" {
		t.Fatalf("unexpected mp3 codec %q", media.AudioCodec("mp3"))
	}
	if media.VideoCodec("webm") != "libvpx-vp9" {
		t.Fatalf("unexpected webm codec %q", media.VideoCodec("webm"))
	}
	if media.VideoCodec("avi") != "libx264" {
		t.Fatalf("unexpected avi codec %q", media.VideoCodec("avi"))
	}
}

func TestIsMediaFile(t *testing.T) {
	if !media.IsMediaFile("/watch/song.FLAC") {
		t.Fatal("expected uppercase extension recognized")
	}
	if media.IsMediaFile("/watch/readme.txt") || media.IsMediaFile("/watch/noext") {
		t.Fatal("non-media files should be rejected")
	}
}

func TestPlanOutputPolicies(t *testing.T) {
	dir := t.TempDir()
	job := media.New("/music/track.flac", dir, "mp3")

	placement, err := media.PlanOutput(job, "overwrite")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := filepath.Join(dir, "track.mp3")
	if placement.Path != want || placement.Skip {
		t.Fatalf("unexpected placement %+v", placement)
	}

	// Occupy the target and exercise each policy.
	if err := os.WriteFile(want, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	placement, err = media.PlanOutput(job, "overwrite")
	if err != nil || placement.Path != want || placement.Skip {
		t.Fatalf("overwrite should reuse path: %+v %v", placement, err)
	}

	placement, err = media.PlanOutput(job, "skip")
	if err != nil || !placement.Skip {
		t.Fatalf("skip should mark skippable: %+v %v", placement, err)
	}

	placement, err = media.PlanOutput(job, "rename")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if placement.Path != filepath.Join(dir, "track (1).mp3") {
		t.Fatalf("unexpected rename target %q", placement.Path)
	}

	if err := os.WriteFile(placement.Path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	placement, err = media.PlanOutput(job, "rename")
	if err != nil || placement.Path != filepath.Join(dir, "track (2).mp3") {
		t.Fatalf("expected (2) suffix, got %+v %v", placement, err)
	}

	if _, err := media.PlanOutput(job, "prompt"); err == nil {
		t.Fatal("unknown policy should error")
	}
}

func TestMetadataPairsOrder(t *testing.T) {
	m := media.Metadata{Title: "A", Artist: "B", Track: "3"}
	pairs := m.Pairs()
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
	if pairs[0][0] != "title" || pairs[1][0] != "artist" || pairs[2][0] != "track" {
		t.Fatalf("unexpected order: %v", pairs)
	}
}
