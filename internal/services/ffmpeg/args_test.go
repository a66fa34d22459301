package ffmpeg_test

import (
	"strings"
	"testing"

	"handforge/internal/media"
	"handforge/internal/services/ffmpeg"
)

func argsString(job media.Job, out string) string {
	return strings.Join(ffmpeg.BuildArgs(job, out), " ")
}

func TestCBRAudioArgs(t *testing.T) {
	job := media.New("/in/song.flac", "/out", "mp3")
	got := argsString(job, "/out/song.mp3")

	for _, want := range []string{
		"-i /in/song.flac",
		"-c:a libmp3lame",
		"-b:a 192k",
		"-map_metadata 0",
		"-y /out/song.mp3",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("args missing %q: %s", want, got)
		}
	}
}

func TestVBRAndOpusArgs(t *testing.T) {
	job := media.New("/in/song.wav", "/out", "mp3")
	job.Mode = media.ModeVBR
	job.Quality = "2"
	if got := argsString(job, "/out/song.mp3"); !strings.Contains(got, "-q:a 2") {
		t.Fatalf("expected vbr quality flag: %s", got)
	}

	job = media.New("/in/song.wav", "/out", "opus")
	job.Mode = media.ModeVBR
	job.Quality = "10"
	got := argsString(job, "/out/song.opus")
	if !strings.Contains(got, "-b:a 0 -vbr on -compression_level 10") {
		t.Fatalf("expected opus vbr flags: %s", got)
	}
}

func TestLosslessFlacArgs(t *testing.T) {
	job := media.New("/in/song.wav", "/out", "flac")
	job.Mode = media.ModeLossless
	job.Bitrate = 0
	got := argsString(job, "/out/song.flac")
	if !strings.Contains(got, "-c:a flac") || !strings.Contains(got, "-compression_level 12") {
		t.Fatalf("expected flac lossless flags: %s", got)
	}
	if strings.Contains(got, "-b:a") {
		t.Fatalf("lossless must not carry a bitrate: %s", got)
	}
}

func TestFiltersAndTrim(t *testing.T) {
	job := media.New("/in/song.mp3", "/out", "mp3")
	job.Clip = media.Clip{StartSeconds: 5, EndSeconds: 65}
	job.Fade = media.Fade{In: 2, Out: 3}
	job.NormalizeLoudness = true
	job.TargetLUFS = -14

	got := argsString(job, "/out/song.mp3")
	if !strings.Contains(got, "-ss 5 -t 60") {
		t.Fatalf("expected trim window: %s", got)
	}
	if !strings.Contains(got, "afade=t=in:ss=0:d=2,afade=t=out:st=0:d=3,loudnorm=I=-14:TP=-1.5:LRA=11") {
		t.Fatalf("expected chained audio filters: %s", got)
	}
}

func TestMetadataArgs(t *testing.T) {
	job := media.New("/in/song.mp3", "/out", "mp3")
	job.Metadata = media.Metadata{Title: "Song", Artist: "Band"}
	got := argsString(job, "/out/song.mp3")
	if !strings.Contains(got, "-metadata title=Song") || !strings.Contains(got, "-metadata artist=Band") {
		t.Fatalf("expected metadata pairs: %s", got)
	}

	job.StripMetadata = true
	got = argsString(job, "/out/song.mp3")
	if strings.Contains(got, "-map_metadata") || strings.Contains(got, "-metadata") {
		t.Fatalf("strip must drop all metadata flags: %s", got)
	}
}

func TestThreadsFlag(t *testing.T) {
	job := media.New("/in/song.mp3", "/out", "mp3")
	got := argsString(job, "/out/song.mp3")
	if strings.Contains(got, "-threads") {
		t.Fatalf("single-threaded jobs omit -threads: %s", got)
	}
	job.Threads = 4
	if got := argsString(job, "/out/song.mp3"); !strings.Contains(got, "-threads 4") {
		t.Fatalf("expected -threads 4: %s", got)
	}
}

func TestVideoArgs(t *testing.T) {
	job := media.New("/in/movie.mkv", "/out", "mp4")
	job.QualityPreset = "high"
	job.Resolution = "1280x720"
	job.FPS = 30
	job.Crop = media.Crop{X: 10, Y: 20, Width: 640, Height: 480}

	got := argsString(job, "/out/movie.mp4")
	for _, want := range []string{
		"-c:v libx264",
		"-map 0:v:0 -map 0:a:0",
		"-crf 23 -preset slow",
		"-vf crop=640:480:10:20,scale=1280:720",
		"-r 30",
		"-c:a aac",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("args missing %q: %s", want, got)
		}
	}
}

func TestSubtitleAndAudioTrackMapping(t *testing.T) {
	job := media.New("/in/movie.mkv", "/out", "mp4")
	job.SubtitleTrack = 3
	job.AudioTrack = 1
	got := argsString(job, "/out/movie.mp4")
	if !strings.Contains(got, "-map 0:v:0 -map 0:a:1 -map 0:3") {
		t.Fatalf("expected explicit stream maps: %s", got)
	}
	if !strings.Contains(got, "-c:s mov_text") {
		t.Fatalf("mp4 subtitles use mov_text: %s", got)
	}

	job.Format = "mkv"
	if got := argsString(job, "/out/movie.mkv"); !strings.Contains(got, "-c:s copy") {
		t.Fatalf("mkv subtitles are copied: %s", got)
	}
}

func TestExtractAudioOnly(t *testing.T) {
	job := media.New("/in/movie.mp4", "/out", "mp3")
	job.ExtractAudioOnly = true
	got := argsString(job, "/out/movie.mp3")
	if !strings.Contains(got, "-vn") {
		t.Fatalf("expected -vn for audio extraction: %s", got)
	}
	if strings.Contains(got, "-c:v") {
		t.Fatalf("audio extraction must not set a video codec: %s", got)
	}
}

func TestDeterministicArgs(t *testing.T) {
	job := media.New("/in/song.flac", "/out", "opus")
	job.Metadata = media.Metadata{Title: "T", Artist: "A", Album: "L"}
	first := argsString(job, "/out/song.opus")
	for i := 0; i < 5; i++ {
		if argsString(job, "/out/song.opus") != first {
			t.Fatal("args must be deterministic for the same job")
		}
	}
}
