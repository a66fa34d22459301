package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"handforge/internal/config"
	"handforge/internal/events"
	"handforge/internal/media"
	"handforge/internal/queue"
	"handforge/internal/retry"
	"handforge/internal/scheduler"
	"handforge/internal/services/ffmpeg"
)

type convertFlags struct {
	dest          string
	format        string
	mode          string
	bitrate       int
	quality       string
	sampleRate    int
	channels      int
	normalize     bool
	targetLUFS    float64
	deleteSource  bool
	threads       int
	title         string
	artist        string
	album         string
	year          string
	genre         string
	trackNum      string
	stripMeta     bool
	noCopyMeta    bool
	start         float64
	end           float64
	fadeIn        float64
	fadeOut       float64
	extractAudio  bool
	audioTrack    int
	subtitleTrack int
	preset        string
	resolution    string
	fps           int
	videoBitrate  int
	parallel      int
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	flags := &convertFlags{}

	cmd := &cobra.Command{
		Use:   "convert [flags] FILE...",
		Short: "Convert media files and wait for completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, ctx, flags, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.dest, "dest", "d", "", "Destination directory (defaults to paths.output_dir)")
	f.StringVarP(&flags.format, "format", "f", "", "Output format (mp3, opus, flac, wav, mp4, ...)")
	f.StringVar(&flags.mode, "mode", "", "Encoding mode: cbr, vbr, or lossless")
	f.IntVarP(&flags.bitrate, "bitrate", "b", 0, "Audio bitrate in kbps (cbr)")
	f.StringVarP(&flags.quality, "quality", "q", "", "Quality value (vbr)")
	f.IntVar(&flags.sampleRate, "sample-rate", 0, "Output sample rate in Hz")
	f.IntVar(&flags.channels, "channels", 0, "Output channel count")
	f.BoolVar(&flags.normalize, "normalize", false, "Apply loudness normalization")
	f.Float64Var(&flags.targetLUFS, "lufs", 0, "Loudness target in LUFS (with --normalize)")
	f.BoolVar(&flags.deleteSource, "delete-original", false, "Remove the source file after success")
	f.IntVar(&flags.threads, "threads", 0, "Threads per ffmpeg process")
	f.StringVar(&flags.title, "title", "", "Override title tag")
	f.StringVar(&flags.artist, "artist", "", "Override artist tag")
	f.StringVar(&flags.album, "album", "", "Override album tag")
	f.StringVar(&flags.year, "year", "", "Override year tag")
	f.StringVar(&flags.genre, "genre", "", "Override genre tag")
	f.StringVar(&flags.trackNum, "track", "", "Override track number tag")
	f.BoolVar(&flags.stripMeta, "strip-metadata", false, "Write no metadata at all")
	f.BoolVar(&flags.noCopyMeta, "no-copy-metadata", false, "Do not copy source metadata")
	f.Float64Var(&flags.start, "start", 0, "Trim start in seconds")
	f.Float64Var(&flags.end, "end", 0, "Trim end in seconds")
	f.Float64Var(&flags.fadeIn, "fade-in", 0, "Fade-in duration in seconds")
	f.Float64Var(&flags.fadeOut, "fade-out", 0, "Fade-out duration in seconds")
	f.BoolVar(&flags.extractAudio, "extract-audio", false, "Extract the audio stream from a video source")
	f.IntVar(&flags.audioTrack, "audio-track", -1, "Audio track index to use")
	f.IntVar(&flags.subtitleTrack, "subtitle-track", -1, "Subtitle stream index to include")
	f.StringVar(&flags.preset, "preset", "", "Video quality preset: low, medium, high, ultra")
	f.StringVar(&flags.resolution, "resolution", "", "Output resolution, e.g. 1280x720")
	f.IntVar(&flags.fps, "fps", 0, "Output frame rate")
	f.IntVar(&flags.videoBitrate, "video-bitrate", 0, "Video bitrate in kbps")
	f.IntVarP(&flags.parallel, "parallel", "p", 0, "Override conversion.max_parallel for this run")

	return cmd
}

func runConvert(cmd *cobra.Command, cmdCtx *commandContext, flags *convertFlags, args []string) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := cmdCtx.newLogger()
	if err != nil {
		return err
	}

	dest := flags.dest
	if dest == "" {
		dest = cfg.Paths.OutputDir
	}
	if dest == "" {
		return fmt.Errorf("no destination: pass --dest or set paths.output_dir")
	}

	lock, err := cmdCtx.acquireLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	store, err := cmdCtx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := cmdCtx.schedulerSettings()
	if err != nil {
		return err
	}

	hub := events.NewHub()
	defer hub.Close()

	controller := retry.NewController(cfg.Retry.AutoEnabled, cfg.Retry.Patterns, cfg.Retry.MaxAttempts)
	if flags.parallel > 0 {
		settings.MaxParallel = flags.parallel
	}
	sched := scheduler.New(store, hub, ffmpeg.NewExecRunner(), logger, controller, settings)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var jobIDs []string
	for _, arg := range args {
		source, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		job, err := buildJob(cfg, flags, source, dest)
		if err != nil {
			return err
		}
		if _, err := sched.Enqueue(ctx, job); err != nil {
			return err
		}
		jobIDs = append(jobIDs, job.ID)
	}

	sched.Start(ctx)
	reporterDone := startProgressReporter(ctx, hub, cmd)

	drainErr := sched.Drain(ctx)
	if drainErr != nil && ctx.Err() != nil {
		// Interrupted: cancel whatever this batch still has queued.
		_ = sched.StopAll(context.Background())
	}
	if err := sched.Stop(context.Background()); err != nil {
		return err
	}
	// Closing the hub ends the reporter's subscription.
	hub.Close()
	<-reporterDone
	if drainErr != nil && ctx.Err() != nil {
		return fmt.Errorf("interrupted")
	}
	if drainErr != nil {
		return drainErr
	}

	return reportResults(cmd, store, jobIDs)
}

func buildJob(cfg *config.Config, flags *convertFlags, source, dest string) (media.Job, error) {
	format := flags.format
	if format == "" {
		format = cfg.Conversion.DefaultFormat
	}

	job := media.New(source, dest, format)
	job.Mode = cfg.Conversion.DefaultMode
	job.Bitrate = cfg.Conversion.DefaultBitrate
	job.Threads = cfg.Conversion.ThreadsPerJob
	job.NormalizeLoudness = cfg.Conversion.NormalizeLoudness
	job.TargetLUFS = cfg.Conversion.TargetLUFS
	job.DeleteOriginal = cfg.Conversion.DeleteOriginal

	if flags.mode != "" {
		job.Mode = strings.ToLower(flags.mode)
	}
	if flags.bitrate > 0 {
		job.Bitrate = flags.bitrate
	}
	if flags.quality != "" {
		job.Quality = flags.quality
	}
	if job.Mode == media.ModeLossless {
		job.Bitrate = 0
	}
	if flags.sampleRate > 0 {
		job.SampleRate = flags.sampleRate
	}
	if flags.channels > 0 {
		job.Channels = flags.channels
	}
	if flags.normalize {
		job.NormalizeLoudness = true
	}
	if flags.targetLUFS != 0 {
		job.TargetLUFS = flags.targetLUFS
	}
	if flags.deleteSource {
		job.DeleteOriginal = true
	}
	if flags.threads > 0 {
		job.Threads = flags.threads
	}

	job.Metadata = media.Metadata{
		Title:  flags.title,
		Artist: flags.artist,
		Album:  flags.album,
		Year:   flags.year,
		Genre:  flags.genre,
		Track:  flags.trackNum,
	}
	job.StripMetadata = flags.stripMeta
	job.CopyMetadata = !flags.noCopyMeta

	job.Clip = media.Clip{StartSeconds: flags.start, EndSeconds: flags.end}
	job.Fade = media.Fade{In: flags.fadeIn, Out: flags.fadeOut}
	job.ExtractAudioOnly = flags.extractAudio
	job.AudioTrack = flags.audioTrack
	job.SubtitleTrack = flags.subtitleTrack
	job.QualityPreset = flags.preset
	job.Resolution = flags.resolution
	job.FPS = flags.fps
	job.VideoBitrate = flags.videoBitrate

	if err := job.Validate(); err != nil {
		return media.Job{}, fmt.Errorf("%s: %w", filepath.Base(source), err)
	}
	return job, nil
}

func startProgressReporter(ctx context.Context, hub *events.Hub, cmd *cobra.Command) <-chan struct{} {
	done := make(chan struct{})
	ch, cancel := hub.Subscribe(256)
	interactive := isatty.IsTerminal(os.Stdout.Fd())

	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				printEvent(cmd, evt, interactive)
			}
		}
	}()
	return done
}

func printEvent(cmd *cobra.Command, evt events.Event, interactive bool) {
	switch evt.Type {
	case events.TypeProgress:
		if evt.Percent < 0 {
			return
		}
		line := fmt.Sprintf("[worker %d] %5.1f%%", evt.WorkerID, evt.Percent)
		if evt.ETAKnown {
			line += fmt.Sprintf("  eta %s", evt.ETA.Round(time.Second))
		}
		if evt.Speed > 0 {
			line += fmt.Sprintf("  %.1fx", evt.Speed)
		}
		if interactive {
			fmt.Fprintf(cmd.OutOrStdout(), "\r%-60s", line)
		}
	case events.TypeCompleted:
		if interactive {
			fmt.Fprint(cmd.OutOrStdout(), "\r")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "done: %s\n", shortID(evt.JobID))
	case events.TypeFailed:
		if interactive {
			fmt.Fprint(cmd.OutOrStdout(), "\r")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", evt.Status, shortID(evt.JobID), evt.Message)
	}
}

func reportResults(cmd *cobra.Command, store *queue.Store, jobIDs []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var failed int
	for _, jobID := range jobIDs {
		item, err := store.GetByJobID(ctx, jobID)
		if err != nil {
			return err
		}
		if item.Status != queue.StatusSucceeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions did not succeed", failed, len(jobIDs))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "all %d conversions succeeded\n", len(jobIDs))
	return nil
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
