package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"handforge/internal/events"
	"handforge/internal/media"
	"handforge/internal/retry"
	"handforge/internal/scheduler"
	"handforge/internal/services/ffmpeg"
	"handforge/internal/watchfolder"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var dirFlag string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a directory and convert new media files until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, ctx, dirFlag)
		},
	}
	cmd.Flags().StringVar(&dirFlag, "dir", "", "Directory to watch (defaults to watch.dir)")
	return cmd
}

func runWatch(cmd *cobra.Command, cmdCtx *commandContext, dirFlag string) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := cmdCtx.newLogger()
	if err != nil {
		return err
	}

	watchDir := dirFlag
	if watchDir == "" {
		watchDir = cfg.Watch.Dir
	}
	if watchDir == "" {
		return fmt.Errorf("no watch directory: pass --dir or set watch.dir")
	}
	if cfg.Paths.OutputDir == "" {
		return fmt.Errorf("watch mode requires paths.output_dir")
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
	sched := scheduler.New(store, hub, ffmpeg.NewExecRunner(), logger, controller, settings)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enqueue := func(ctx context.Context, path string) error {
		job := media.New(path, cfg.Paths.OutputDir, cfg.Conversion.DefaultFormat)
		job.Mode = cfg.Conversion.DefaultMode
		job.Bitrate = cfg.Conversion.DefaultBitrate
		if job.Mode == media.ModeLossless {
			job.Bitrate = 0
		}
		job.Threads = cfg.Conversion.ThreadsPerJob
		job.NormalizeLoudness = cfg.Conversion.NormalizeLoudness
		job.TargetLUFS = cfg.Conversion.TargetLUFS
		job.DeleteOriginal = cfg.Conversion.DeleteOriginal
		_, err := sched.Enqueue(ctx, job)
		return err
	}

	watcher, err := watchfolder.New(watchfolder.Options{
		Dir:         watchDir,
		SettleDelay: time.Duration(cfg.Watch.SettleSeconds) * time.Second,
		IndexPath:   filepath.Join(cfg.Paths.StateDir, "watch_seen.json"),
	}, enqueue, logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	sched.Start(ctx)
	if err := watcher.Start(ctx); err != nil {
		_ = sched.Stop(context.Background())
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s, converting to %s (ctrl-c to stop)\n",
		watchDir, cfg.Paths.OutputDir)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Workflow.StopGraceSeconds+5)*time.Second)
	defer cancel()
	return sched.Stop(stopCtx)
}
