package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"handforge/internal/media"
	"handforge/internal/queue"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := `
[paths]
state_dir = "` + filepath.Join(base, "state") + `"
log_dir = "` + filepath.Join(base, "logs") + `"
output_dir = "` + filepath.Join(base, "out") + `"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestQueueListEmpty(t *testing.T) {
	configPath := writeTestConfig(t)
	out, err := runCommand(t, "--config", configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "queue is empty") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestQueueRetryRequiresTerminalJob(t *testing.T) {
	configPath := writeTestConfig(t)

	flag := configPath
	ctx := newCommandContext(&flag)
	store, err := ctx.openStore()
	if err != nil {
		t.Fatal(err)
	}

	job := media.New("/in/a.flac", "/out", "mp3")
	item, err := store.Add(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := runCommand(t, "--config", configPath, "queue", "retry", job.ID); err == nil {
		t.Fatal("retrying a pending job must fail")
	}

	if err := store.MarkRunning(context.Background(), item.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.Finish(context.Background(), item.ID, queue.FinishParams{
		Status:       queue.StatusFailed,
		ErrorMessage: "boom",
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand(t, "--config", configPath, "queue", "retry", "--safe", job.ID)
	if err != nil {
		t.Fatalf("safe retry: %v", err)
	}
	if !strings.Contains(out, "attempt 2") || !strings.Contains(out, "lossless wav") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSchedulerSettingsUseDiscoveredBinary(t *testing.T) {
	configPath := writeTestConfig(t)

	binDir := t.TempDir()
	binPath := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir)

	flag := configPath
	ctx := newCommandContext(&flag)
	settings, err := ctx.schedulerSettings()
	if err != nil {
		t.Fatalf("scheduler settings: %v", err)
	}
	// The resolved path must reach the launch settings, not the bare name.
	if settings.FFmpegBinary != binPath {
		t.Fatalf("expected %q, got %q", binPath, settings.FFmpegBinary)
	}
}

func TestConfigShow(t *testing.T) {
	configPath := writeTestConfig(t)
	out, err := runCommand(t, "--config", configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"conversion.max_parallel", "retry.auto_enabled", configPath} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %s", want, out)
		}
	}
}

func TestConvertRejectsMissingDest(t *testing.T) {
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := `
[paths]
state_dir = "` + filepath.Join(base, "state") + `"
log_dir = "` + filepath.Join(base, "logs") + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(base, "a.wav")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runCommand(t, "--config", configPath, "convert", src)
	if err == nil || !strings.Contains(err.Error(), "destination") {
		t.Fatalf("expected destination error, got %v", err)
	}
}
