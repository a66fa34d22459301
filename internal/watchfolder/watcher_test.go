package watchfolder_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"handforge/internal/logging"
	"handforge/internal/watchfolder"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) enqueue(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func waitForCount(t *testing.T, r *recorder, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.snapshot()) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d enqueues, have %v", want, r.snapshot())
}

func newWatcher(t *testing.T, dir string, rec *recorder, indexPath string) *watchfolder.Watcher {
	t.Helper()
	w, err := watchfolder.New(watchfolder.Options{
		Dir:         dir,
		SettleDelay: 50 * time.Millisecond,
		IndexPath:   indexPath,
	}, rec.enqueue, logging.NewNop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestEnqueuesNewMediaFile(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := newWatcher(t, dir, rec, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	path := filepath.Join(dir, "song.flac")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitForCount(t, rec, 1)
	if got := rec.snapshot(); got[0] != path {
		t.Fatalf("unexpected path %q", got[0])
	}
}

func TestIgnoresNonMediaFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := newWatcher(t, dir, rec, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "song.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitForCount(t, rec, 1)
	time.Sleep(150 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || filepath.Base(got[0]) != "song.mp3" {
		t.Fatalf("unexpected enqueues: %v", got)
	}
}

func TestExistingFilesPickedUpOnStart(t *testing.T) {
	dir := t.TempDir()
	pre := filepath.Join(dir, "old.wav")
	if err := os.WriteFile(pre, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	w := newWatcher(t, dir, rec, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	waitForCount(t, rec, 1)
}

func TestSeenIndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(t.TempDir(), "seen.json")
	path := filepath.Join(dir, "song.opus")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	w := newWatcher(t, dir, rec, indexPath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, rec, 1)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// A second watcher over the same directory must not resubmit.
	rec2 := &recorder{}
	w2 := newWatcher(t, dir, rec2, indexPath)
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	if err := w2.Start(ctx2); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := rec2.snapshot(); len(got) != 0 {
		t.Fatalf("restart resubmitted files: %v", got)
	}
}

func TestSettleDelayDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := newWatcher(t, dir, rec, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "growing.mkv")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a slow copy: repeated writes inside the settle window.
	for i := 0; i < 4; i++ {
		if _, err := file.Write(make([]byte, 512)); err != nil {
			t.Fatal(err)
		}
		_ = file.Sync()
		time.Sleep(20 * time.Millisecond)
	}
	if err := file.Close(); err != nil {
		t.Fatal(err)
	}

	waitForCount(t, rec, 1)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("debounce failed, got %v", got)
	}
}
