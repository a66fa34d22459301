package watchfolder

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"handforge/internal/logging"
	"handforge/internal/media"
)

// EnqueueFunc receives the path of a settled media file.
type EnqueueFunc func(ctx context.Context, path string) error

// Options configure a watch folder.
type Options struct {
	Dir         string
	SettleDelay time.Duration
	// IndexPath persists which files have already been enqueued so a restart
	// does not resubmit them. Empty disables persistence.
	IndexPath string
}

// Watcher monitors a directory and enqueues new media files once they stop
// growing.
type Watcher struct {
	opts    Options
	enqueue EnqueueFunc
	logger  *slog.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	pending map[string]*time.Timer

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// New constructs a watcher. Start must be called to begin monitoring.
func New(opts Options, enqueue EnqueueFunc, logger *slog.Logger) (*Watcher, error) {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 2 * time.Second
	}
	w := &Watcher{
		opts:    opts,
		enqueue: enqueue,
		logger:  logging.NewComponentLogger(logger, "watchfolder"),
		seen:    make(map[string]struct{}),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
	if err := w.loadIndex(); err != nil {
		return nil, err
	}
	return w, nil
}

// Start begins watching. Existing files in the directory are considered on
// startup so files dropped while the daemon was down are not missed.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.opts.Dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	if err := w.scanExisting(ctx); err != nil {
		w.logger.Warn("initial scan failed", logging.Error(err))
	}

	go w.loop(ctx)
	w.logger.Info("watching directory", logging.String("dir", w.opts.Dir))
	return nil
}

// Close stops the watcher and cancels pending settle timers.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)

	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.observe(ctx, event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", logging.Error(err))
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.observe(ctx, filepath.Join(w.opts.Dir, entry.Name()))
	}
	return nil
}

// observe starts or restarts the settle timer for a path. Each write event
// pushes the deadline back, so a file is only enqueued once it stops growing.
func (w *Watcher) observe(ctx context.Context, path string) {
	if !media.IsMediaFile(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.seen[path]; done {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.opts.SettleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.SettleDelay, func() {
		w.settle(ctx, path)
	})
}

func (w *Watcher) settle(ctx context.Context, path string) {
	select {
	case <-w.done:
		return
	default:
	}

	w.mu.Lock()
	delete(w.pending, path)
	if _, done := w.seen[path]; done {
		w.mu.Unlock()
		return
	}
	w.seen[path] = struct{}{}
	w.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		// Removed before it settled.
		w.forget(path)
		return
	}

	if err := w.enqueue(ctx, path); err != nil {
		w.logger.Error("enqueue failed",
			logging.String(logging.FieldSource, path),
			logging.Error(err))
		w.forget(path)
		return
	}
	w.logger.Info("file enqueued", logging.String(logging.FieldSource, path))
	if err := w.saveIndex(); err != nil {
		w.logger.Warn("persist seen index failed", logging.Error(err))
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.seen, path)
	w.mu.Unlock()
}

func (w *Watcher) loadIndex() error {
	if w.opts.IndexPath == "" {
		return nil
	}
	data, err := os.ReadFile(w.opts.IndexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return err
	}
	for _, path := range paths {
		w.seen[path] = struct{}{}
	}
	return nil
}

func (w *Watcher) saveIndex() error {
	if w.opts.IndexPath == "" {
		return nil
	}
	w.mu.Lock()
	paths := make([]string, 0, len(w.seen))
	for path := range w.seen {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	data, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.opts.IndexPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(w.opts.IndexPath, data, 0o644)
}
