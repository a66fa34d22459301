package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"handforge/internal/events"
	"handforge/internal/logging"
	"handforge/internal/media"
	"handforge/internal/progress"
	"handforge/internal/queue"
	"handforge/internal/services/ffmpeg"
)

const (
	launchTries      = 3
	launchBackoff    = 500 * time.Millisecond
	logRingCapacity  = 200
	minOutputBytes   = 1024
	errorSummaryMax  = 300
	errorSummaryTail = 3
)

type workerResult struct {
	status       queue.Status
	outputPath   string
	errorMessage string
	logText      string
}

// worker supervises one conversion process from launch to terminal state.
type worker struct {
	id        int
	scheduler *Scheduler
	item      *queue.Item
	job       media.Job
	settings  Settings
	logger    *slog.Logger
	estimator *progress.Estimator
	sampler   *logging.ProgressSampler

	mu            sync.Mutex
	handle        ffmpeg.Handle
	paused        bool
	stopRequested bool
	lastSpeed     float64
	lastSnapshot  progress.Snapshot
}

func newWorker(s *Scheduler, id int, item *queue.Item, settings Settings) *worker {
	return &worker{
		id:        id,
		scheduler: s,
		item:      item,
		job:       item.Job,
		settings:  settings,
		logger: logging.NewComponentLogger(s.logger, "worker").With(
			logging.Int(logging.FieldWorkerID, id),
			logging.String(logging.FieldJobID, item.JobID)),
		estimator: progress.NewEstimator(settings.EWMAAlpha),
		sampler:   logging.NewProgressSampler(5),
	}
}

func (w *worker) run(ctx context.Context) {
	result := w.convert(ctx)
	w.scheduler.onWorkerDone(ctx, w, result)
}

func (w *worker) convert(ctx context.Context) workerResult {
	if _, err := os.Stat(w.job.SourcePath); err != nil {
		return workerResult{
			status:       queue.StatusFailed,
			errorMessage: fmt.Sprintf("source file missing: %s", w.job.SourcePath),
		}
	}

	placement, err := media.PlanOutput(w.job, w.settings.OnExists)
	if err != nil {
		return workerResult{status: queue.StatusFailed, errorMessage: err.Error()}
	}
	if placement.Skip {
		w.logger.Info("output exists, skipping", logging.String(logging.FieldOutput, placement.Path))
		return workerResult{
			status:     queue.StatusSucceeded,
			outputPath: placement.Path,
			logText:    "output already exists, skipped by policy",
		}
	}

	if err := os.MkdirAll(w.job.DestDir, 0o755); err != nil {
		return workerResult{status: queue.StatusFailed, errorMessage: "create destination: " + err.Error()}
	}

	spec := ffmpeg.CommandSpec{
		Binary: w.settings.FFmpegBinary,
		Args:   ffmpeg.BuildArgs(w.job, placement.Path),
	}

	handle, err := w.launch(ctx, spec)
	if err != nil {
		return workerResult{status: queue.StatusFailed, errorMessage: err.Error()}
	}
	w.mu.Lock()
	w.handle = handle
	alreadyStopped := w.stopRequested
	pausePending := w.paused && !alreadyStopped
	w.mu.Unlock()
	if alreadyStopped {
		_ = handle.Terminate(w.settings.StopGrace)
	} else if pausePending {
		// Pause was requested while the process was still launching.
		_ = handle.Pause()
	}

	w.estimator.Start(time.Now())
	ring := newLineRing(logRingCapacity)
	for line := range handle.Lines() {
		ring.add(line)
		w.observe(ctx, line)
	}
	waitErr := handle.Wait()
	logText := ring.text()

	w.mu.Lock()
	stopped := w.stopRequested
	w.mu.Unlock()

	if stopped {
		// Partial output is left in place for inspection.
		return workerResult{status: queue.StatusCancelled, logText: logText}
	}

	if waitErr != nil {
		return workerResult{
			status:       queue.StatusFailed,
			errorMessage: summarizeFailure(waitErr, ring.lines()),
			logText:      logText,
		}
	}

	if err := verifyOutput(placement.Path); err != nil {
		return workerResult{
			status:       queue.StatusFailed,
			errorMessage: err.Error(),
			logText:      logText,
		}
	}

	if w.job.DeleteOriginal {
		if err := os.Remove(w.job.SourcePath); err != nil {
			w.logger.Warn("delete original failed",
				logging.String(logging.FieldSource, w.job.SourcePath),
				logging.Error(err))
		}
	}

	return workerResult{status: queue.StatusSucceeded, outputPath: placement.Path, logText: logText}
}

// launch starts the process, retrying spawn failures with a short backoff.
// Execution failures after a successful start are never retried here.
func (w *worker) launch(ctx context.Context, spec ffmpeg.CommandSpec) (ffmpeg.Handle, error) {
	var lastErr error
	for attempt := 1; attempt <= launchTries; attempt++ {
		handle, err := w.scheduler.runner.Start(ctx, spec)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		w.logger.Warn("process launch failed",
			logging.Int("try", attempt),
			logging.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(launchBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (w *worker) observe(ctx context.Context, line string) {
	evt := ffmpeg.ParseLine(line)
	switch evt.Kind {
	case ffmpeg.KindNone:
		w.scheduler.hub.Publish(events.Event{
			Type:     events.TypeLog,
			JobID:    w.item.JobID,
			WorkerID: w.id,
			Message:  line,
		})
	case ffmpeg.KindDuration:
		w.estimator.SetTotal(evt.Seconds)
	case ffmpeg.KindProgress:
		snap, accepted := w.estimator.Observe(evt.Seconds, time.Now())
		if !accepted {
			return
		}
		w.mu.Lock()
		w.lastSnapshot = snap
		if evt.HasSpeed {
			w.lastSpeed = evt.Speed
		}
		speed := w.lastSpeed
		w.mu.Unlock()

		percent := snap.Percent()
		w.scheduler.hub.Publish(events.Event{
			Type:     events.TypeProgress,
			JobID:    w.item.JobID,
			WorkerID: w.id,
			Percent:  percent,
			ETA:      snap.ETA,
			ETAKnown: snap.ETAKnown,
			Speed:    speed,
		})
		if w.sampler.ShouldLog(percent) {
			message := fmt.Sprintf("%.1f%%", percent)
			if snap.ETAKnown {
				message += " eta " + snap.ETA.Round(time.Second).String()
			}
			if err := w.scheduler.store.UpdateProgress(ctx, w.item.ID, percent, message); err != nil {
				w.logger.Warn("persist progress failed", logging.Error(err))
			}
			w.logger.Debug("progress",
				logging.Float64(logging.FieldPercent, percent),
				logging.Float64(logging.FieldSpeed, speed))
		}
	}
}

// pause suspends the process. Before the process handle exists the intent is
// recorded and applied as soon as launch completes.
func (w *worker) pause() error {
	w.mu.Lock()
	if w.paused {
		w.mu.Unlock()
		return nil
	}
	w.paused = true
	handle := w.handle
	w.mu.Unlock()

	if handle != nil {
		if err := handle.Pause(); err != nil {
			w.mu.Lock()
			w.paused = false
			w.mu.Unlock()
			return err
		}
	}
	if err := w.scheduler.store.SetPaused(context.Background(), w.item.ID, true); err != nil {
		w.logger.Warn("persist paused state failed", logging.Error(err))
	}
	w.scheduler.hub.Publish(events.Event{
		Type:     events.TypeStatus,
		JobID:    w.item.JobID,
		WorkerID: w.id,
		Status:   string(queue.StatusPaused),
	})
	w.logger.Info("worker paused")
	return nil
}

func (w *worker) resume() error {
	w.mu.Lock()
	if !w.paused {
		w.mu.Unlock()
		return nil
	}
	w.paused = false
	handle := w.handle
	w.mu.Unlock()

	if handle != nil {
		if err := handle.Resume(); err != nil {
			return err
		}
	}
	if err := w.scheduler.store.SetPaused(context.Background(), w.item.ID, false); err != nil {
		w.logger.Warn("persist resumed state failed", logging.Error(err))
	}
	w.scheduler.hub.Publish(events.Event{
		Type:     events.TypeStatus,
		JobID:    w.item.JobID,
		WorkerID: w.id,
		Status:   string(queue.StatusRunning),
	})
	w.logger.Info("worker resumed")
	return nil
}

// requestStop marks the job cancelled and terminates the process. A paused
// process is resumed first so the termination signal is handled.
func (w *worker) requestStop() {
	w.mu.Lock()
	w.stopRequested = true
	handle := w.handle
	paused := w.paused
	w.mu.Unlock()

	if handle == nil {
		return
	}
	if paused {
		_ = handle.Resume()
	}
	go func() {
		if err := handle.Terminate(w.settings.StopGrace); err != nil {
			w.logger.Warn("terminate failed", logging.Error(err))
		}
	}()
}

func (w *worker) status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{
		ID:       w.id,
		JobID:    w.item.JobID,
		Source:   w.job.SourcePath,
		Format:   w.job.Format,
		Percent:  w.lastSnapshot.Percent(),
		ETA:      w.lastSnapshot.ETA,
		ETAKnown: w.lastSnapshot.ETAKnown,
		Paused:   w.paused,
	}
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output file missing: %s", path)
	}
	if info.Size() < minOutputBytes {
		return fmt.Errorf("output file too small (%d bytes): %s", info.Size(), path)
	}
	return nil
}

// summarizeFailure picks the most informative error line from the captured
// output, falling back to the last few lines.
func summarizeFailure(waitErr error, lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		lower := strings.ToLower(lines[i])
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "invalid") {
			return truncate(lines[i], errorSummaryMax)
		}
	}
	start := len(lines) - errorSummaryTail
	if start < 0 {
		start = 0
	}
	tail := strings.Join(lines[start:], "; ")
	if tail == "" {
		return waitErr.Error()
	}
	return truncate(waitErr.Error()+": "+tail, errorSummaryMax)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// lineRing keeps the last n output lines.
type lineRing struct {
	buf   []string
	next  int
	count int
}

func newLineRing(n int) *lineRing {
	return &lineRing{buf: make([]string, n)}
}

func (r *lineRing) add(line string) {
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *lineRing) lines() []string {
	out := make([]string, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *lineRing) text() string {
	return strings.Join(r.lines(), "\n")
}
