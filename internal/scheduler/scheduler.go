package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"handforge/internal/config"
	"handforge/internal/events"
	"handforge/internal/logging"
	"handforge/internal/media"
	"handforge/internal/queue"
	"handforge/internal/retry"
	"handforge/internal/services"
	"handforge/internal/services/ffmpeg"
)

// Settings are the scheduler knobs that may change at runtime via Configure.
type Settings struct {
	MaxParallel  int
	CodecCaps    map[string]int
	OnExists     string
	EWMAAlpha    float64
	StopGrace    time.Duration
	PollInterval time.Duration
	FFmpegBinary string
}

// SettingsFromConfig derives scheduler settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxParallel:  cfg.Conversion.MaxParallel,
		CodecCaps:    cfg.Conversion.CodecCaps,
		OnExists:     cfg.Conversion.OnExists,
		EWMAAlpha:    cfg.Progress.EWMAAlpha,
		StopGrace:    time.Duration(cfg.Workflow.StopGraceSeconds) * time.Second,
		PollInterval: time.Duration(cfg.Workflow.DispatchPollSeconds) * time.Second,
		FFmpegBinary: cfg.FFmpegBinary(),
	}
}

// WorkerStatus is a point-in-time view of one running worker.
type WorkerStatus struct {
	ID       int
	JobID    string
	Source   string
	Format   string
	Percent  float64
	ETA      time.Duration
	ETAKnown bool
	Paused   bool
}

// Scheduler dispatches queued jobs to a bounded pool of workers.
type Scheduler struct {
	store  *queue.Store
	hub    *events.Hub
	runner ffmpeg.Runner
	logger *slog.Logger
	retry  *retry.Controller

	mu           sync.Mutex
	settings     Settings
	workers      map[int]*worker
	nextWorkerID int
	pausedAll    bool
	closed       bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a scheduler. Start must be called before jobs dispatch.
func New(store *queue.Store, hub *events.Hub, runner ffmpeg.Runner, logger *slog.Logger, controller *retry.Controller, settings Settings) *Scheduler {
	clampParallel(&settings)
	if settings.PollInterval <= 0 {
		settings.PollInterval = time.Second
	}
	if settings.StopGrace <= 0 {
		settings.StopGrace = 10 * time.Second
	}
	return &Scheduler{
		store:    store,
		hub:      hub,
		runner:   runner,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		retry:    controller,
		settings: settings,
		workers:  make(map[int]*worker),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.dispatchLoop(ctx)
	s.kick()
}

// Stop closes the scheduler: no new submissions, running workers are asked to
// stop, and the call blocks until everything has wound down or ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	workers := snapshotWorkers(s.workers)
	s.mu.Unlock()

	close(s.stop)
	for _, w := range workers {
		w.requestStop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue validates and persists a job for dispatch.
func (s *Scheduler) Enqueue(ctx context.Context, job media.Job) (*queue.Item, error) {
	if err := job.Validate(); err != nil {
		return nil, services.Wrap(services.ErrSubmissionRejected, "scheduler", "enqueue", "", err)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, services.Wrap(services.ErrSubmissionRejected, "scheduler", "enqueue", "scheduler is shutting down", nil)
	}

	item, err := s.store.Add(ctx, job)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldSource, job.SourcePath),
		logging.String(logging.FieldFormat, job.Format))
	s.kick()
	return item, nil
}

// Configure applies new settings. A larger MaxParallel takes effect on the
// next dispatch; a smaller one lets running jobs finish without starting new
// ones.
func (s *Scheduler) Configure(settings Settings) {
	s.mu.Lock()
	clampParallel(&settings)
	if settings.PollInterval <= 0 {
		settings.PollInterval = s.settings.PollInterval
	}
	if settings.StopGrace <= 0 {
		settings.StopGrace = s.settings.StopGrace
	}
	if settings.FFmpegBinary == "" {
		settings.FFmpegBinary = s.settings.FFmpegBinary
	}
	s.settings = settings
	s.mu.Unlock()
	s.kick()
}

// PauseAll suspends every running worker and stops dispatching.
func (s *Scheduler) PauseAll() {
	s.mu.Lock()
	s.pausedAll = true
	workers := snapshotWorkers(s.workers)
	s.mu.Unlock()
	for _, w := range workers {
		_ = w.pause()
	}
}

// ResumeAll resumes paused workers and dispatching.
func (s *Scheduler) ResumeAll() {
	s.mu.Lock()
	s.pausedAll = false
	workers := snapshotWorkers(s.workers)
	s.mu.Unlock()
	for _, w := range workers {
		_ = w.resume()
	}
	s.kick()
}

// StopAll cancels everything still queued and asks every running worker to
// stop. Pending rows are cancelled first so dispatch cannot launch them while
// the running jobs wind down.
func (s *Scheduler) StopAll(ctx context.Context) error {
	cancelled, err := s.store.CancelPending(ctx)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		s.logger.Info("queued jobs cancelled", logging.Int64("count", cancelled))
	}

	s.mu.Lock()
	workers := snapshotWorkers(s.workers)
	s.mu.Unlock()
	for _, w := range workers {
		w.requestStop()
	}
	return nil
}

// PauseWorker suspends one worker by id.
func (s *Scheduler) PauseWorker(id int) error {
	w, err := s.findWorker(id)
	if err != nil {
		return err
	}
	return w.pause()
}

// ResumeWorker resumes one worker by id.
func (s *Scheduler) ResumeWorker(id int) error {
	w, err := s.findWorker(id)
	if err != nil {
		return err
	}
	return w.resume()
}

// StopWorker cancels one worker's job.
func (s *Scheduler) StopWorker(id int) error {
	w, err := s.findWorker(id)
	if err != nil {
		return err
	}
	w.requestStop()
	return nil
}

func (s *Scheduler) findWorker(id int) (*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("no running worker %d", id)
	}
	return w, nil
}

// Workers returns a snapshot of running workers ordered by id.
func (s *Scheduler) Workers() []WorkerStatus {
	s.mu.Lock()
	workers := snapshotWorkers(s.workers)
	s.mu.Unlock()

	statuses := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.status())
	}
	return statuses
}

// RetryFailed resubmits a failed or cancelled item. With safe set, the
// derived job converts to lossless WAV with codec parameters cleared.
func (s *Scheduler) RetryFailed(ctx context.Context, jobID string, safe bool) (*queue.Item, error) {
	item, err := s.store.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if item.Status != queue.StatusFailed && item.Status != queue.StatusCancelled {
		return nil, fmt.Errorf("job %s is %s, only failed or cancelled jobs can be retried", item.Job.ShortID(), item.Status)
	}

	var next media.Job
	if safe {
		next = item.Job.SafeRetry()
	} else {
		next = item.Job.NextAttempt()
	}
	resubmitted, err := s.store.AddRetry(ctx, next)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job resubmitted",
		logging.String(logging.FieldJobID, next.ID),
		logging.Int(logging.FieldAttempt, next.Attempt),
		logging.Bool("safe", safe))
	s.kick()
	return resubmitted, nil
}

// Drain blocks until no dispatchable or running items remain.
func (s *Scheduler) Drain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		stats, err := s.store.Stats(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		active := len(s.workers)
		s.mu.Unlock()
		if stats.Pending == 0 && stats.Running == 0 && active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.Lock()
	interval := s.settings.PollInterval
	s.mu.Unlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.wake:
		case <-ticker.C:
		}
		s.fillSlots(ctx)
	}
}

// fillSlots starts workers until capacity or the queue head is exhausted.
// Jobs whose format cap is saturated are skipped without losing their queue
// position.
func (s *Scheduler) fillSlots(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.closed || s.pausedAll || len(s.workers) >= s.settings.MaxParallel {
			s.mu.Unlock()
			return
		}
		saturated := s.saturatedLocked()
		settings := s.settings
		s.mu.Unlock()

		item, err := s.store.NextDispatchable(ctx, saturated)
		if errors.Is(err, queue.ErrNotFound) {
			return
		}
		if err != nil {
			s.logger.Error("dispatch query failed", logging.Error(err))
			return
		}

		if err := s.store.MarkRunning(ctx, item.ID); err != nil {
			s.logger.Error("mark running failed",
				logging.String(logging.FieldJobID, item.JobID),
				logging.Error(err))
			return
		}

		s.mu.Lock()
		s.nextWorkerID++
		w := newWorker(s, s.nextWorkerID, item, settings)
		s.workers[w.id] = w
		s.mu.Unlock()

		s.hub.Publish(events.Event{
			Type:     events.TypeDispatched,
			JobID:    item.JobID,
			WorkerID: w.id,
		})
		s.logger.Info("job dispatched",
			logging.String(logging.FieldJobID, item.JobID),
			logging.Int(logging.FieldWorkerID, w.id),
			logging.String(logging.FieldFormat, item.Format))

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.run(ctx)
		}()
	}
}

// saturatedLocked returns the set of formats whose concurrency cap is
// currently reached. Caller holds s.mu.
func (s *Scheduler) saturatedLocked() map[string]struct{} {
	if len(s.settings.CodecCaps) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, w := range s.workers {
		counts[w.item.Format]++
	}
	saturated := make(map[string]struct{})
	for format, limit := range s.settings.CodecCaps {
		if counts[format] >= limit {
			saturated[format] = struct{}{}
		}
	}
	return saturated
}

// onWorkerDone records the result, publishes events, and consults the retry
// controller for automatic resubmission. The worker stays in the table until
// any retry row is persisted, so Drain never observes an empty queue between
// a failure and its mandated resubmission.
func (s *Scheduler) onWorkerDone(ctx context.Context, w *worker, result workerResult) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if err := s.store.Finish(ctx, w.item.ID, queue.FinishParams{
		Status:       result.status,
		OutputPath:   result.outputPath,
		ErrorMessage: result.errorMessage,
		LogText:      result.logText,
	}); err != nil {
		s.logger.Error("persist result failed",
			logging.String(logging.FieldJobID, w.item.JobID),
			logging.Error(err))
	}

	eventType := events.TypeCompleted
	if result.status != queue.StatusSucceeded {
		eventType = events.TypeFailed
	}
	s.hub.Publish(events.Event{
		Type:     eventType,
		JobID:    w.item.JobID,
		WorkerID: w.id,
		Status:   string(result.status),
		Message:  result.errorMessage,
	})

	switch result.status {
	case queue.StatusSucceeded:
		s.logger.Info("job succeeded",
			logging.String(logging.FieldJobID, w.item.JobID),
			logging.String(logging.FieldOutput, result.outputPath))
	case queue.StatusCancelled:
		s.logger.Info("job cancelled", logging.String(logging.FieldJobID, w.item.JobID))
	default:
		s.logger.Warn("job failed",
			logging.String(logging.FieldJobID, w.item.JobID),
			logging.String("reason", result.errorMessage))
	}

	// Cancelled jobs are never auto-retried.
	if result.status == queue.StatusFailed && !closed {
		s.maybeAutoRetry(ctx, w.item, result.logText)
	}

	s.mu.Lock()
	delete(s.workers, w.id)
	s.mu.Unlock()
	s.kick()
}

func (s *Scheduler) maybeAutoRetry(ctx context.Context, item *queue.Item, logText string) {
	attempts, err := s.store.CountAttempts(ctx, item.OriginJobID)
	if err != nil {
		s.logger.Error("count attempts failed", logging.Error(err))
		return
	}
	rule, ok := s.retry.ShouldRetry(logText, attempts)
	if !ok {
		return
	}
	next := item.Job.NextAttempt()
	if _, err := s.store.AddRetry(ctx, next); err != nil {
		s.logger.Error("auto retry enqueue failed",
			logging.String(logging.FieldJobID, item.JobID),
			logging.Error(err))
		return
	}
	s.hub.Publish(events.Event{
		Type:    events.TypeStatus,
		JobID:   next.ID,
		Status:  string(queue.StatusRetrying),
		Message: "matched retry rule: " + rule,
	})
	s.logger.Info("auto retry scheduled",
		logging.String(logging.FieldJobID, next.ID),
		logging.Int(logging.FieldAttempt, next.Attempt),
		logging.String("rule", rule))
}

func clampParallel(settings *Settings) {
	if settings.MaxParallel < 1 {
		settings.MaxParallel = 1
	}
	if settings.MaxParallel > config.MaxParallelLimit {
		settings.MaxParallel = config.MaxParallelLimit
	}
}

func snapshotWorkers(workers map[int]*worker) []*worker {
	out := make([]*worker, 0, len(workers))
	for _, w := range workers {
		out = append(out, w)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].id > out[j].id; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
