package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"handforge/internal/config"
	"handforge/internal/media"
)

// ErrNotFound is returned when a lookup matches no queue item.
var ErrNotFound = errors.New("queue item not found")

// Store manages queue persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "queue.db")
	return OpenPath(dbPath)
}

// OpenPath opens the queue database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	// Pragmas go in the DSN so they apply to every pooled connection, not
	// just the one a plain Exec would run on.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

const schema = `
CREATE TABLE IF NOT EXISTS queue_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL UNIQUE,
    origin_job_id TEXT NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 1,
    source_path TEXT NOT NULL,
    dest_dir TEXT NOT NULL,
    format TEXT NOT NULL,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    job_json TEXT NOT NULL,
    error_message TEXT,
    log_text TEXT,
    output_path TEXT,
    progress_percent REAL NOT NULL DEFAULT 0,
    progress_message TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    started_at TEXT,
    finished_at TEXT,
    duration_seconds REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status);
CREATE INDEX IF NOT EXISTS idx_queue_origin ON queue_items(origin_job_id);
CREATE INDEX IF NOT EXISTS idx_queue_created ON queue_items(created_at);
`

func (s *Store) applyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Add persists a fresh submission as pending.
func (s *Store) Add(ctx context.Context, job media.Job) (*Item, error) {
	return s.insert(ctx, job, StatusPending)
}

// AddRetry persists a derived attempt as retrying, keeping its queue position
// by insertion time.
func (s *Store) AddRetry(ctx context.Context, job media.Job) (*Item, error) {
	return s.insert(ctx, job, StatusRetrying)
}

func (s *Store) insert(ctx context.Context, job media.Job, status Status) (*Item, error) {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO queue_items (
            job_id, origin_job_id, attempt, source_path, dest_dir, format, mode,
            status, job_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.OriginID,
		job.Attempt,
		job.SourcePath,
		job.DestDir,
		job.Format,
		job.Mode,
		status,
		string(jobJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

const itemColumns = `id, job_id, origin_job_id, attempt, source_path, dest_dir,
    format, mode, status, job_json, error_message, log_text, output_path,
    progress_percent, progress_message, created_at, updated_at, started_at,
    finished_at, duration_seconds`

// GetByID fetches one item by its row id.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	return scanItem(row)
}

// GetByJobID fetches one item by its job uuid. Prefix matches are accepted
// when exactly one row matches.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE job_id = ?`, jobID)
	item, err := scanItem(row)
	if !errors.Is(err, ErrNotFound) {
		return item, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE job_id LIKE ? LIMIT 2`, jobID+"%")
	if err != nil {
		return nil, fmt.Errorf("query by job id prefix: %w", err)
	}
	defer rows.Close()

	var matches []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("job id prefix %q is ambiguous", jobID)
	}
}

// List returns items filtered by status, newest last. An empty filter returns
// everything.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextDispatchable returns the oldest pending or retrying item whose format
// is not in the saturated set. Saturated formats retain their queue position;
// they are skipped, not reordered.
func (s *Store) NextDispatchable(ctx context.Context, saturated map[string]struct{}) (*Item, error) {
	items, err := s.List(ctx, StatusPending, StatusRetrying)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if _, blocked := saturated[item.Format]; blocked {
			continue
		}
		return item, nil
	}
	return nil, ErrNotFound
}

// MarkRunning transitions an item into the running state.
func (s *Store) MarkRunning(ctx context.Context, id int64) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.update(ctx,
		`UPDATE queue_items SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
		StatusRunning, timestamp, timestamp, id)
}

// SetPaused flips the item between running and paused for display purposes.
func (s *Store) SetPaused(ctx context.Context, id int64, paused bool) error {
	status := StatusRunning
	if paused {
		status = StatusPaused
	}
	return s.update(ctx,
		`UPDATE queue_items SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		status, time.Now().UTC().Format(time.RFC3339Nano), id, StatusRunning, StatusPaused)
}

// UpdateProgress records the latest progress for a running item.
func (s *Store) UpdateProgress(ctx context.Context, id int64, percent float64, message string) error {
	return s.update(ctx,
		`UPDATE queue_items SET progress_percent = ?, progress_message = ?, updated_at = ? WHERE id = ?`,
		percent, nullableString(message), time.Now().UTC().Format(time.RFC3339Nano), id)
}

// FinishParams carries the terminal result for an item.
type FinishParams struct {
	Status       Status
	OutputPath   string
	ErrorMessage string
	LogText      string
}

// Finish moves an item into a terminal state and records its result. The
// wall-clock duration is derived from started_at.
func (s *Store) Finish(ctx context.Context, id int64, params FinishParams) error {
	if !params.Status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", params.Status)
	}
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item.Status.IsTerminal() {
		return fmt.Errorf("item %d already finished as %s", id, item.Status)
	}

	now := time.Now().UTC()
	var duration float64
	if !item.StartedAt.IsZero() {
		duration = now.Sub(item.StartedAt).Seconds()
	}
	percent := item.ProgressPercent
	if params.Status == StatusSucceeded {
		percent = 100
	}
	return s.update(ctx,
		`UPDATE queue_items SET status = ?, output_path = ?, error_message = ?,
            log_text = ?, progress_percent = ?, finished_at = ?, updated_at = ?,
            duration_seconds = ? WHERE id = ?`,
		params.Status,
		nullableString(params.OutputPath),
		nullableString(params.ErrorMessage),
		nullableString(params.LogText),
		percent,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		duration,
		id)
}

// CountAttempts returns how many rows share a job lineage.
func (s *Store) CountAttempts(ctx context.Context, originJobID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE origin_job_id = ?`, originJobID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// Stats summarizes the queue.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	stats.Running = stats.ByStatus[StatusRunning] + stats.ByStatus[StatusPaused]
	stats.Pending = stats.ByStatus[StatusPending] + stats.ByStatus[StatusRetrying]
	stats.Failed = stats.ByStatus[StatusFailed]
	stats.Succeeded = stats.ByStatus[StatusSucceeded]
	return stats, nil
}

// CancelPending marks every dispatchable item cancelled and returns the
// count. Used by stop-all so queued work does not launch after the running
// jobs are terminated.
func (s *Store) CancelPending(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, finished_at = ?, updated_at = ? WHERE status IN (?, ?)`,
		StatusCancelled, now, now, StatusPending, StatusRetrying)
	if err != nil {
		return 0, fmt.Errorf("cancel pending items: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a single non-running item.
func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE id = ? AND status NOT IN (?, ?)`,
		id, StatusRunning, StatusPaused)
	if err != nil {
		return fmt.Errorf("remove queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("item %d is running or does not exist", id)
	}
	return nil
}

// ClearCompleted removes succeeded items and returns the count.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.clear(ctx, StatusSucceeded)
}

// ClearFailed removes failed and cancelled items and returns the count.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.clear(ctx, StatusFailed, StatusCancelled)
}

// Clear removes every item not currently running.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE status NOT IN (?, ?)`,
		StatusRunning, StatusPaused)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) clear(ctx context.Context, statuses ...Status) (int64, error) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = status
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("clear queue items: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		item            Item
		jobJSON         string
		errorMessage    sql.NullString
		logText         sql.NullString
		outputPath      sql.NullString
		progressMessage sql.NullString
		createdAt       string
		updatedAt       string
		startedAt       sql.NullString
		finishedAt      sql.NullString
	)
	err := scanner.Scan(
		&item.ID,
		&item.JobID,
		&item.OriginJobID,
		&item.Attempt,
		&item.SourcePath,
		&item.DestDir,
		&item.Format,
		&item.Mode,
		&item.Status,
		&jobJSON,
		&errorMessage,
		&logText,
		&outputPath,
		&item.ProgressPercent,
		&progressMessage,
		&createdAt,
		&updatedAt,
		&startedAt,
		&finishedAt,
		&item.DurationSeconds,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}

	if err := json.Unmarshal([]byte(jobJSON), &item.Job); err != nil {
		return nil, fmt.Errorf("decode job snapshot: %w", err)
	}
	item.ErrorMessage = errorMessage.String
	item.LogText = logText.String
	item.OutputPath = outputPath.String
	item.ProgressMessage = progressMessage.String
	item.CreatedAt = parseTimestamp(createdAt)
	item.UpdatedAt = parseTimestamp(updatedAt)
	if startedAt.Valid {
		item.StartedAt = parseTimestamp(startedAt.String)
	}
	if finishedAt.Valid {
		item.FinishedAt = parseTimestamp(finishedAt.String)
	}
	return &item, nil
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	return time.Time{}
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
