package queue

import (
	"strings"
	"time"

	"handforge/internal/media"
)

// Status represents the lifecycle state of a queue item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal rows are never
// mutated; a retry inserts a new row.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Dispatchable reports whether the scheduler may pick up an item in this
// state.
func (s Status) Dispatchable() bool {
	return s == StatusPending || s == StatusRetrying
}

// ParseStatus validates a user-supplied status string.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusPending:
		return StatusPending, true
	case StatusRetrying:
		return StatusRetrying, true
	case StatusRunning:
		return StatusRunning, true
	case StatusPaused:
		return StatusPaused, true
	case StatusSucceeded:
		return StatusSucceeded, true
	case StatusFailed:
		return StatusFailed, true
	case StatusCancelled:
		return StatusCancelled, true
	}
	return "", false
}

// Item is one persisted queue entry. The job snapshot is stored as JSON next
// to the indexed columns.
type Item struct {
	ID          int64
	JobID       string
	OriginJobID string
	Attempt     int
	SourcePath  string
	DestDir     string
	Format      string
	Mode        string
	Status      Status

	Job media.Job

	ErrorMessage    string
	LogText         string
	OutputPath      string
	ProgressPercent float64
	ProgressMessage string

	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
	DurationSeconds float64
}

// Stats summarizes the queue by status.
type Stats struct {
	Total     int
	ByStatus  map[Status]int
	Running   int
	Pending   int
	Failed    int
	Succeeded int
}
