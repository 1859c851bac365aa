// Package scrape defines core types shared across subsystems.
package scrape

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SourceYellowPages is the only supported scrape source.
const SourceYellowPages = "yellowpages"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusKilled    JobStatus = "killed"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusKilled, JobStatusCompleted, JobStatusError:
		return true
	default:
		return false
	}
}

// TaskStatus represents the state of one (job, city) task.
type TaskStatus string

// Task status values persisted in the task registry.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSuccess   TaskStatus = "success"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether a task row may never revert to non-terminal.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Job represents the metadata persisted for each submitted scrape request.
type Job struct {
	ID             string     `json:"job_id"`
	Keyword        string     `json:"keyword"`
	Cities         []string   `json:"cities"`
	Sources        []string   `json:"sources"`
	Status         JobStatus  `json:"status"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// JobView is the read-only snapshot returned by status queries.
type JobView struct {
	Job
	Progress      float64 `json:"progress"`
	BusinessCount int     `json:"business_count"`
}

// Task tracks the execution of one city within a job. Handle is the
// worker-pool cancellation reference; it is nil when cancellation raced
// ahead of registration and no real handle ever existed.
type Task struct {
	JobID       string     `json:"job_id"`
	City        string     `json:"city"`
	Handle      *string    `json:"handle,omitempty"`
	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	ResultCount int        `json:"result_count"`
	ErrorText   string     `json:"error_message,omitempty"`
}

// Progress records pagination and blocking state per (job, keyword, city).
type Progress struct {
	JobID       string    `json:"job_id"`
	Keyword     string    `json:"keyword"`
	City        string    `json:"city"`
	LastPage    int       `json:"last_page"`
	Failures    int       `json:"consecutive_failures"`
	Blocked     bool      `json:"blocked"`
	LastUpdated time.Time `json:"last_updated"`
}

// EventType tags entries in the per-job event log.
type EventType string

// Supported event types.
const (
	EventBusiness EventType = "business"
	EventStatus   EventType = "status"
	EventWarning  EventType = "warning"
	EventError    EventType = "error"
	EventMetrics  EventType = "metrics"
)

// Event is one entry of the per-job append-only log. Sequence starts at 1
// and is strictly increasing with no committed gaps.
type Event struct {
	JobID    string          `json:"job_id"`
	Sequence int64           `json:"sequence"`
	Type     EventType       `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	TS       time.Time       `json:"timestamp"`
}

// Business is the output record produced by the scrape loop.
type Business struct {
	JobID     string    `json:"job_id"`
	Name      string    `json:"business_name"`
	Website   string    `json:"website"`
	City      string    `json:"city"`
	Source    string    `json:"source"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Record is a single extracted listing returned by a Source page fetch.
type Record struct {
	Name    string
	Website string
}

// PageResult is the outcome of fetching one listing page.
type PageResult struct {
	Records []Record
	HasMore bool
}
