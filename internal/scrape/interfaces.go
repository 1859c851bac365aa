package scrape

import (
	"context"
	"time"
)

// JobStore persists job rows and drives the lifecycle state machine.
type JobStore interface {
	// CreateJob purges any prior state for the id and inserts a fresh
	// pending row. Returns the total task count (one task per city).
	CreateJob(ctx context.Context, id, keyword string, cities, sources []string) (int, error)
	// MarkRunning transitions the job to running and stamps started_at.
	MarkRunning(ctx context.Context, id string) error
	// Pause succeeds only from running; it returns false otherwise.
	Pause(ctx context.Context, id string) (bool, error)
	// Resume succeeds only from paused; it returns false otherwise.
	Resume(ctx context.Context, id string) (bool, error)
	// Kill succeeds only from running or paused; it returns false otherwise,
	// including for jobs that are already terminal.
	Kill(ctx context.Context, id string) (bool, error)
	// IncrementCompleted atomically bumps completed_tasks and, in the same
	// transaction, transitions the job to completed when the counts match
	// and the status is neither terminal nor paused.
	IncrementCompleted(ctx context.Context, id string) error
	// DecrementCompleted lowers completed_tasks by one, flooring at zero.
	// Resume uses it to give back the count a cancelled or failed run
	// contributed before its target is re-spawned.
	DecrementCompleted(ctx context.Context, id string) error
	// GetStatus loads a read snapshot or returns ErrNotFound.
	GetStatus(ctx context.Context, id string) (JobView, error)
}

// TaskStore is the per-(job, city) task registry used for cancellation.
type TaskStore interface {
	// RegisterTask upserts a running task row with the pool handle.
	RegisterTask(ctx context.Context, jobID, city, handle string) error
	// MarkCancelled terminally cancels the row, inserting a handle-less row
	// when cancellation raced ahead of registration.
	MarkCancelled(ctx context.Context, jobID, city string) error
	// MarkCompleted terminally completes the row: failed when errText is
	// non-empty, success otherwise.
	MarkCompleted(ctx context.Context, jobID, city string, resultCount int, errText string) error
	// ActiveTasks returns non-terminal rows that carry a real handle.
	ActiveTasks(ctx context.Context, jobID string) ([]Task, error)
	// IncompleteTargets returns cities whose task is not yet terminal.
	IncompleteTargets(ctx context.Context, jobID string) ([]string, error)
	// GetTask loads one row or returns ErrNotFound.
	GetTask(ctx context.Context, jobID, city string) (Task, error)
}

// ProgressStore persists pagination cursors and failure counters.
type ProgressStore interface {
	// LastPage returns the last completed page, 0 when no row exists.
	LastPage(ctx context.Context, jobID, keyword, city string) (int, error)
	// SavePage records page as the last completed page.
	SavePage(ctx context.Context, jobID, keyword, city string, page int) error
	// RecordFailure increments the consecutive-failure counter and returns
	// the new count, creating the row when absent.
	RecordFailure(ctx context.Context, jobID, keyword, city string) (int, error)
	// RecordSuccess resets the failure counter. The blocked flag is
	// deliberately left untouched.
	RecordSuccess(ctx context.Context, jobID, keyword, city string) error
	// Trip permanently sets the blocked flag for this (job, city).
	Trip(ctx context.Context, jobID, keyword, city string) error
	// IsBlocked reports the blocked flag; false when no row exists.
	IsBlocked(ctx context.Context, jobID, keyword, city string) (bool, error)
	// Snapshot loads the full progress row or returns ErrNotFound.
	Snapshot(ctx context.Context, jobID, keyword, city string) (Progress, error)
}

// EventStore is the durable, strictly-ordered, per-job append log.
type EventStore interface {
	// Append assigns the next sequence number and persists the event,
	// retrying a bounded number of times on sequence collisions.
	Append(ctx context.Context, jobID string, typ EventType, payload []byte, ts time.Time) (int64, error)
	// Read returns events with sequence strictly greater than since,
	// ascending.
	Read(ctx context.Context, jobID string, since int64) ([]Event, error)
	// LatestSequence returns the highest committed sequence, 0 when empty.
	LatestSequence(ctx context.Context, jobID string) (int64, error)
}

// BusinessStore persists deduplicated output records.
type BusinessStore interface {
	// Save inserts the business; it returns false for duplicates of
	// (name, website, city, source) within the job.
	Save(ctx context.Context, b Business) (bool, error)
	// Count returns the number of businesses stored for the job.
	Count(ctx context.Context, jobID string) (int, error)
	// List returns all businesses for the job ordered by city then name.
	List(ctx context.Context, jobID string) ([]Business, error)
}

// Publisher pushes event envelopes to live subscribers. Delivery is
// best-effort; the event log remains the source of truth.
type Publisher interface {
	Publish(ctx context.Context, jobID, category string, envelope any) error
}

// Pool runs worker tasks and supports cancel-by-handle.
type Pool interface {
	// Spawn registers a task row for (jobID, city) and starts fn with a
	// context bounded by the pool's execution ceiling. It returns the
	// cancellation handle.
	Spawn(ctx context.Context, jobID, city string, fn TaskFunc) (string, error)
	// Cancel requests cancellation of the task owning the handle. It is a
	// best-effort optimization; the job status poll is authoritative.
	Cancel(handle string) bool
}

// TaskFunc is the body of one worker task.
type TaskFunc func(ctx context.Context)

// Source fetches one listing page for a (keyword, city) target. It is the
// boundary to the fetch/extraction collaborators.
type Source interface {
	Name() string
	FetchPage(ctx context.Context, keyword, city string, page int) (PageResult, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
