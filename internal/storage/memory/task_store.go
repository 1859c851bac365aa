package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

type taskKey struct {
	jobID string
	city  string
}

// TaskStore is a mutex-guarded scrape.TaskStore.
type TaskStore struct {
	mu     sync.Mutex
	tasks  map[taskKey]*scrape.Task
	logger *zap.Logger
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore(logger *zap.Logger) *TaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskStore{
		tasks:  make(map[taskKey]*scrape.Task),
		logger: logger,
	}
}

// RegisterTask upserts the initial running row for a spawned task.
func (s *TaskStore) RegisterTask(_ context.Context, jobID, city, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	h := handle
	s.tasks[taskKey{jobID, city}] = &scrape.Task{
		JobID:     jobID,
		City:      city,
		Handle:    &h,
		Status:    scrape.TaskStatusRunning,
		StartedAt: &now,
	}
	return nil
}

// MarkCancelled terminally cancels the row, inserting a handle-less row
// when cancellation raced ahead of registration.
func (s *TaskStore) MarkCancelled(_ context.Context, jobID, city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key := taskKey{jobID, city}
	if t, ok := s.tasks[key]; ok {
		t.Status = scrape.TaskStatusCancelled
		t.CancelledAt = &now
		return nil
	}
	s.logger.Warn("cancellation arrived before task registration",
		zap.String("job_id", jobID),
		zap.String("city", city),
	)
	s.tasks[key] = &scrape.Task{
		JobID:       jobID,
		City:        city,
		Status:      scrape.TaskStatusCancelled,
		CancelledAt: &now,
	}
	return nil
}

// MarkCompleted terminally completes the row: failed when errText is
// non-empty, success otherwise.
func (s *TaskStore) MarkCompleted(_ context.Context, jobID, city string, resultCount int, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	status := scrape.TaskStatusSuccess
	if errText != "" {
		status = scrape.TaskStatusFailed
	}
	key := taskKey{jobID, city}
	if t, ok := s.tasks[key]; ok {
		t.Status = status
		t.CompletedAt = &now
		t.ResultCount = resultCount
		t.ErrorText = errText
		return nil
	}
	s.logger.Warn("completion arrived with no registered task row",
		zap.String("job_id", jobID),
		zap.String("city", city),
	)
	s.tasks[key] = &scrape.Task{
		JobID:       jobID,
		City:        city,
		Status:      status,
		CompletedAt: &now,
		ResultCount: resultCount,
		ErrorText:   errText,
	}
	return nil
}

// ActiveTasks returns non-terminal rows carrying a real handle.
func (s *TaskStore) ActiveTasks(_ context.Context, jobID string) ([]scrape.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scrape.Task
	for key, t := range s.tasks {
		if key.jobID != jobID || t.Handle == nil {
			continue
		}
		if t.Status == scrape.TaskStatusRunning || t.Status == scrape.TaskStatusPending {
			out = append(out, *t)
		}
	}
	return out, nil
}

// IncompleteTargets returns cities whose task row is not terminal.
func (s *TaskStore) IncompleteTargets(_ context.Context, jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key, t := range s.tasks {
		if key.jobID == jobID && !t.Status.Terminal() {
			out = append(out, key.city)
		}
	}
	return out, nil
}

// GetTask loads one row or returns scrape.ErrNotFound.
func (s *TaskStore) GetTask(_ context.Context, jobID, city string) (scrape.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskKey{jobID, city}]
	if !ok {
		return scrape.Task{}, scrape.ErrNotFound
	}
	return *t, nil
}

func (s *TaskStore) purge(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.tasks {
		if key.jobID == jobID {
			delete(s.tasks, key)
		}
	}
}
