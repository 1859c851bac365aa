// Package memory provides in-memory store implementations for development
// and tests. Semantics mirror the Postgres stores, including the atomic
// increment-then-check completion transition.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// purger removes all rows belonging to one job id.
type purger interface {
	purge(jobID string)
}

// JobStore is a mutex-guarded scrape.JobStore.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*scrape.Job

	businesses *BusinessStore
	purgers    []purger
}

// NewJobStore constructs a JobStore. When businesses is non-nil, GetStatus
// includes the job's business count. All attached purgers (event, task,
// progress, business stores) are wiped when a job id is recreated,
// mirroring the Postgres purge-in-transaction.
func NewJobStore(businesses *BusinessStore, purgers ...purger) *JobStore {
	s := &JobStore{
		jobs:       make(map[string]*scrape.Job),
		businesses: businesses,
		purgers:    purgers,
	}
	if businesses != nil {
		s.purgers = append(s.purgers, businesses)
	}
	return s
}

// CreateJob purges prior state for the id and inserts a fresh pending row.
func (s *JobStore) CreateJob(
	_ context.Context,
	id, keyword string,
	cities, sources []string,
) (int, error) {
	for _, p := range s.purgers {
		p.purge(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	s.jobs[id] = &scrape.Job{
		ID:         id,
		Keyword:    keyword,
		Cities:     append([]string(nil), cities...),
		Sources:    append([]string(nil), sources...),
		Status:     scrape.JobStatusPending,
		TotalTasks: len(cities),
		CreatedAt:  time.Now().UTC(),
	}
	return len(cities), nil
}

// MarkRunning transitions the job to running and stamps started_at.
func (s *JobStore) MarkRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return scrape.ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = scrape.JobStatusRunning
	job.StartedAt = &now
	return nil
}

// Pause succeeds only while the job is running.
func (s *JobStore) Pause(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != scrape.JobStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = scrape.JobStatusPaused
	job.PausedAt = &now
	return true, nil
}

// Resume succeeds only while the job is paused.
func (s *JobStore) Resume(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != scrape.JobStatusPaused {
		return false, nil
	}
	job.Status = scrape.JobStatusRunning
	job.PausedAt = nil
	return true, nil
}

// Kill succeeds only from running or paused.
func (s *JobStore) Kill(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != scrape.JobStatusRunning && job.Status != scrape.JobStatusPaused {
		return false, nil
	}
	job.Status = scrape.JobStatusKilled
	return true, nil
}

// IncrementCompleted bumps the counter and performs the completion check
// under the same lock, matching the transactional Postgres behavior.
func (s *JobStore) IncrementCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return scrape.ErrNotFound
	}
	if job.CompletedTasks < job.TotalTasks {
		job.CompletedTasks++
	}
	if job.CompletedTasks >= job.TotalTasks &&
		!job.Status.Terminal() &&
		job.Status != scrape.JobStatusPaused {
		now := time.Now().UTC()
		job.Status = scrape.JobStatusCompleted
		job.CompletedAt = &now
	}
	return nil
}

// DecrementCompleted lowers the counter by one, flooring at zero. Resume
// reconciliation calls it per re-spawned target.
func (s *JobStore) DecrementCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return scrape.ErrNotFound
	}
	if job.CompletedTasks > 0 {
		job.CompletedTasks--
	}
	return nil
}

// GetStatus returns a snapshot copy of the job.
func (s *JobStore) GetStatus(ctx context.Context, id string) (scrape.JobView, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return scrape.JobView{}, scrape.ErrNotFound
	}
	view := scrape.JobView{Job: *job}
	view.Cities = append([]string(nil), job.Cities...)
	view.Sources = append([]string(nil), job.Sources...)
	s.mu.Unlock()

	if view.TotalTasks > 0 {
		view.Progress = float64(view.CompletedTasks) / float64(view.TotalTasks) * 100
	}
	if s.businesses != nil {
		count, err := s.businesses.Count(ctx, id)
		if err != nil {
			return scrape.JobView{}, err
		}
		view.BusinessCount = count
	}
	return view, nil
}

