package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

type progressKey struct {
	jobID   string
	keyword string
	city    string
}

// ProgressStore is a mutex-guarded scrape.ProgressStore.
type ProgressStore struct {
	mu   sync.Mutex
	rows map[progressKey]*scrape.Progress
}

// NewProgressStore constructs a ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{rows: make(map[progressKey]*scrape.Progress)}
}

func (s *ProgressStore) row(jobID, keyword, city string) *scrape.Progress {
	key := progressKey{jobID, keyword, city}
	p, ok := s.rows[key]
	if !ok {
		p = &scrape.Progress{JobID: jobID, Keyword: keyword, City: city}
		s.rows[key] = p
	}
	return p
}

// LastPage returns the last completed page, 0 without a row.
func (s *ProgressStore) LastPage(_ context.Context, jobID, keyword, city string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.rows[progressKey{jobID, keyword, city}]; ok {
		return p.LastPage, nil
	}
	return 0, nil
}

// SavePage records the last completed page.
func (s *ProgressStore) SavePage(_ context.Context, jobID, keyword, city string, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.row(jobID, keyword, city)
	p.LastPage = page
	p.LastUpdated = time.Now().UTC()
	return nil
}

// RecordFailure increments the consecutive-failure counter.
func (s *ProgressStore) RecordFailure(_ context.Context, jobID, keyword, city string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.row(jobID, keyword, city)
	p.Failures++
	p.LastUpdated = time.Now().UTC()
	return p.Failures, nil
}

// RecordSuccess resets the failure counter without touching the blocked flag.
func (s *ProgressStore) RecordSuccess(_ context.Context, jobID, keyword, city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.row(jobID, keyword, city)
	p.Failures = 0
	p.LastUpdated = time.Now().UTC()
	return nil
}

// Trip permanently sets the blocked flag.
func (s *ProgressStore) Trip(_ context.Context, jobID, keyword, city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.row(jobID, keyword, city)
	p.Blocked = true
	p.LastUpdated = time.Now().UTC()
	return nil
}

// IsBlocked reports the blocked flag, false without a row.
func (s *ProgressStore) IsBlocked(_ context.Context, jobID, keyword, city string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.rows[progressKey{jobID, keyword, city}]; ok {
		return p.Blocked, nil
	}
	return false, nil
}

// Snapshot loads the full row or returns scrape.ErrNotFound.
func (s *ProgressStore) Snapshot(_ context.Context, jobID, keyword, city string) (scrape.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.rows[progressKey{jobID, keyword, city}]; ok {
		return *p, nil
	}
	return scrape.Progress{}, scrape.ErrNotFound
}

func (s *ProgressStore) purge(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.rows {
		if key.jobID == jobID {
			delete(s.rows, key)
		}
	}
}
