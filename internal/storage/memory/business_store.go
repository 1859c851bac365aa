package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

type businessKey struct {
	jobID   string
	name    string
	website string
	city    string
	source  string
}

// BusinessStore is a mutex-guarded scrape.BusinessStore with per-job dedup.
type BusinessStore struct {
	mu   sync.Mutex
	rows map[businessKey]scrape.Business
}

// NewBusinessStore constructs a BusinessStore.
func NewBusinessStore() *BusinessStore {
	return &BusinessStore{rows: make(map[businessKey]scrape.Business)}
}

// Save inserts the business; duplicates return false.
func (s *BusinessStore) Save(_ context.Context, b scrape.Business) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := businessKey{b.JobID, b.Name, b.Website, b.City, b.Source}
	if _, ok := s.rows[key]; ok {
		return false, nil
	}
	s.rows[key] = b
	return true, nil
}

// Count returns the number of businesses stored for the job.
func (s *BusinessStore) Count(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key := range s.rows {
		if key.jobID == jobID {
			count++
		}
	}
	return count, nil
}

// List returns the job's businesses ordered by city then name.
func (s *BusinessStore) List(_ context.Context, jobID string) ([]scrape.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scrape.Business
	for key, b := range s.rows {
		if key.jobID == jobID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].City != out[j].City {
			return out[i].City < out[j].City
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *BusinessStore) purge(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.rows {
		if key.jobID == jobID {
			delete(s.rows, key)
		}
	}
}
