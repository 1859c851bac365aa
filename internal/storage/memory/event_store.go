package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// EventStore is a mutex-guarded scrape.EventStore. Sequencing happens under
// the lock, so appends never conflict; the conflict-retry branch is specific
// to the Postgres implementation.
type EventStore struct {
	mu     sync.Mutex
	events map[string][]scrape.Event
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string][]scrape.Event)}
}

// Append assigns the next sequence number and stores the event.
func (s *EventStore) Append(
	_ context.Context,
	jobID string,
	typ scrape.EventType,
	payload []byte,
	ts time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := int64(len(s.events[jobID])) + 1
	s.events[jobID] = append(s.events[jobID], scrape.Event{
		JobID:    jobID,
		Sequence: next,
		Type:     typ,
		Payload:  append([]byte(nil), payload...),
		TS:       ts.UTC(),
	})
	return next, nil
}

// Read returns events with sequence strictly greater than since.
func (s *EventStore) Read(_ context.Context, jobID string, since int64) ([]scrape.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[jobID]
	if since >= int64(len(all)) {
		return nil, nil
	}
	out := make([]scrape.Event, len(all[since:]))
	copy(out, all[since:])
	return out, nil
}

// LatestSequence returns the highest committed sequence for the job.
func (s *EventStore) LatestSequence(_ context.Context, jobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events[jobID])), nil
}

func (s *EventStore) purge(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, jobID)
}
