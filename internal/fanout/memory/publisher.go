// Package memory contains an in-memory publisher implementation for tests.
package memory

import (
	"context"
	"sync"
)

// Publisher stores published envelopes for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage

	// Err, when set, is returned by every Publish call.
	Err error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	JobID    string
	Category string
	Envelope any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the envelope.
func (p *Publisher) Publish(_ context.Context, jobID, category string, envelope any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, PublishedMessage{
		JobID:    jobID,
		Category: category,
		Envelope: envelope,
	})
	return nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
