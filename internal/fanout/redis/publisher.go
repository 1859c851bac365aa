// Package redis implements the live-event publisher on Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Channel returns the pub/sub channel name for a job and category,
// e.g. job:3f2a:events or job:3f2a:metrics.
func Channel(jobID, category string) string {
	return fmt.Sprintf("job:%s:%s", jobID, category)
}

// Publisher pushes event envelopes to per-job Redis channels. Channels
// are ephemeral; subscribers that join late replay from the durable log.
type Publisher struct {
	client goredis.UniversalClient
}

// New creates a Publisher over an existing Redis client.
func New(client goredis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals the envelope to JSON and publishes it to the job's
// channel for the category.
func (p *Publisher) Publish(ctx context.Context, jobID, category string, envelope any) error {
	if p.client == nil {
		return fmt.Errorf("redis publisher is not configured")
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	channel := Channel(jobID, category)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
