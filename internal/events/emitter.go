// Package events provides the Emitter, the single write path for the
// per-job event log. Every emit appends durably first and only then
// fans the event out to live subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/metrics"
	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// Fanout channel categories. Metrics events travel on their own channel
// so dashboards can subscribe without draining the main stream.
const (
	CategoryEvents  = "events"
	CategoryMetrics = "metrics"
)

// Envelope is the wire shape pushed to subscribers. Data carries the
// type-specific payload exactly as stored in the log.
type Envelope struct {
	Type      scrape.EventType `json:"type"`
	JobID     string           `json:"job_id"`
	Sequence  int64            `json:"sequence"`
	Data      json.RawMessage  `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// BusinessFound is the payload of a business event.
type BusinessFound struct {
	Name      string `json:"business_name"`
	Website   string `json:"website"`
	City      string `json:"city"`
	Source    string `json:"source"`
	Duplicate bool   `json:"duplicate"`
}

// StatusChanged is the payload of a status event.
type StatusChanged struct {
	Status scrape.JobStatus `json:"status"`
	Detail string           `json:"detail,omitempty"`
}

// WarningRaised is the payload of a warning event.
type WarningRaised struct {
	Message string `json:"message"`
	City    string `json:"city,omitempty"`
}

// FailureRaised is the payload of an error event.
type FailureRaised struct {
	Message string `json:"message"`
	City    string `json:"city,omitempty"`
}

// PageMetrics is the payload of a metrics event, one per fetched page.
type PageMetrics struct {
	City             string `json:"city"`
	Page             int    `json:"page"`
	RecordsExtracted int    `json:"records_extracted"`
	NewBusinesses    int    `json:"new_businesses"`
	DurationMS       int64  `json:"duration_ms"`
}

// Emitter appends events to the durable log and mirrors them to the
// fanout publisher. The log is the source of truth; publish failures
// are logged and swallowed.
type Emitter struct {
	store  scrape.EventStore
	pub    scrape.Publisher
	clock  scrape.Clock
	logger *zap.Logger
}

// NewEmitter builds an Emitter. pub may be nil to disable fanout.
func NewEmitter(store scrape.EventStore, pub scrape.Publisher, clock scrape.Clock, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{store: store, pub: pub, clock: clock, logger: logger}
}

// Emit serializes payload, appends it to the job's log, and publishes
// the enveloped event. The returned sequence is the one the log
// assigned; it is valid even when fanout fails.
func (e *Emitter) Emit(ctx context.Context, jobID string, typ scrape.EventType, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	ts := e.clock.Now().UTC()
	seq, err := e.store.Append(ctx, jobID, typ, data, ts)
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", typ, err)
	}
	metrics.ObserveEvent(string(typ))

	if e.pub == nil {
		return seq, nil
	}
	category := CategoryEvents
	if typ == scrape.EventMetrics {
		category = CategoryMetrics
	}
	env := Envelope{
		Type:      typ,
		JobID:     jobID,
		Sequence:  seq,
		Data:      data,
		Timestamp: ts,
	}
	if err := e.pub.Publish(ctx, jobID, category, env); err != nil {
		e.logger.Warn("event fanout failed",
			zap.String("job_id", jobID),
			zap.String("type", string(typ)),
			zap.Int64("sequence", seq),
			zap.Error(err),
		)
	}
	return seq, nil
}

// Business emits a business-found event.
func (e *Emitter) Business(ctx context.Context, jobID string, p BusinessFound) (int64, error) {
	return e.Emit(ctx, jobID, scrape.EventBusiness, p)
}

// Status emits a status-changed event.
func (e *Emitter) Status(ctx context.Context, jobID string, status scrape.JobStatus, detail string) (int64, error) {
	return e.Emit(ctx, jobID, scrape.EventStatus, StatusChanged{Status: status, Detail: detail})
}

// Warning emits a warning event.
func (e *Emitter) Warning(ctx context.Context, jobID, city, message string) (int64, error) {
	return e.Emit(ctx, jobID, scrape.EventWarning, WarningRaised{Message: message, City: city})
}

// Failure emits an error event.
func (e *Emitter) Failure(ctx context.Context, jobID, city, message string) (int64, error) {
	return e.Emit(ctx, jobID, scrape.EventError, FailureRaised{Message: message, City: city})
}

// Metrics emits a per-page metrics event.
func (e *Emitter) Metrics(ctx context.Context, jobID string, p PageMetrics) (int64, error) {
	return e.Emit(ctx, jobID, scrape.EventMetrics, p)
}
