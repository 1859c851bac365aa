package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/metrics"
	"github.com/JakeFAU/bizscraper/internal/scrape"
)

const (
	appendMaxAttempts = 5
	appendBackoffStep = 25 * time.Millisecond
)

// EventStore implements scrape.EventStore on Postgres. The unique
// (job_id, sequence) constraint makes the read-max-then-insert sequencing
// safe: a concurrent appender loses the race, sees a unique violation, and
// retries with a fresh sequence.
type EventStore struct {
	db     DB
	logger *zap.Logger
}

// NewEventStore constructs an EventStore over an existing pool.
func NewEventStore(db DB, logger *zap.Logger) *EventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{db: db, logger: logger}
}

// Append assigns the next per-job sequence number and persists the event.
// Sequence collisions are expected under contention and retried with
// increasing backoff; only exhausted retries surface an error.
func (s *EventStore) Append(
	ctx context.Context,
	jobID string,
	typ scrape.EventType,
	payload []byte,
	ts time.Time,
) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= appendMaxAttempts; attempt++ {
		seq, conflict, err := s.appendOnce(ctx, jobID, typ, payload, ts)
		switch {
		case err != nil:
			return 0, err
		case !conflict:
			return seq, nil
		}
		lastErr = fmt.Errorf("sequence conflict at seq %d", seq)
		metrics.ObserveAppendConflict()
		s.logger.Debug("event append conflict, retrying",
			zap.String("job_id", jobID),
			zap.Int("attempt", attempt),
		)
		select {
		case <-time.After(time.Duration(attempt) * appendBackoffStep):
		case <-ctx.Done():
			return 0, fmt.Errorf("append event: %w", ctx.Err())
		}
	}
	return 0, fmt.Errorf("append event for job %s: retries exhausted: %w", jobID, lastErr)
}

// appendOnce performs one sequencing attempt. conflict=true means the caller
// should recompute and retry; any other failure is fatal for this append.
// The transaction stays short and makes no external calls, keeping retries
// cheap.
func (s *EventStore) appendOnce(
	ctx context.Context,
	jobID string,
	typ scrape.EventType,
	payload []byte,
	ts time.Time,
) (int64, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin append: %w", err)
	}
	defer rollback(ctx, tx, s.logger)

	var next int64
	seqQuery := `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM job_events WHERE job_id = $1;
	`
	if err := tx.QueryRow(ctx, seqQuery, jobID).Scan(&next); err != nil {
		return 0, false, fmt.Errorf("compute next sequence: %w", err)
	}

	insert := `
		INSERT INTO job_events (job_id, sequence, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := tx.Exec(ctx, insert, jobID, next, typ, payload, ts.UTC()); err != nil {
		if isUniqueViolation(err) {
			return next, true, nil
		}
		return 0, false, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return next, true, nil
		}
		return 0, false, fmt.Errorf("commit append: %w", err)
	}
	return next, false, nil
}

// Read returns events with sequence strictly greater than since, ascending.
func (s *EventStore) Read(ctx context.Context, jobID string, since int64) ([]scrape.Event, error) {
	query := `
		SELECT job_id, sequence, event_type, payload, created_at
		FROM job_events
		WHERE job_id = $1 AND sequence > $2
		ORDER BY sequence ASC;
	`
	rows, err := s.db.Query(ctx, query, jobID, since)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []scrape.Event
	for rows.Next() {
		var evt scrape.Event
		if err := rows.Scan(&evt.JobID, &evt.Sequence, &evt.Type, &evt.Payload, &evt.TS); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, evt)
	}
	// A mid-iteration connection error ends Next without an error from
	// Scan; a truncated replay must not pass for a complete one.
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// LatestSequence returns the highest committed sequence for the job.
func (s *EventStore) LatestSequence(ctx context.Context, jobID string) (int64, error) {
	query := `
		SELECT COALESCE(MAX(sequence), 0) FROM job_events WHERE job_id = $1;
	`
	var seq int64
	if err := s.db.QueryRow(ctx, query, jobID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get latest sequence: %w", err)
	}
	return seq, nil
}
