package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// ProgressStore implements scrape.ProgressStore on Postgres. Rows are unique
// per (job_id, keyword, city) and created lazily on the first write.
type ProgressStore struct {
	db DB
}

// NewProgressStore constructs a ProgressStore over an existing pool.
func NewProgressStore(db DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// LastPage returns the last completed page for the target, 0 without a row.
func (s *ProgressStore) LastPage(ctx context.Context, jobID, keyword, city string) (int, error) {
	query := `
		SELECT last_page FROM scrape_progress
		WHERE job_id = $1 AND keyword = $2 AND city = $3;
	`
	var page int
	err := s.db.QueryRow(ctx, query, jobID, keyword, city).Scan(&page)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get last page: %w", err)
	}
	return page, nil
}

// SavePage records the last completed page for the target.
func (s *ProgressStore) SavePage(ctx context.Context, jobID, keyword, city string, page int) error {
	query := `
		INSERT INTO scrape_progress (job_id, keyword, city, last_page, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, keyword, city) DO UPDATE
		SET last_page = EXCLUDED.last_page, last_updated = EXCLUDED.last_updated;
	`
	if _, err := s.db.Exec(ctx, query, jobID, keyword, city, page, time.Now().UTC()); err != nil {
		return fmt.Errorf("save page progress: %w", err)
	}
	return nil
}

// RecordFailure increments the consecutive-failure counter and returns the
// new count, creating the row if absent.
func (s *ProgressStore) RecordFailure(ctx context.Context, jobID, keyword, city string) (int, error) {
	query := `
		INSERT INTO scrape_progress (job_id, keyword, city, consecutive_failures, last_updated)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (job_id, keyword, city) DO UPDATE
		SET consecutive_failures = scrape_progress.consecutive_failures + 1, last_updated = EXCLUDED.last_updated
		RETURNING consecutive_failures;
	`
	var count int
	if err := s.db.QueryRow(ctx, query, jobID, keyword, city, time.Now().UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("record fetch failure: %w", err)
	}
	return count, nil
}

// RecordSuccess resets the consecutive-failure counter. The blocked flag is
// monotone and deliberately untouched.
func (s *ProgressStore) RecordSuccess(ctx context.Context, jobID, keyword, city string) error {
	query := `
		INSERT INTO scrape_progress (job_id, keyword, city, consecutive_failures, last_updated)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (job_id, keyword, city) DO UPDATE
		SET consecutive_failures = 0, last_updated = EXCLUDED.last_updated;
	`
	if _, err := s.db.Exec(ctx, query, jobID, keyword, city, time.Now().UTC()); err != nil {
		return fmt.Errorf("record fetch success: %w", err)
	}
	return nil
}

// Trip permanently sets the blocked flag for the target.
func (s *ProgressStore) Trip(ctx context.Context, jobID, keyword, city string) error {
	query := `
		INSERT INTO scrape_progress (job_id, keyword, city, blocked, last_updated)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (job_id, keyword, city) DO UPDATE
		SET blocked = TRUE, last_updated = EXCLUDED.last_updated;
	`
	if _, err := s.db.Exec(ctx, query, jobID, keyword, city, time.Now().UTC()); err != nil {
		return fmt.Errorf("trip circuit breaker: %w", err)
	}
	return nil
}

// IsBlocked reports the blocked flag, false when no row exists.
func (s *ProgressStore) IsBlocked(ctx context.Context, jobID, keyword, city string) (bool, error) {
	query := `
		SELECT blocked FROM scrape_progress
		WHERE job_id = $1 AND keyword = $2 AND city = $3;
	`
	var blocked bool
	err := s.db.QueryRow(ctx, query, jobID, keyword, city).Scan(&blocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get blocked flag: %w", err)
	}
	return blocked, nil
}

// Snapshot loads the full progress row or returns scrape.ErrNotFound.
func (s *ProgressStore) Snapshot(ctx context.Context, jobID, keyword, city string) (scrape.Progress, error) {
	query := `
		SELECT job_id, keyword, city, last_page, consecutive_failures, blocked, last_updated
		FROM scrape_progress
		WHERE job_id = $1 AND keyword = $2 AND city = $3;
	`
	var p scrape.Progress
	err := s.db.QueryRow(ctx, query, jobID, keyword, city).Scan(
		&p.JobID,
		&p.Keyword,
		&p.City,
		&p.LastPage,
		&p.Failures,
		&p.Blocked,
		&p.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Progress{}, scrape.ErrNotFound
		}
		return scrape.Progress{}, fmt.Errorf("get progress snapshot: %w", err)
	}
	return p, nil
}
