package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// JobStore implements scrape.JobStore on Postgres.
type JobStore struct {
	db     DB
	logger *zap.Logger
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(db DB, logger *zap.Logger) *JobStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{db: db, logger: logger}
}

// CreateJob purges all prior rows for the id and inserts a fresh pending job.
// Recreation with an existing id is a hard reset, not a merge.
func (s *JobStore) CreateJob(
	ctx context.Context,
	id, keyword string,
	cities, sources []string,
) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin create job: %w", err)
	}
	defer rollback(ctx, tx, s.logger)

	for _, table := range []string{"businesses", "job_events", "task_status", "scrape_progress", "jobs"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE job_id = $1", table), id); err != nil {
			return 0, fmt.Errorf("purge %s: %w", table, err)
		}
	}

	totalTasks := len(cities)
	query := `
		INSERT INTO jobs (job_id, keyword, cities, sources, status, total_tasks, completed_tasks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7);
	`
	if _, err := tx.Exec(
		ctx,
		query,
		id,
		keyword,
		cities,
		sources,
		scrape.JobStatusPending,
		totalTasks,
		time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit create job: %w", err)
	}
	return totalTasks, nil
}

// MarkRunning transitions the job to running and stamps started_at.
func (s *JobStore) MarkRunning(ctx context.Context, id string) error {
	query := `
		UPDATE jobs SET status = $1, started_at = $2
		WHERE job_id = $3;
	`
	res, err := s.db.Exec(ctx, query, scrape.JobStatusRunning, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if res.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// Pause succeeds only while the job is running.
func (s *JobStore) Pause(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE jobs SET status = $1, paused_at = $2
		WHERE job_id = $3 AND status = $4;
	`
	res, err := s.db.Exec(ctx, query, scrape.JobStatusPaused, time.Now().UTC(), id, scrape.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("pause job: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// Resume succeeds only while the job is paused.
func (s *JobStore) Resume(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE jobs SET status = $1, paused_at = NULL
		WHERE job_id = $2 AND status = $3;
	`
	res, err := s.db.Exec(ctx, query, scrape.JobStatusRunning, id, scrape.JobStatusPaused)
	if err != nil {
		return false, fmt.Errorf("resume job: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// Kill succeeds only from running or paused; a second kill returns false.
func (s *JobStore) Kill(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE jobs SET status = $1
		WHERE job_id = $2 AND status = ANY($3);
	`
	res, err := s.db.Exec(
		ctx,
		query,
		scrape.JobStatusKilled,
		id,
		[]string{string(scrape.JobStatusRunning), string(scrape.JobStatusPaused)},
	)
	if err != nil {
		return false, fmt.Errorf("kill job: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// IncrementCompleted bumps completed_tasks and performs the completion check
// inside the same transaction. The initial UPDATE row-locks the job, so
// concurrent increments from independent workers serialize here and exactly
// one of them observes the final count.
func (s *JobStore) IncrementCompleted(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin increment: %w", err)
	}
	defer rollback(ctx, tx, s.logger)

	var (
		total     int
		completed int
		status    scrape.JobStatus
	)
	// LEAST keeps the counter within total even when a resumed target's
	// earlier cancelled run already counted.
	query := `
		UPDATE jobs SET completed_tasks = LEAST(completed_tasks + 1, total_tasks)
		WHERE job_id = $1
		RETURNING total_tasks, completed_tasks, status;
	`
	if err := tx.QueryRow(ctx, query, id).Scan(&total, &completed, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.ErrNotFound
		}
		return fmt.Errorf("increment completed tasks: %w", err)
	}

	// Paused blocks the automatic completion transition; a stale increment
	// must not finish a job the operator has paused.
	if completed >= total && !status.Terminal() && status != scrape.JobStatusPaused {
		finish := `
			UPDATE jobs SET status = $1, completed_at = $2
			WHERE job_id = $3;
		`
		if _, err := tx.Exec(ctx, finish, scrape.JobStatusCompleted, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit increment: %w", err)
	}
	return nil
}

// DecrementCompleted gives back one completed slot, flooring at zero.
// Resume calls it for every target whose terminal run is about to be
// re-spawned, so the counter cannot sit at total while work restarts.
func (s *JobStore) DecrementCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE jobs SET completed_tasks = GREATEST(completed_tasks - 1, 0)
		WHERE job_id = $1;
	`
	res, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("decrement completed tasks: %w", err)
	}
	if res.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// GetStatus loads a job snapshot including progress percentage and the
// business count.
func (s *JobStore) GetStatus(ctx context.Context, id string) (scrape.JobView, error) {
	query := `
		SELECT j.job_id, j.keyword, j.cities, j.sources, j.status,
		       j.total_tasks, j.completed_tasks,
		       j.created_at, j.started_at, j.paused_at, j.completed_at,
		       (SELECT COUNT(*) FROM businesses b WHERE b.job_id = j.job_id)
		FROM jobs j
		WHERE j.job_id = $1;
	`
	var view scrape.JobView
	err := s.db.QueryRow(ctx, query, id).Scan(
		&view.ID,
		&view.Keyword,
		&view.Cities,
		&view.Sources,
		&view.Status,
		&view.TotalTasks,
		&view.CompletedTasks,
		&view.CreatedAt,
		&view.StartedAt,
		&view.PausedAt,
		&view.CompletedAt,
		&view.BusinessCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.JobView{}, scrape.ErrNotFound
		}
		return scrape.JobView{}, fmt.Errorf("get job status: %w", err)
	}
	if view.TotalTasks > 0 {
		view.Progress = float64(view.CompletedTasks) / float64(view.TotalTasks) * 100
	}
	return view, nil
}

func rollback(ctx context.Context, tx pgx.Tx, logger *zap.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Warn("transaction rollback failed", zap.Error(err))
	}
}
