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

// TaskStore implements scrape.TaskStore on Postgres. Rows are unique per
// (job_id, city).
type TaskStore struct {
	db     DB
	logger *zap.Logger
}

// NewTaskStore constructs a TaskStore over an existing pool.
func NewTaskStore(db DB, logger *zap.Logger) *TaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskStore{db: db, logger: logger}
}

// RegisterTask upserts the initial running row for a spawned task.
func (s *TaskStore) RegisterTask(ctx context.Context, jobID, city, handle string) error {
	query := `
		INSERT INTO task_status (job_id, city, handle, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, city) DO UPDATE
		SET handle = EXCLUDED.handle, status = EXCLUDED.status, started_at = EXCLUDED.started_at;
	`
	if _, err := s.db.Exec(ctx, query, jobID, city, handle, scrape.TaskStatusRunning, time.Now().UTC()); err != nil {
		return fmt.Errorf("register task: %w", err)
	}
	return nil
}

// MarkCancelled terminally cancels the task row, preserving handle and
// started_at. When no row exists the cancellation raced ahead of
// registration; a handle-less row is inserted and the anomaly logged. A fake
// handle is never synthesized.
func (s *TaskStore) MarkCancelled(ctx context.Context, jobID, city string) error {
	now := time.Now().UTC()
	update := `
		UPDATE task_status SET status = $1, cancelled_at = $2
		WHERE job_id = $3 AND city = $4;
	`
	res, err := s.db.Exec(ctx, update, scrape.TaskStatusCancelled, now, jobID, city)
	if err != nil {
		return fmt.Errorf("mark task cancelled: %w", err)
	}
	if res.RowsAffected() > 0 {
		return nil
	}

	s.logger.Warn("cancellation arrived before task registration",
		zap.String("job_id", jobID),
		zap.String("city", city),
	)
	insert := `
		INSERT INTO task_status (job_id, city, handle, status, cancelled_at)
		VALUES ($1, $2, NULL, $3, $4)
		ON CONFLICT (job_id, city) DO NOTHING;
	`
	if _, err := s.db.Exec(ctx, insert, jobID, city, scrape.TaskStatusCancelled, now); err != nil {
		return fmt.Errorf("insert cancelled task: %w", err)
	}
	return nil
}

// MarkCompleted terminally completes the task row with the same
// upsert-or-insert discipline as MarkCancelled.
func (s *TaskStore) MarkCompleted(
	ctx context.Context,
	jobID, city string,
	resultCount int,
	errText string,
) error {
	status := scrape.TaskStatusSuccess
	var errVal *string
	if errText != "" {
		status = scrape.TaskStatusFailed
		errVal = &errText
	}
	now := time.Now().UTC()

	update := `
		UPDATE task_status SET status = $1, completed_at = $2, result_count = $3, error_message = $4
		WHERE job_id = $5 AND city = $6;
	`
	res, err := s.db.Exec(ctx, update, status, now, resultCount, errVal, jobID, city)
	if err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	if res.RowsAffected() > 0 {
		return nil
	}

	s.logger.Warn("completion arrived with no registered task row",
		zap.String("job_id", jobID),
		zap.String("city", city),
	)
	insert := `
		INSERT INTO task_status (job_id, city, handle, status, completed_at, result_count, error_message)
		VALUES ($1, $2, NULL, $3, $4, $5, $6)
		ON CONFLICT (job_id, city) DO NOTHING;
	`
	if _, err := s.db.Exec(ctx, insert, jobID, city, status, now, resultCount, errVal); err != nil {
		return fmt.Errorf("insert completed task: %w", err)
	}
	return nil
}

// ActiveTasks returns non-terminal rows carrying a real handle. Rows without
// a handle cannot be cancelled through the pool and are excluded.
func (s *TaskStore) ActiveTasks(ctx context.Context, jobID string) ([]scrape.Task, error) {
	query := `
		SELECT job_id, city, handle, status, started_at, completed_at, cancelled_at, result_count, error_message
		FROM task_status
		WHERE job_id = $1 AND status = ANY($2) AND handle IS NOT NULL;
	`
	rows, err := s.db.Query(ctx, query, jobID, []string{
		string(scrape.TaskStatusRunning),
		string(scrape.TaskStatusPending),
	})
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// IncompleteTargets returns cities whose task row is not terminal.
func (s *TaskStore) IncompleteTargets(ctx context.Context, jobID string) ([]string, error) {
	query := `
		SELECT city FROM task_status
		WHERE job_id = $1 AND NOT (status = ANY($2));
	`
	rows, err := s.db.Query(ctx, query, jobID, []string{
		string(scrape.TaskStatusSuccess),
		string(scrape.TaskStatusFailed),
		string(scrape.TaskStatusCancelled),
	})
	if err != nil {
		return nil, fmt.Errorf("list incomplete targets: %w", err)
	}
	defer rows.Close()

	var cities []string
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, fmt.Errorf("scan incomplete target: %w", err)
		}
		cities = append(cities, city)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incomplete targets: %w", err)
	}
	return cities, nil
}

// GetTask loads one task row or returns scrape.ErrNotFound.
func (s *TaskStore) GetTask(ctx context.Context, jobID, city string) (scrape.Task, error) {
	query := `
		SELECT job_id, city, handle, status, started_at, completed_at, cancelled_at, result_count, error_message
		FROM task_status
		WHERE job_id = $1 AND city = $2;
	`
	var t scrape.Task
	var errText *string
	err := s.db.QueryRow(ctx, query, jobID, city).Scan(
		&t.JobID,
		&t.City,
		&t.Handle,
		&t.Status,
		&t.StartedAt,
		&t.CompletedAt,
		&t.CancelledAt,
		&t.ResultCount,
		&errText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Task{}, scrape.ErrNotFound
		}
		return scrape.Task{}, fmt.Errorf("get task: %w", err)
	}
	if errText != nil {
		t.ErrorText = *errText
	}
	return t, nil
}

func scanTasks(rows pgx.Rows) ([]scrape.Task, error) {
	var tasks []scrape.Task
	for rows.Next() {
		var t scrape.Task
		var errText *string
		if err := rows.Scan(
			&t.JobID,
			&t.City,
			&t.Handle,
			&t.Status,
			&t.StartedAt,
			&t.CompletedAt,
			&t.CancelledAt,
			&t.ResultCount,
			&errText,
		); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		if errText != nil {
			t.ErrorText = *errText
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}
