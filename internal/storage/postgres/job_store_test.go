package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

func TestJobStoreCreateJobPurgesPriorState(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectBegin()
	for _, table := range []string{"businesses", "job_events", "task_status", "scrape_progress", "jobs"} {
		mock.ExpectExec("DELETE FROM " + table).
			WithArgs("job-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
	}
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			"job-1",
			"computer shop",
			[]string{"New York", "Chicago"},
			[]string{scrape.SourceYellowPages},
			scrape.JobStatusPending,
			2,
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	total, err := store.CreateJob(
		context.Background(),
		"job-1",
		"computer shop",
		[]string{"New York", "Chicago"},
		[]string{scrape.SourceYellowPages},
	)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStorePauseOnlyWhenRunning(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(scrape.JobStatusPaused, pgxmock.AnyArg(), "job-1", scrape.JobStatusRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := store.Pause(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Pausing a non-running job matches zero rows and reports failure.
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(scrape.JobStatusPaused, pgxmock.AnyArg(), "job-1", scrape.JobStatusRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err = store.Pause(context.Background(), "job-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreKillIdempotentFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	active := []string{string(scrape.JobStatusRunning), string(scrape.JobStatusPaused)}

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(scrape.JobStatusKilled, "job-1", active).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(scrape.JobStatusKilled, "job-1", active).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := store.Kill(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Kill(context.Background(), "job-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreIncrementCompletedTransitionsAtFullCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET completed_tasks").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"total_tasks", "completed_tasks", "status"}).
			AddRow(3, 3, scrape.JobStatusRunning))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(scrape.JobStatusCompleted, pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.IncrementCompleted(context.Background(), "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreIncrementCompletedSkipsTransitionWhenPaused(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET completed_tasks").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"total_tasks", "completed_tasks", "status"}).
			AddRow(3, 3, scrape.JobStatusPaused))
	mock.ExpectCommit()

	require.NoError(t, store.IncrementCompleted(context.Background(), "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreIncrementCompletedBelowTotal(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE jobs SET completed_tasks").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"total_tasks", "completed_tasks", "status"}).
			AddRow(3, 1, scrape.JobStatusRunning))
	mock.ExpectCommit()

	require.NoError(t, store.IncrementCompleted(context.Background(), "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreDecrementCompleted(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectExec("UPDATE jobs SET completed_tasks = GREATEST").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.DecrementCompleted(context.Background(), "job-1"))

	mock.ExpectExec("UPDATE jobs SET completed_tasks = GREATEST").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, store.DecrementCompleted(context.Background(), "missing"), scrape.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
