package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestProgressStoreLastPageDefaultsToZero(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewProgressStore(mock)

	mock.ExpectQuery("SELECT last_page FROM scrape_progress").
		WithArgs("job-1", "plumber", "Denver").
		WillReturnRows(pgxmock.NewRows([]string{"last_page"}))

	page, err := store.LastPage(context.Background(), "job-1", "plumber", "Denver")
	require.NoError(t, err)
	require.Equal(t, 0, page)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreRecordFailureReturnsNewCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewProgressStore(mock)

	mock.ExpectQuery("INSERT INTO scrape_progress").
		WithArgs("job-1", "plumber", "Denver", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"consecutive_failures"}).AddRow(5))

	count, err := store.RecordFailure(context.Background(), "job-1", "plumber", "Denver")
	require.NoError(t, err)
	require.Equal(t, 5, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreIsBlockedFalseWithoutRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewProgressStore(mock)

	mock.ExpectQuery("SELECT blocked FROM scrape_progress").
		WithArgs("job-1", "plumber", "Denver").
		WillReturnRows(pgxmock.NewRows([]string{"blocked"}))

	blocked, err := store.IsBlocked(context.Background(), "job-1", "plumber", "Denver")
	require.NoError(t, err)
	require.False(t, blocked)
	require.NoError(t, mock.ExpectationsWereMet())
}
