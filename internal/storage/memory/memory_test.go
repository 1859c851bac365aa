package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

func newStores() (*JobStore, *TaskStore, *ProgressStore, *EventStore, *BusinessStore) {
	tasks := NewTaskStore(zap.NewNop())
	progress := NewProgressStore()
	events := NewEventStore()
	businesses := NewBusinessStore()
	jobs := NewJobStore(businesses, tasks, progress, events)
	return jobs, tasks, progress, events, businesses
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	jobs, _, _, _, _ := newStores()

	total, err := jobs.CreateJob(ctx, "job-1", "plumber", []string{"austin", "dallas"}, []string{scrape.SourceYellowPages})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	view, err := jobs.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusPending, view.Status)

	ok, err := jobs.Pause(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, ok, "pause must be rejected before the job runs")

	require.NoError(t, jobs.MarkRunning(ctx, "job-1"))

	ok, err = jobs.Pause(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = jobs.Resume(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = jobs.Kill(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = jobs.Kill(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, ok, "kill is not repeatable once terminal")
}

func TestIncrementCompletedWhilePaused(t *testing.T) {
	ctx := context.Background()
	jobs, _, _, _, _ := newStores()

	_, err := jobs.CreateJob(ctx, "job-1", "plumber", []string{"austin"}, []string{scrape.SourceYellowPages})
	require.NoError(t, err)
	require.NoError(t, jobs.MarkRunning(ctx, "job-1"))

	ok, err := jobs.Pause(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, jobs.IncrementCompleted(ctx, "job-1"))

	view, err := jobs.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusPaused, view.Status, "a paused job never auto-completes")
	require.Equal(t, 1, view.CompletedTasks)
}

func TestConcurrentIncrementsCompleteExactlyOnce(t *testing.T) {
	ctx := context.Background()
	jobs, _, _, _, _ := newStores()

	const workers = 64
	cities := make([]string, workers)
	for i := range cities {
		cities[i] = "city"
	}
	_, err := jobs.CreateJob(ctx, "job-1", "plumber", cities, []string{scrape.SourceYellowPages})
	require.NoError(t, err)
	require.NoError(t, jobs.MarkRunning(ctx, "job-1"))

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- jobs.IncrementCompleted(ctx, "job-1")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	view, err := jobs.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, workers, view.CompletedTasks)
	require.Equal(t, scrape.JobStatusCompleted, view.Status)
	require.NotNil(t, view.CompletedAt)
}

func TestCreateJobPurgesPriorState(t *testing.T) {
	ctx := context.Background()
	jobs, tasks, progress, events, businesses := newStores()

	_, err := jobs.CreateJob(ctx, "job-1", "plumber", []string{"austin"}, []string{scrape.SourceYellowPages})
	require.NoError(t, err)
	require.NoError(t, tasks.RegisterTask(ctx, "job-1", "austin", "handle-1"))
	require.NoError(t, progress.SavePage(ctx, "job-1", "plumber", "austin", 4))
	_, err = events.Append(ctx, "job-1", scrape.EventStatus, []byte(`{}`), time.Now())
	require.NoError(t, err)
	saved, err := businesses.Save(ctx, scrape.Business{
		JobID: "job-1", Name: "Ace Plumbing", Website: "https://ace.example",
		City: "austin", Source: scrape.SourceYellowPages,
	})
	require.NoError(t, err)
	require.True(t, saved)

	_, err = jobs.CreateJob(ctx, "job-1", "plumber", []string{"austin"}, []string{scrape.SourceYellowPages})
	require.NoError(t, err)

	_, err = tasks.GetTask(ctx, "job-1", "austin")
	require.ErrorIs(t, err, scrape.ErrNotFound)
	page, err := progress.LastPage(ctx, "job-1", "plumber", "austin")
	require.NoError(t, err)
	require.Zero(t, page)
	seq, err := events.LatestSequence(ctx, "job-1")
	require.NoError(t, err)
	require.Zero(t, seq)
	count, err := businesses.Count(ctx, "job-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestConcurrentAppendsProduceDenseSequences(t *testing.T) {
	ctx := context.Background()
	events := NewEventStore()

	const perWriter = 100
	errs := make(chan error, 2*perWriter)
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := events.Append(ctx, "job-1", scrape.EventBusiness, []byte(`{}`), time.Now())
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := events.Read(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2*perWriter)
	for i, ev := range all {
		require.Equal(t, int64(i+1), ev.Sequence)
	}
}

func TestEventReadSince(t *testing.T) {
	ctx := context.Background()
	events := NewEventStore()

	for i := 0; i < 5; i++ {
		_, err := events.Append(ctx, "job-1", scrape.EventBusiness, []byte(`{}`), time.Now())
		require.NoError(t, err)
	}

	tail, err := events.Read(ctx, "job-1", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, int64(4), tail[0].Sequence)
	require.Equal(t, int64(5), tail[1].Sequence)

	empty, err := events.Read(ctx, "job-1", 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestCancellationBeforeRegistration(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskStore(zap.NewNop())

	require.NoError(t, tasks.MarkCancelled(ctx, "job-1", "austin"))

	task, err := tasks.GetTask(ctx, "job-1", "austin")
	require.NoError(t, err)
	require.Equal(t, scrape.TaskStatusCancelled, task.Status)
	require.Nil(t, task.Handle)

	active, err := tasks.ActiveTasks(ctx, "job-1")
	require.NoError(t, err)
	require.Empty(t, active, "handle-less rows are never cancellable again")
}

func TestMarkCompletedSetsFailureFromError(t *testing.T) {
	ctx := context.Background()
	tasks := NewTaskStore(zap.NewNop())

	require.NoError(t, tasks.RegisterTask(ctx, "job-1", "austin", "handle-1"))
	require.NoError(t, tasks.MarkCompleted(ctx, "job-1", "austin", 7, "connection reset"))

	task, err := tasks.GetTask(ctx, "job-1", "austin")
	require.NoError(t, err)
	require.Equal(t, scrape.TaskStatusFailed, task.Status)
	require.Equal(t, 7, task.ResultCount)
	require.Equal(t, "connection reset", task.ErrorText)

	targets, err := tasks.IncompleteTargets(ctx, "job-1")
	require.NoError(t, err)
	require.Empty(t, targets)
}

func TestProgressFailureCountingAndTrip(t *testing.T) {
	ctx := context.Background()
	progress := NewProgressStore()

	for i := 1; i <= 3; i++ {
		n, err := progress.RecordFailure(ctx, "job-1", "plumber", "austin")
		require.NoError(t, err)
		require.Equal(t, i, n)
	}
	require.NoError(t, progress.RecordSuccess(ctx, "job-1", "plumber", "austin"))

	n, err := progress.RecordFailure(ctx, "job-1", "plumber", "austin")
	require.NoError(t, err)
	require.Equal(t, 1, n, "success resets the consecutive counter")

	require.NoError(t, progress.Trip(ctx, "job-1", "plumber", "austin"))
	require.NoError(t, progress.RecordSuccess(ctx, "job-1", "plumber", "austin"))

	blocked, err := progress.IsBlocked(ctx, "job-1", "plumber", "austin")
	require.NoError(t, err)
	require.True(t, blocked, "the blocked flag is monotone")
}

func TestBusinessDedupAndListOrder(t *testing.T) {
	ctx := context.Background()
	businesses := NewBusinessStore()

	b := scrape.Business{
		JobID: "job-1", Name: "Ace Plumbing", Website: "https://ace.example",
		City: "dallas", Source: scrape.SourceYellowPages,
	}
	saved, err := businesses.Save(ctx, b)
	require.NoError(t, err)
	require.True(t, saved)

	saved, err = businesses.Save(ctx, b)
	require.NoError(t, err)
	require.False(t, saved, "exact duplicates are dropped")

	_, err = businesses.Save(ctx, scrape.Business{
		JobID: "job-1", Name: "Best Pipes", Website: "https://best.example",
		City: "austin", Source: scrape.SourceYellowPages,
	})
	require.NoError(t, err)

	list, err := businesses.List(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "austin", list[0].City)
	require.Equal(t, "dallas", list[1].City)
}

func TestDecrementCompletedFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	jobs, _, _, _, _ := newStores()

	_, err := jobs.CreateJob(ctx, "job-1", "plumber", []string{"austin", "dallas"}, []string{scrape.SourceYellowPages})
	require.NoError(t, err)
	require.NoError(t, jobs.MarkRunning(ctx, "job-1"))

	require.NoError(t, jobs.IncrementCompleted(ctx, "job-1"))
	require.NoError(t, jobs.DecrementCompleted(ctx, "job-1"))

	view, err := jobs.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 0, view.CompletedTasks)

	require.NoError(t, jobs.DecrementCompleted(ctx, "job-1"))
	view, err = jobs.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 0, view.CompletedTasks)

	require.ErrorIs(t, jobs.DecrementCompleted(ctx, "missing"), scrape.ErrNotFound)
}
