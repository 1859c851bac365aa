// Package dispatch decides which targets get a worker task, at job
// creation and on resume, and tears running tasks down on pause/kill.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/events"
	"github.com/JakeFAU/bizscraper/internal/metrics"
	"github.com/JakeFAU/bizscraper/internal/scrape"
	"github.com/JakeFAU/bizscraper/internal/worker"
)

// Coordinator wires job lifecycle, the task registry, and the pool.
type Coordinator struct {
	jobs     scrape.JobStore
	tasks    scrape.TaskStore
	progress scrape.ProgressStore
	pool     scrape.Pool
	worker   *worker.Worker
	emitter  *events.Emitter
	maxPages int
	logger   *zap.Logger
}

// New builds a Coordinator. maxPages must match the worker's page cap so
// resume can tell an exhausted target from an interrupted one.
func New(
	jobs scrape.JobStore,
	tasks scrape.TaskStore,
	progress scrape.ProgressStore,
	pl scrape.Pool,
	w *worker.Worker,
	emitter *events.Emitter,
	maxPages int,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		jobs:     jobs,
		tasks:    tasks,
		progress: progress,
		pool:     pl,
		worker:   w,
		emitter:  emitter,
		maxPages: maxPages,
		logger:   logger,
	}
}

// Dispatch creates the job, marks it running, and spawns one worker task
// per city. Prior state under the same id is purged by CreateJob.
func (c *Coordinator) Dispatch(ctx context.Context, jobID, keyword string, cities, sources []string) (int, error) {
	total, err := c.jobs.CreateJob(ctx, jobID, keyword, cities, sources)
	if err != nil {
		return 0, fmt.Errorf("create job %s: %w", jobID, err)
	}
	if err := c.jobs.MarkRunning(ctx, jobID); err != nil {
		return 0, fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	if _, err := c.emitter.Status(ctx, jobID, scrape.JobStatusRunning, "job dispatched"); err != nil {
		c.logger.Warn("dispatch status event not recorded", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.ObserveJob(string(scrape.JobStatusRunning))

	for _, city := range cities {
		if _, err := c.pool.Spawn(ctx, jobID, city, c.worker.Task(jobID, keyword, city)); err != nil {
			return 0, fmt.Errorf("spawn task for %s/%s: %w", jobID, city, err)
		}
	}
	c.logger.Info("job dispatched",
		zap.String("job_id", jobID),
		zap.String("keyword", keyword),
		zap.Int("targets", total),
	)
	return total, nil
}

// respawnTarget is one city going back to the pool on resume. counted is
// true when a prior terminal run already bumped the job's completed
// counter, so that slot has to be given back before the new run starts.
type respawnTarget struct {
	city    string
	counted bool
}

// ResumeDispatch re-spawns the unfinished targets of a resumed job. A
// target qualifies when its task row is cancelled, failed, or absent with
// unexhausted pagination; running and pending rows are left alone. The
// completed counter is reconciled for every re-spawned terminal row before
// any worker starts, otherwise the first finisher would see the stale
// counts left by the pause-time cancellations and complete the job early.
func (c *Coordinator) ResumeDispatch(ctx context.Context, jobID string) (int, error) {
	view, err := c.jobs.GetStatus(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("load job %s: %w", jobID, err)
	}

	incomplete, err := c.tasks.IncompleteTargets(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("list incomplete targets: %w", err)
	}
	live := make(map[string]struct{}, len(incomplete))
	for _, city := range incomplete {
		live[city] = struct{}{}
	}

	var targets []respawnTarget
	for _, city := range view.Cities {
		if _, ok := live[city]; ok {
			// A running or pending row still owns this target.
			continue
		}
		task, err := c.tasks.GetTask(ctx, jobID, city)
		switch {
		case err == nil:
			if task.Status != scrape.TaskStatusCancelled && task.Status != scrape.TaskStatusFailed {
				continue
			}
			targets = append(targets, respawnTarget{city: city, counted: true})
		case errors.Is(err, scrape.ErrNotFound):
			snap, perr := c.progress.Snapshot(ctx, jobID, view.Keyword, city)
			switch {
			case errors.Is(perr, scrape.ErrNotFound):
				// Never started; the worker begins at page one.
			case perr != nil:
				return 0, fmt.Errorf("load progress for %s: %w", city, perr)
			default:
				if snap.Blocked || snap.LastPage >= c.maxPages {
					continue
				}
			}
			// An absent row never reached finish, so nothing to give back.
			targets = append(targets, respawnTarget{city: city})
		default:
			return 0, fmt.Errorf("load task for %s: %w", city, err)
		}
	}

	for _, t := range targets {
		if !t.counted {
			continue
		}
		if err := c.jobs.DecrementCompleted(ctx, jobID); err != nil {
			return 0, fmt.Errorf("reconcile completed counter for %s: %w", t.city, err)
		}
	}

	spawned := 0
	for _, t := range targets {
		if _, err := c.pool.Spawn(ctx, jobID, t.city, c.worker.Task(jobID, view.Keyword, t.city)); err != nil {
			return spawned, fmt.Errorf("respawn task for %s/%s: %w", jobID, t.city, err)
		}
		spawned++
	}

	if _, err := c.emitter.Status(ctx, jobID, scrape.JobStatusRunning, "job resumed"); err != nil {
		c.logger.Warn("resume status event not recorded", zap.String("job_id", jobID), zap.Error(err))
	}
	c.logger.Info("job resumed",
		zap.String("job_id", jobID),
		zap.Int("respawned", spawned),
	)
	return spawned, nil
}

// CancelActive cancels every active task of the job. The pool cancel is
// best-effort; rows are marked cancelled regardless, since workers treat
// the job status poll as the authoritative stop signal.
func (c *Coordinator) CancelActive(ctx context.Context, jobID string) (int, error) {
	active, err := c.tasks.ActiveTasks(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("list active tasks: %w", err)
	}
	for _, task := range active {
		if task.Handle != nil && !c.pool.Cancel(*task.Handle) {
			c.logger.Debug("pool cancel missed",
				zap.String("job_id", jobID),
				zap.String("city", task.City),
			)
		}
		if err := c.tasks.MarkCancelled(ctx, jobID, task.City); err != nil {
			return 0, fmt.Errorf("mark %s/%s cancelled: %w", jobID, task.City, err)
		}
	}
	return len(active), nil
}
