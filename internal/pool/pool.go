// Package pool is the in-process worker-task runtime. It owns task
// goroutines, their execution ceilings, and cancel-by-handle.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/metrics"
	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// Execution ceilings. The hard limit cancels the task context outright;
// the soft limit is advisory and queried by the loop via SoftDeadline.
const (
	DefaultHardLimit = 30 * time.Minute
	DefaultSoftLimit = 28 * time.Minute
)

type softDeadlineKey struct{}

// SoftDeadline returns the advisory deadline attached to a task context.
// Loops should wind down once it passes; the hard ceiling follows shortly.
func SoftDeadline(ctx context.Context) (time.Time, bool) {
	d, ok := ctx.Value(softDeadlineKey{}).(time.Time)
	return d, ok
}

// Config bounds task execution.
type Config struct {
	HardLimit time.Duration
	SoftLimit time.Duration
}

func (c Config) withDefaults() Config {
	if c.HardLimit <= 0 {
		c.HardLimit = DefaultHardLimit
	}
	if c.SoftLimit <= 0 || c.SoftLimit > c.HardLimit {
		c.SoftLimit = c.HardLimit - 2*time.Minute
		if c.SoftLimit <= 0 {
			c.SoftLimit = c.HardLimit
		}
	}
	return c
}

// Runtime implements scrape.Pool over plain goroutines. The task row is
// registered before the goroutine is released, so cancellation can never
// observe a spawned-but-unregistered task.
type Runtime struct {
	tasks  scrape.TaskStore
	ids    scrape.IDGenerator
	cfg    Config
	logger *zap.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Runtime. Close releases every running task.
func New(tasks scrape.TaskStore, ids scrape.IDGenerator, cfg Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Runtime{
		tasks:      tasks,
		ids:        ids,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Spawn registers a running task row for (jobID, city) and starts fn on
// its own goroutine with a hard-ceiling context. It returns the handle
// under which the task can be cancelled.
func (r *Runtime) Spawn(ctx context.Context, jobID, city string, fn scrape.TaskFunc) (string, error) {
	handle, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate task handle: %w", err)
	}
	if err := r.tasks.RegisterTask(ctx, jobID, city, handle); err != nil {
		return "", fmt.Errorf("register task %s/%s: %w", jobID, city, err)
	}

	taskCtx, cancel := context.WithTimeout(r.rootCtx, r.cfg.HardLimit)
	taskCtx = context.WithValue(taskCtx, softDeadlineKey{}, time.Now().Add(r.cfg.SoftLimit))

	r.mu.Lock()
	r.cancels[handle] = cancel
	r.mu.Unlock()

	metrics.IncActiveTasks()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer metrics.DecActiveTasks()
		defer r.release(handle)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("task panicked",
					zap.String("job_id", jobID),
					zap.String("city", city),
					zap.Any("panic", rec),
				)
			}
		}()
		fn(taskCtx)
	}()
	return handle, nil
}

// Cancel requests cancellation of the task owning the handle. It returns
// false when the handle is unknown or the task already finished.
func (r *Runtime) Cancel(handle string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[handle]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Close cancels all running tasks and waits for them to finish.
func (r *Runtime) Close() {
	r.rootCancel()
	r.wg.Wait()
}

func (r *Runtime) release(handle string) {
	r.mu.Lock()
	cancel, ok := r.cancels[handle]
	delete(r.cancels, handle)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
