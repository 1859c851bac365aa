// Package worker runs the per-target scrape loop. Each task owns exactly
// one (keyword, city) target and is the only writer of its progress row.
package worker

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/breaker"
	"github.com/JakeFAU/bizscraper/internal/events"
	"github.com/JakeFAU/bizscraper/internal/metrics"
	"github.com/JakeFAU/bizscraper/internal/pool"
	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// Config bounds the scrape loop.
type Config struct {
	// PollInterval is how often a paused task re-checks job status.
	PollInterval time.Duration
	// DelayMin/DelayMax bound the randomized pause between page fetches.
	DelayMin time.Duration
	DelayMax time.Duration
	// MaxPages caps pagination per target.
	MaxPages int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.DelayMin <= 0 {
		c.DelayMin = time.Second
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = 2 * c.DelayMin
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 25
	}
	return c
}

// Worker executes scrape tasks against one Source.
type Worker struct {
	jobs       scrape.JobStore
	tasks      scrape.TaskStore
	progress   scrape.ProgressStore
	businesses scrape.BusinessStore
	emitter    *events.Emitter
	breaker    *breaker.Breaker
	source     scrape.Source
	clock      scrape.Clock
	cfg        Config
	logger     *zap.Logger
}

// New builds a Worker.
func New(
	jobs scrape.JobStore,
	tasks scrape.TaskStore,
	progress scrape.ProgressStore,
	businesses scrape.BusinessStore,
	emitter *events.Emitter,
	brk *breaker.Breaker,
	source scrape.Source,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		jobs:       jobs,
		tasks:      tasks,
		progress:   progress,
		businesses: businesses,
		emitter:    emitter,
		breaker:    brk,
		source:     source,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Task returns the pool task body for one target.
func (w *Worker) Task(jobID, keyword, city string) scrape.TaskFunc {
	return func(ctx context.Context) {
		w.Run(ctx, jobID, keyword, city)
	}
}

// loopState enumerates where the scrape loop sits between iterations, so
// every cancellation check point is explicit.
type loopState int

const (
	stateFetching loopState = iota
	statePausedWait
	stateDone
)

// outcome accumulates what finish records. Exactly one of cancelled or a
// normal completion applies; errText marks the task failed.
type outcome struct {
	cancelled bool
	newCount  int
	errText   string
}

// Run drives the scrape loop for one target until a terminal state. All
// exit paths flow through finish, which records the terminal task status
// and increments the job's completed counter exactly once.
func (w *Worker) Run(ctx context.Context, jobID, keyword, city string) {
	res := &outcome{}
	defer w.finish(ctx, jobID, city, res)
	// Registered after finish so it runs first and finish still sees the
	// panic recorded as a failed outcome instead of an empty success.
	defer func() {
		if rec := recover(); rec != nil {
			res.cancelled = false
			res.errText = fmt.Sprintf("panic: %v", rec)
			w.logger.Error("task panicked",
				zap.String("job_id", jobID),
				zap.String("city", city),
				zap.Any("panic", rec),
			)
		}
	}()

	last, err := w.progress.LastPage(ctx, jobID, keyword, city)
	if err != nil {
		res.errText = fmt.Sprintf("load progress: %v", err)
		return
	}
	page := last + 1

	state := stateFetching
	for state != stateDone {
		if ctx.Err() != nil {
			res.cancelled = true
			return
		}
		if deadline, ok := pool.SoftDeadline(ctx); ok && w.clock.Now().After(deadline) {
			w.logger.Warn("soft execution ceiling reached",
				zap.String("job_id", jobID),
				zap.String("city", city),
			)
			res.cancelled = true
			return
		}

		view, err := w.jobs.GetStatus(ctx, jobID)
		if err != nil {
			res.errText = fmt.Sprintf("poll job status: %v", err)
			return
		}
		switch view.Status {
		case scrape.JobStatusKilled, scrape.JobStatusCompleted, scrape.JobStatusError:
			res.cancelled = true
			return
		case scrape.JobStatusPaused:
			state = statePausedWait
			if !w.sleep(ctx, w.cfg.PollInterval) {
				res.cancelled = true
				return
			}
			continue
		default:
			state = stateFetching
		}

		allowed, err := w.breaker.Allow(ctx, jobID, keyword, city)
		if err != nil {
			res.errText = fmt.Sprintf("check breaker: %v", err)
			return
		}
		if !allowed {
			// Target exhausted; the trip already produced its warning.
			state = stateDone
			continue
		}

		more, err := w.fetchPage(ctx, jobID, keyword, city, page, res)
		if err != nil {
			if ctx.Err() != nil {
				res.cancelled = true
				return
			}
			tripped, berr := w.breaker.Failure(ctx, jobID, keyword, city)
			if berr != nil {
				res.errText = fmt.Sprintf("record fetch failure: %v", berr)
				return
			}
			w.logger.Warn("page fetch failed",
				zap.String("job_id", jobID),
				zap.String("city", city),
				zap.Int("page", page),
				zap.Error(err),
			)
			if tripped {
				state = stateDone
				continue
			}
			if !w.sleep(ctx, w.interRequestDelay()) {
				res.cancelled = true
				return
			}
			continue
		}

		if err := w.breaker.Success(ctx, jobID, keyword, city); err != nil {
			res.errText = fmt.Sprintf("record fetch success: %v", err)
			return
		}
		if err := w.progress.SavePage(ctx, jobID, keyword, city, page); err != nil {
			res.errText = fmt.Sprintf("save progress: %v", err)
			return
		}

		if !more || page >= w.cfg.MaxPages {
			state = stateDone
			continue
		}
		page++
		if !w.sleep(ctx, w.interRequestDelay()) {
			res.cancelled = true
			return
		}
	}
}

// fetchPage fetches and records one listing page. It returns whether more
// pages remain.
func (w *Worker) fetchPage(ctx context.Context, jobID, keyword, city string, page int, res *outcome) (bool, error) {
	start := w.clock.Now()
	pr, err := w.source.FetchPage(ctx, keyword, city, page)
	if err != nil {
		metrics.ObservePage("error")
		return false, err
	}
	metrics.ObservePage("ok")

	newOnPage := 0
	for _, rec := range pr.Records {
		b := scrape.Business{
			JobID:     jobID,
			Name:      rec.Name,
			Website:   rec.Website,
			City:      city,
			Source:    w.source.Name(),
			ScrapedAt: w.clock.Now().UTC(),
		}
		saved, err := w.businesses.Save(ctx, b)
		if err != nil {
			return false, fmt.Errorf("save business: %w", err)
		}
		if saved {
			newOnPage++
			res.newCount++
			metrics.ObserveBusiness("new")
		} else {
			metrics.ObserveBusiness("duplicate")
		}
		if _, err := w.emitter.Business(ctx, jobID, events.BusinessFound{
			Name:      rec.Name,
			Website:   rec.Website,
			City:      city,
			Source:    w.source.Name(),
			Duplicate: !saved,
		}); err != nil {
			return false, fmt.Errorf("emit business event: %w", err)
		}
	}

	if len(pr.Records) == 0 {
		msg := fmt.Sprintf("no results on page %d for %s", page, city)
		if _, err := w.emitter.Warning(ctx, jobID, city, msg); err != nil {
			return false, fmt.Errorf("emit warning event: %w", err)
		}
	}

	if _, err := w.emitter.Metrics(ctx, jobID, events.PageMetrics{
		City:             city,
		Page:             page,
		RecordsExtracted: len(pr.Records),
		NewBusinesses:    newOnPage,
		DurationMS:       w.clock.Now().Sub(start).Milliseconds(),
	}); err != nil {
		return false, fmt.Errorf("emit metrics event: %w", err)
	}

	return pr.HasMore && len(pr.Records) > 0, nil
}

// finish records the terminal task state and bumps the job's completed
// counter. It runs on every exit path, including cancellation and ceiling
// expiry, on a context detached from the task's.
func (w *Worker) finish(taskCtx context.Context, jobID, city string, res *outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(taskCtx), 30*time.Second)
	defer cancel()

	if res.cancelled {
		if err := w.tasks.MarkCancelled(ctx, jobID, city); err != nil {
			w.logger.Error("mark task cancelled",
				zap.String("job_id", jobID),
				zap.String("city", city),
				zap.Error(err),
			)
		}
		metrics.ObserveTask(string(scrape.TaskStatusCancelled))
	} else {
		if err := w.tasks.MarkCompleted(ctx, jobID, city, res.newCount, res.errText); err != nil {
			w.logger.Error("mark task completed",
				zap.String("job_id", jobID),
				zap.String("city", city),
				zap.Error(err),
			)
		}
		if res.errText != "" {
			metrics.ObserveTask(string(scrape.TaskStatusFailed))
			if _, err := w.emitter.Failure(ctx, jobID, city, res.errText); err != nil {
				w.logger.Warn("task failure event not recorded", zap.Error(err))
			}
		} else {
			metrics.ObserveTask(string(scrape.TaskStatusSuccess))
		}
	}

	if err := w.jobs.IncrementCompleted(ctx, jobID); err != nil {
		w.logger.Error("increment completed counter",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

// sleep waits d or until the context is cancelled, reporting whether the
// full wait elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// interRequestDelay returns a randomized human-like pause between fetches.
func (w *Worker) interRequestDelay() time.Duration {
	span := w.cfg.DelayMax - w.cfg.DelayMin
	if span <= 0 {
		return w.cfg.DelayMin
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return w.cfg.DelayMin + span/2
	}
	return w.cfg.DelayMin + time.Duration(n.Int64())
}
