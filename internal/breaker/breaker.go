// Package breaker implements the per-target circuit breaker guarding the
// scrape loop against sites that start refusing us.
package breaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/events"
	"github.com/JakeFAU/bizscraper/internal/metrics"
	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// DefaultThreshold is the consecutive-failure count that trips the breaker.
const DefaultThreshold = 5

// Breaker counts consecutive fetch failures per (job, keyword, city) and
// trips the persistent blocked flag at the threshold. Tripping is one-way:
// later successes reset the counter but never clear the flag.
type Breaker struct {
	progress  scrape.ProgressStore
	emitter   *events.Emitter
	threshold int
	logger    *zap.Logger
}

// New builds a Breaker. A threshold of 0 or less falls back to the default.
func New(progress scrape.ProgressStore, emitter *events.Emitter, threshold int, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		progress:  progress,
		emitter:   emitter,
		threshold: threshold,
		logger:    logger,
	}
}

// Allow reports whether the target may be fetched.
func (b *Breaker) Allow(ctx context.Context, jobID, keyword, city string) (bool, error) {
	blocked, err := b.progress.IsBlocked(ctx, jobID, keyword, city)
	if err != nil {
		return false, fmt.Errorf("check blocked flag: %w", err)
	}
	return !blocked, nil
}

// Failure records one failed fetch. When the consecutive count reaches the
// threshold it trips the blocked flag, emits a warning event, and returns
// true.
func (b *Breaker) Failure(ctx context.Context, jobID, keyword, city string) (bool, error) {
	count, err := b.progress.RecordFailure(ctx, jobID, keyword, city)
	if err != nil {
		return false, fmt.Errorf("record failure: %w", err)
	}
	if count < b.threshold {
		return false, nil
	}

	if err := b.progress.Trip(ctx, jobID, keyword, city); err != nil {
		return false, fmt.Errorf("trip breaker: %w", err)
	}
	metrics.ObserveBreakerTrip()
	b.logger.Warn("circuit breaker tripped",
		zap.String("job_id", jobID),
		zap.String("city", city),
		zap.Int("consecutive_failures", count),
	)
	if b.emitter != nil {
		msg := fmt.Sprintf("circuit breaker tripped for %s after %d consecutive failures", city, count)
		if _, err := b.emitter.Warning(ctx, jobID, city, msg); err != nil {
			b.logger.Warn("breaker warning event not recorded", zap.Error(err))
		}
	}
	return true, nil
}

// Success records one successful fetch, resetting the consecutive count.
func (b *Breaker) Success(ctx context.Context, jobID, keyword, city string) error {
	if err := b.progress.RecordSuccess(ctx, jobID, keyword, city); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}
