package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/storm-data-shared/retry"
)

// RetryPolicy bounds per-key upsert retries after a failed batch write.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy retries each key three times, starting at 200ms and
// doubling up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// store upserts points as one batch. If the batch fails, each point is
// retried on its own so one bad key cannot sink the others; successful writes
// are never rolled back. It returns the stored points and one
// *domain.StorageError per key that still failed.
func (p *Pipeline) store(ctx context.Context, points []domain.Point) ([]domain.Point, []error) {
	err := p.st.Upsert(ctx, points)
	if err == nil {
		return points, nil
	}
	p.logger.Warn("batch upsert failed, retrying per key", "points", len(points), "error", err)

	stored := make([]domain.Point, 0, len(points))
	var errs []error
	for _, pt := range points {
		if ctx.Err() != nil {
			errs = append(errs, &domain.StorageError{Key: pt.Key(), Err: ctx.Err()})
			continue
		}
		attempts, err := p.upsertOne(ctx, pt)
		if err != nil {
			p.logger.Warn("upsert failed", "location", pt.Location, "dataset", pt.Dataset,
				"key", pt.Key().String(), "attempts", attempts, "error", err)
			errs = append(errs, &domain.StorageError{Key: pt.Key(), Attempts: attempts, Err: err})
			continue
		}
		stored = append(stored, pt)
	}
	return stored, errs
}

func (p *Pipeline) upsertOne(ctx context.Context, pt domain.Point) (int, error) {
	backoff := p.retry.InitialBackoff
	var err error
	for attempt := 1; attempt <= p.retry.Attempts; attempt++ {
		if err = p.st.Upsert(ctx, []domain.Point{pt}); err == nil {
			return attempt, nil
		}
		if attempt == p.retry.Attempts {
			return attempt, err
		}
		p.metrics.StoreRetries.Inc()
		if !retry.SleepWithContext(ctx, backoff) {
			return attempt, ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, p.retry.MaxBackoff)
	}
	return p.retry.Attempts, err
}

// mirror writes stored points to every sink. Sink failures are logged and
// counted; they never fail the pull.
func (p *Pipeline) mirror(ctx context.Context, runID string, points []domain.Point) {
	if len(points) == 0 {
		return
	}
	for _, s := range p.sinks {
		if err := s.Write(ctx, runID, points); err != nil {
			p.logger.Warn("mirror write failed", "sink", s.Name(), "run_id", runID, "points", len(points), "error", err)
			p.metrics.MirrorErrors.WithLabelValues(s.Name()).Inc()
		}
	}
}
