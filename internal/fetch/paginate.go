package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/storm-data-shared/retry"
)

// Page is one decoded page of results. When the response declares a
// count/offset/limit triple, HasMeta is set and those fields drive paging;
// otherwise a short page ends the fetch.
type Page[T any] struct {
	Items   []T
	HasMeta bool
	Count   int
	Offset  int
	Limit   int
}

// PageFunc requests the page starting at offset with the given page size.
type PageFunc[T any] func(ctx context.Context, offset, limit int) (Page[T], error)

// Paginator holds the paging and rate-limit policy for FetchPages.
type Paginator struct {
	// PageSize is the requested limit per page.
	PageSize int
	// Delay is slept between successive pages.
	Delay time.Duration
	// InitialBackoff and MaxBackoff bound the wait after a 429 without Retry-After.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// DefaultPaginator mirrors the throttling budget of the public APIs we call:
// 250ms between pages, 429 backoff from 1s doubling to 60s.
func DefaultPaginator(pageSize int, logger *slog.Logger) Paginator {
	return Paginator{
		PageSize:       pageSize,
		Delay:          250 * time.Millisecond,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		Logger:         logger,
	}
}

// FetchPages retrieves every page from fn and concatenates the items.
//
// A rate-limited page (a *domain.FetchError wrapping domain.ErrRateLimited) is
// retried indefinitely after Retry-After or the current backoff, which starts
// over from InitialBackoff once a page succeeds. Any other
// error stops paging: the items gathered so far are returned together with
// the error, and callers treat that as a partial result. Zero items on the
// first page is a normal empty result.
func FetchPages[T any](ctx context.Context, p Paginator, fn PageFunc[T]) ([]T, error) {
	limit := p.PageSize
	if limit <= 0 {
		limit = 1000
	}
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff < initial {
		maxBackoff = initial
	}
	backoff := initial
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var all []T
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		page, err := fn(ctx, offset, limit)
		if err != nil {
			var ferr *domain.FetchError
			if errors.As(err, &ferr) && ferr.Retryable() {
				wait := ferr.RetryAfter
				if wait <= 0 {
					wait = backoff
					backoff = retry.NextBackoff(backoff, maxBackoff)
				}
				logger.Warn("rate limited, retrying page", "offset", offset, "wait", wait)
				if !retry.SleepWithContext(ctx, wait) {
					return all, ctx.Err()
				}
				continue
			}
			return all, err
		}

		if len(page.Items) == 0 {
			return all, nil
		}
		all = append(all, page.Items...)
		backoff = initial

		if page.HasMeta {
			step := page.Limit
			if step <= 0 {
				step = limit
			}
			if page.Offset+step >= page.Count {
				return all, nil
			}
			offset = page.Offset + step
		} else {
			if len(page.Items) < limit {
				return all, nil
			}
			offset += limit
		}

		if !retry.SleepWithContext(ctx, p.Delay) {
			return all, ctx.Err()
		}
	}
}
