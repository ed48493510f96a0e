package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
)

// Chunks splits w into consecutive calendar-day windows of at most days days.
// Both bounds of each chunk are inclusive and the next chunk starts the day
// after the previous one ends, so no day is fetched twice. Bounds are
// truncated to UTC midnight.
func Chunks(w domain.Window, days int) []domain.Window {
	if days <= 0 {
		days = 1
	}
	start := truncateDay(w.Start)
	end := truncateDay(w.End)
	if end.Before(start) {
		return nil
	}

	var out []domain.Window
	for cur := start; !cur.After(end); {
		chunkEnd := cur.AddDate(0, 0, days-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		out = append(out, domain.Window{Start: cur, End: chunkEnd})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return out
}

// ChunkFunc fetches and parses one chunk.
type ChunkFunc[T any] func(ctx context.Context, chunk domain.Window) ([]T, error)

// FetchChunks fetches w chunk by chunk in chronological order and
// concatenates the results. A failing chunk is skipped with a warning and its
// error recorded; later chunks still run. Cancellation stops between chunks.
func FetchChunks[T any](ctx context.Context, w domain.Window, days int, fn ChunkFunc[T], logger *slog.Logger) ([]T, []error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		all  []T
		errs []error
	)
	for _, chunk := range Chunks(w, days) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		items, err := fn(ctx, chunk)
		if err != nil {
			logger.Warn("chunk skipped",
				"chunk_start", chunk.Start.Format(time.DateOnly),
				"chunk_end", chunk.End.Format(time.DateOnly),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("chunk %s..%s: %w",
				chunk.Start.Format(time.DateOnly), chunk.End.Format(time.DateOnly), err))
			continue
		}
		all = append(all, items...)
	}
	return all, errs
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
