// Package report builds bounded views of stored series for charts and exports.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
)

// Reader is the read side of the observation store.
type Reader interface {
	Query(ctx context.Context, location, dataset string, w domain.Window) (domain.Series, error)
	QueryAll(ctx context.Context, location, dataset string) (domain.Series, error)
	LatestNonNull(ctx context.Context, location, dataset string) (time.Time, bool, error)
}

// Tier is the fallback level that produced a selection.
type Tier int

const (
	// TierNone means no tier found data.
	TierNone Tier = iota
	// TierRequested is the requested (or default trailing) window.
	TierRequested
	// TierLatest is a window of the same length ending at the newest value.
	TierLatest
	// TierFullHistory is every stored value.
	TierFullHistory
)

func (t Tier) String() string {
	switch t {
	case TierRequested:
		return "requested"
	case TierLatest:
		return "latest"
	case TierFullHistory:
		return "full_history"
	default:
		return "none"
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Selection is the outcome of window selection for one (location, dataset).
type Selection struct {
	Tier   Tier
	Window domain.Window
	Series domain.Series
}

// Empty reports whether every tier came back empty.
func (s Selection) Empty() bool { return s.Tier == TierNone }

// Selector picks the window a report shows, falling back when the naive
// window has no data.
type Selector struct {
	reader Reader
	days   int
	logger *slog.Logger
}

// NewSelector creates a Selector whose default window is the trailing days
// ending now.
func NewSelector(reader Reader, days int, logger *slog.Logger) *Selector {
	if days <= 0 {
		days = 30
	}
	return &Selector{reader: reader, days: days, logger: logger}
}

// DefaultWindow returns the trailing window ending now.
func (s *Selector) DefaultWindow() domain.Window {
	return domain.LastDays(domain.Now(), s.days)
}

// Select queries requested (or the default window when zero), then a window
// of the same duration ending at the newest non-null value, then the full
// history. The first tier returning any row wins. For the full history the
// window is the extent of the returned rows.
func (s *Selector) Select(ctx context.Context, location, dataset string, requested domain.Window) (Selection, error) {
	w := requested
	if w.IsZero() {
		w = s.DefaultWindow()
	}

	series, err := s.reader.Query(ctx, location, dataset, w)
	if err != nil {
		return Selection{}, fmt.Errorf("query requested window: %w", err)
	}
	if !series.Empty() {
		return Selection{Tier: TierRequested, Window: w, Series: series}, nil
	}

	latest, ok, err := s.reader.LatestNonNull(ctx, location, dataset)
	if err != nil {
		return Selection{}, fmt.Errorf("latest value: %w", err)
	}
	if ok {
		anchored := w.EndingAt(latest)
		series, err = s.reader.Query(ctx, location, dataset, anchored)
		if err != nil {
			return Selection{}, fmt.Errorf("query anchored window: %w", err)
		}
		if !series.Empty() {
			s.logger.Debug("requested window empty, anchored to latest value",
				"location", location, "dataset", dataset, "window", anchored.String())
			return Selection{Tier: TierLatest, Window: anchored, Series: series}, nil
		}
	}

	series, err = s.reader.QueryAll(ctx, location, dataset)
	if err != nil {
		return Selection{}, fmt.Errorf("query full history: %w", err)
	}
	if extent, ok := series.Extent(); ok {
		s.logger.Debug("falling back to full history", "location", location, "dataset", dataset)
		return Selection{Tier: TierFullHistory, Window: extent, Series: series}, nil
	}
	return Selection{Tier: TierNone, Window: w, Series: series}, nil
}
