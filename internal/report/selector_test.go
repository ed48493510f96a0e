package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/adapter/memory"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freezeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func seed(t *testing.T, pts ...domain.Point) *memory.Store {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.Upsert(context.Background(), pts))
	return st
}

func obs(ts time.Time, v *float64) domain.Point {
	return domain.Point{Source: "usgs", Location: "Hazen", Dataset: "Gauge Height", Time: ts, Value: v}
}

func TestSelector_RequestedWindow(t *testing.T) {
	freezeClock(t)
	st := seed(t, obs(now.Add(-2*day), domain.Float(5.1)), obs(now.Add(-40*day), domain.Float(4.0)))

	sel, err := NewSelector(st, 30, discardLogger()).Select(context.Background(), "Hazen", "Gauge Height", domain.Window{})
	require.NoError(t, err)

	assert.Equal(t, TierRequested, sel.Tier)
	assert.Equal(t, domain.Window{Start: now.Add(-30 * day), End: now}, sel.Window)
	require.Len(t, sel.Series.Points, 1)
	assert.Equal(t, 5.1, *sel.Series.Points[0].Value)
}

func TestSelector_LatestAnchored(t *testing.T) {
	freezeClock(t)
	st := seed(t,
		obs(now.Add(-400*day), domain.Float(3.3)),
		obs(now.Add(-420*day), domain.Float(3.1)),
		obs(now.Add(-500*day), domain.Float(2.0)),
		obs(now.Add(-10*day), nil),
	)

	sel, err := NewSelector(st, 30, discardLogger()).Select(context.Background(), "Hazen", "Gauge Height", domain.Window{})
	require.NoError(t, err)

	assert.Equal(t, TierLatest, sel.Tier)
	assert.Equal(t, domain.Window{Start: now.Add(-430 * day), End: now.Add(-400 * day)}, sel.Window)
	assert.Len(t, sel.Series.Points, 2)
	assert.False(t, sel.Empty())
}

func TestSelector_OnlyOldData(t *testing.T) {
	freezeClock(t)
	last := time.Date(2019, 9, 30, 12, 0, 0, 0, time.UTC)
	st := seed(t,
		obs(time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC), domain.Float(1)),
		obs(last, domain.Float(2)),
	)

	sel, err := NewSelector(st, 30, discardLogger()).Select(context.Background(), "Hazen", "Gauge Height", domain.Window{})
	require.NoError(t, err)

	assert.False(t, sel.Empty())
	assert.Equal(t, last, sel.Window.End)
	assert.Equal(t, last.Add(-30*day), sel.Window.Start)
}

// staleIndex has rows but no latest-value index, as a store whose latest
// lookup lags its writes.
type staleIndex struct {
	*memory.Store
}

func (staleIndex) LatestNonNull(context.Context, string, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func TestSelector_FullHistory(t *testing.T) {
	freezeClock(t)
	first := time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2019, 9, 30, 0, 0, 0, 0, time.UTC)
	st := staleIndex{seed(t, obs(first, domain.Float(1)), obs(last, domain.Float(2)))}

	sel, err := NewSelector(st, 30, discardLogger()).Select(context.Background(), "Hazen", "Gauge Height", domain.Window{})
	require.NoError(t, err)

	assert.Equal(t, TierFullHistory, sel.Tier)
	assert.Equal(t, domain.Window{Start: first, End: last}, sel.Window)
	assert.Len(t, sel.Series.Points, 2)
}

func TestSelector_NoData(t *testing.T) {
	freezeClock(t)
	st := seed(t, obs(now.Add(-day), nil))

	requested := domain.Window{Start: now.Add(-7 * day), End: now}
	sel, err := NewSelector(st, 30, discardLogger()).Select(context.Background(), "Hazen", "Gauge Height", requested)
	require.NoError(t, err)

	assert.True(t, sel.Empty())
	assert.Equal(t, TierNone, sel.Tier)
	assert.Equal(t, requested, sel.Window)
}

type failingReader struct{ staleIndex }

func (failingReader) Query(context.Context, string, string, domain.Window) (domain.Series, error) {
	return domain.Series{}, errors.New("database is locked")
}

func TestSelector_ReaderError(t *testing.T) {
	freezeClock(t)
	_, err := NewSelector(failingReader{}, 30, discardLogger()).Select(context.Background(), "Hazen", "Gauge Height", domain.Window{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestTier_String(t *testing.T) {
	tests := map[Tier]string{
		TierNone:        "none",
		TierRequested:   "requested",
		TierLatest:      "latest",
		TierFullHistory: "full_history",
	}
	for tier, want := range tests {
		text, err := tier.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(text))
	}
}
