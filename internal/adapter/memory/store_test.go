package memory

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

func point(loc, ds string, offset time.Duration, v *float64) domain.Point {
	return domain.Point{Source: "usgs", Location: loc, Dataset: ds, Time: t0.Add(offset), Value: v}
}

func TestStore_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	pts := []domain.Point{
		point("Hazen", "Gauge Height", 0, domain.Float(5.2)),
		point("Hazen", "Gauge Height", time.Hour, domain.Float(5.3)),
	}

	require.NoError(t, s.Upsert(ctx, pts))
	require.NoError(t, s.Upsert(ctx, pts))

	assert.Equal(t, 2, s.Len())
	got, err := s.QueryAll(ctx, "Hazen", "Gauge Height")
	require.NoError(t, err)
	assert.Len(t, got.Points, 2)
	assert.Equal(t, "usgs", got.Source)
}

func TestStore_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, []domain.Point{point("Hazen", "Gauge Height", 0, domain.Float(5.2))}))
	require.NoError(t, s.Upsert(ctx, []domain.Point{point("Hazen", "Gauge Height", 0, domain.Float(5.5))}))

	got, err := s.QueryAll(ctx, "Hazen", "Gauge Height")
	require.NoError(t, err)
	require.Len(t, got.Points, 1)
	assert.Equal(t, 5.5, *got.Points[0].Value)
}

func TestStore_QueryWindowInclusiveNonNull(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, []domain.Point{
		point("Hazen", "Discharge", 0, domain.Float(1)),
		point("Hazen", "Discharge", time.Hour, nil),
		point("Hazen", "Discharge", 2*time.Hour, domain.Float(3)),
		point("Hazen", "Discharge", 3*time.Hour, domain.Float(4)),
		point("Stanton", "Discharge", time.Hour, domain.Float(9)),
	}))

	got, err := s.Query(ctx, "Hazen", "Discharge", domain.Window{Start: t0, End: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got.Points, 2)
	assert.Equal(t, 1.0, *got.Points[0].Value)
	assert.Equal(t, 3.0, *got.Points[1].Value)
}

func TestStore_Latest(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.LatestTimestamp(ctx, "Hazen", "Discharge")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Upsert(ctx, []domain.Point{
		point("Hazen", "Discharge", 0, domain.Float(1)),
		point("Hazen", "Discharge", time.Hour, nil),
	}))

	ts, ok, err := s.LatestTimestamp(ctx, "Hazen", "Discharge")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), ts)

	ts, ok, err = s.LatestNonNull(ctx, "Hazen", "Discharge")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, t0, ts)
}

func TestStore_SensorsKeptApart(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := point("SWLAZZZ2411", "pH", 0, domain.Float(7.9))
	a.Sensor = "SWLAZZZ2411B"
	b := point("SWLAZZZ2411", "pH", 0, domain.Float(8.1))
	b.Sensor = "SWLAZZZ2411A"
	require.NoError(t, s.Upsert(ctx, []domain.Point{a, b}))

	got, err := s.QueryAll(ctx, "SWLAZZZ2411", "pH")
	require.NoError(t, err)
	require.Len(t, got.Points, 2)
	assert.Equal(t, "SWLAZZZ2411A", got.Points[0].Sensor)
	assert.Equal(t, "SWLAZZZ2411B", got.Points[1].Sensor)
}
