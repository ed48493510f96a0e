package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func pt(loc, ds string, t time.Time, v *float64) Point {
	return Point{Source: "usgs", Location: loc, Dataset: ds, Time: t, Value: v}
}

func values(points []Point) []any {
	out := make([]any, len(points))
	for i, p := range points {
		if p.Value == nil {
			out[i] = nil
			continue
		}
		out[i] = *p.Value
	}
	return out
}

func TestCollapse_KeepLast(t *testing.T) {
	in := []Point{
		pt("Hazen", "Gauge Height", ts(1, 0), Float(5.2)),
		pt("Hazen", "Gauge Height", ts(1, 0), Float(5.5)),
	}

	out := Collapse(in)

	require.Len(t, out, 1)
	assert.Equal(t, 5.5, *out[0].Value)
	assert.Equal(t, 5.2, *in[0].Value, "input must not be modified")
}

func TestCollapse_SortsAscending(t *testing.T) {
	in := []Point{
		pt("Hazen", "Discharge", ts(3, 0), Float(3)),
		pt("Hazen", "Discharge", ts(1, 0), Float(1)),
		pt("Hazen", "Discharge", ts(2, 0), Float(2)),
		pt("Hazen", "Discharge", ts(1, 0), Float(10)),
	}

	out := Collapse(in)

	assert.Equal(t, []any{10.0, 2.0, 3.0}, values(out))
}

func TestCollapse_DistinctKeysSameTime(t *testing.T) {
	in := []Point{
		pt("Hazen", "Discharge", ts(1, 0), Float(1)),
		pt("Hazen", "Gauge Height", ts(1, 0), Float(2)),
	}
	assert.Len(t, Collapse(in), 2)
}

func TestCanonicalize(t *testing.T) {
	cutoff := ts(2, 0)
	in := []Point{
		pt("Hazen", "Discharge", time.Time{}, Float(9)),
		pt("Hazen", "Discharge", ts(1, 0), Float(1)),
		pt("Hazen", "Discharge", ts(2, 0), Float(2)),
		pt("Hazen", "Discharge", ts(3, 0), nil),
		pt("Hazen", "Discharge", ts(4, 0), Float(4)),
	}

	tests := []struct {
		name string
		opts NormalizeOptions
		want []any
	}{
		{"defaults drop nulls", NormalizeOptions{}, []any{1.0, 2.0, 4.0}},
		{"keep nulls", NormalizeOptions{KeepNullValues: true}, []any{1.0, 2.0, nil, 4.0}},
		{"cutoff is exclusive", NormalizeOptions{Cutoff: cutoff}, []any{4.0}},
		{"cutoff with nulls", NormalizeOptions{Cutoff: cutoff, KeepNullValues: true}, []any{nil, 4.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, values(Canonicalize(in, tt.opts)))
		})
	}
}

func TestCanonicalize_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	in := []Point{pt("Hazen", "Discharge", time.Date(2024, 1, 1, 0, 0, 0, 0, loc), Float(1))}

	out := Canonicalize(in, NormalizeOptions{})

	require.Len(t, out, 1)
	assert.Equal(t, time.UTC, out[0].Time.Location())
	assert.Equal(t, 6, out[0].Time.Hour())
}

func TestGroupSeries_FirstSeenOrder(t *testing.T) {
	in := []Point{
		pt("Stanton", "Discharge", ts(1, 0), Float(1)),
		pt("Hazen", "Discharge", ts(1, 0), Float(2)),
		pt("Stanton", "Discharge", ts(2, 0), Float(3)),
		pt("Hazen", "Gauge Height", ts(1, 0), nil),
	}

	got := GroupSeries(in, NormalizeOptions{})

	require.Len(t, got, 2, "all-null series is omitted")
	assert.Equal(t, "Stanton", got[0].Location)
	assert.Equal(t, 2, got[0].Len())
	assert.Equal(t, "Hazen", got[1].Location)
	assert.Equal(t, "usgs", got[1].Source)
}

func TestSeriesBuilder(t *testing.T) {
	b := NewSeriesBuilder("usace", ts(1, 12))

	b.Add("Fort Peck", "Elevation", "2024-01-01 06:00", Float(1))
	b.Add("Fort Peck", "Elevation", "2024-01-02 06:00", Float(2))
	b.Add("Fort Peck", "Elevation", "2024-01-03 06:00", nil)
	b.Add("Fort Peck", "Elevation", "garbage", Float(4))
	b.Add("Fort Peck", "Elevation", "2024-01-02 06:00", Float(2.5))
	b.Drop(&ParseError{Source: "usace", Unit: "FTPK", Line: 9})

	assert.Equal(t, CustomText, b.Encoding())

	batch := b.Build()
	require.Len(t, batch.Series, 1)
	assert.Equal(t, []any{2.5, nil}, values(batch.Series[0].Points))
	assert.Equal(t, 1, batch.Excluded)
	require.Len(t, batch.Dropped, 2)

	var nerr *NormalizationError
	assert.ErrorAs(t, batch.Dropped[0], &nerr)
	assert.Len(t, batch.Points(), 2)
}

func TestSeriesBuilder_EmptyFirstSample(t *testing.T) {
	b := NewSeriesBuilder("usgs", time.Time{})
	b.Add("Hazen", "Discharge", "", Float(1))
	b.Add("Hazen", "Discharge", "2024-01-01T00:00", Float(2))

	batch := b.Build()
	assert.Len(t, batch.Dropped, 1)
	assert.Len(t, batch.Points(), 1)
	assert.Equal(t, ISOText, b.Encoding())
}

func TestSeriesBuilder_EpochEncodingLocked(t *testing.T) {
	b := NewSeriesBuilder("ndgis", time.Time{})
	b.Add("380001", "Nitrate", "1704067200000", Float(1))
	b.Add("380001", "Nitrate", "2024-01-02", Float(2))

	batch := b.Build()
	assert.Equal(t, EpochMillis, b.Encoding())
	assert.Len(t, batch.Points(), 1)
	assert.Len(t, batch.Dropped, 1)
}
