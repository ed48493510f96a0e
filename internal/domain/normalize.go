package domain

import (
	"sort"
	"time"
)

// NormalizeOptions controls Canonicalize.
type NormalizeOptions struct {
	// Cutoff, when set, excludes every point not strictly after it.
	Cutoff time.Time
	// KeepNullValues retains points with a nil value. The ingestion path keeps
	// them so explicit missing readings reach storage; reporting drops them.
	KeepNullValues bool
}

// Canonicalize returns a new slice with zero timestamps and (unless kept)
// null values removed, the cutoff applied, sorted ascending, and duplicate
// keys collapsed keep-last. The input is not modified.
func Canonicalize(points []Point, opts NormalizeOptions) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Time.IsZero() {
			continue
		}
		if p.Value == nil && !opts.KeepNullValues {
			continue
		}
		if !opts.Cutoff.IsZero() && !p.Time.After(opts.Cutoff) {
			continue
		}
		p.Time = p.Time.UTC()
		out = append(out, p)
	}
	return Collapse(out)
}

// Collapse sorts points by timestamp and, for each duplicate storage key
// (location, dataset, sensor, timestamp), keeps the occurrence read last.
func Collapse(points []Point) []Point {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	out := sorted[:0]
	index := make(map[Key]int, len(sorted))
	for _, p := range sorted {
		k := p.Key()
		if i, ok := index[k]; ok {
			out[i] = p
			continue
		}
		index[k] = len(out)
		out = append(out, p)
	}
	return out
}

// GroupSeries groups points by (location, dataset) in first-seen order and
// canonicalizes each group.
func GroupSeries(points []Point, opts NormalizeOptions) []Series {
	type groupKey struct{ location, dataset string }

	order := make([]groupKey, 0)
	groups := make(map[groupKey][]Point)
	for _, p := range points {
		k := groupKey{p.Location, p.Dataset}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], p)
	}

	out := make([]Series, 0, len(order))
	for _, k := range order {
		pts := Canonicalize(groups[k], opts)
		if len(pts) == 0 {
			continue
		}
		out = append(out, Series{
			Source:   pts[0].Source,
			Location: k.location,
			Dataset:  k.dataset,
			Points:   pts,
		})
	}
	return out
}

// Batch is the result of processing one raw payload.
type Batch struct {
	Series []Series
	// Dropped holds one diagnostic per dropped row or unit.
	Dropped []error
	// Excluded counts points at or before the cutoff.
	Excluded int
}

// Points returns every point in the batch.
func (b Batch) Points() []Point {
	n := 0
	for _, s := range b.Series {
		n += len(s.Points)
	}
	out := make([]Point, 0, n)
	for _, s := range b.Series {
		out = append(out, s.Points...)
	}
	return out
}

// SeriesBuilder accumulates raw rows from one source table and produces a
// Batch. The timestamp encoding is detected from the first non-empty raw time
// and reused for every later row.
type SeriesBuilder struct {
	source  string
	cutoff  time.Time
	extra   []string
	parser  *TimeParser
	points  []Point
	dropped []error
}

// NewSeriesBuilder starts a builder for source. Points not strictly after
// cutoff are excluded at Build time.
func NewSeriesBuilder(source string, cutoff time.Time, extraLayouts ...string) *SeriesBuilder {
	return &SeriesBuilder{source: source, cutoff: cutoff, extra: extraLayouts}
}

// Add parses rawTime and records a point. Unparseable timestamps are dropped
// with a NormalizationError diagnostic.
func (b *SeriesBuilder) Add(location, dataset, rawTime string, value *float64) {
	b.AddSensor(location, dataset, "", rawTime, value)
}

// AddSensor is Add for a point read from one of several instruments at location.
func (b *SeriesBuilder) AddSensor(location, dataset, sensor, rawTime string, value *float64) {
	if b.parser == nil {
		p := NewTimeParser(rawTime, b.extra...)
		if p.Encoding() == EncodingUnknown {
			b.dropped = append(b.dropped, &NormalizationError{Raw: rawTime, Err: errEmptyTimestamp})
			return
		}
		b.parser = &p
	}
	t, err := b.parser.Parse(rawTime)
	if err != nil {
		b.dropped = append(b.dropped, err)
		return
	}
	b.add(location, dataset, sensor, t, value)
}

// AddTime records a point whose timestamp is already known.
func (b *SeriesBuilder) AddTime(location, dataset string, t time.Time, value *float64) {
	b.add(location, dataset, "", t, value)
}

func (b *SeriesBuilder) add(location, dataset, sensor string, t time.Time, value *float64) {
	b.points = append(b.points, Point{
		Source:   b.source,
		Location: location,
		Dataset:  dataset,
		Sensor:   sensor,
		Time:     t.UTC(),
		Value:    value,
	})
}

// Drop records a diagnostic for a row that never became a point.
func (b *SeriesBuilder) Drop(err error) {
	b.dropped = append(b.dropped, err)
}

// Encoding returns the detected encoding, or EncodingUnknown before the first Add.
func (b *SeriesBuilder) Encoding() TimestampEncoding {
	if b.parser == nil {
		return EncodingUnknown
	}
	return b.parser.Encoding()
}

// Build applies the cutoff, sorts, collapses duplicates, and groups the
// accumulated points into series. Null values are retained.
func (b *SeriesBuilder) Build() Batch {
	excluded := 0
	if !b.cutoff.IsZero() {
		for _, p := range b.points {
			if !p.Time.After(b.cutoff) {
				excluded++
			}
		}
	}
	return Batch{
		Series:   GroupSeries(b.points, NormalizeOptions{Cutoff: b.cutoff, KeepNullValues: true}),
		Dropped:  append([]error(nil), b.dropped...),
		Excluded: excluded,
	}
}
