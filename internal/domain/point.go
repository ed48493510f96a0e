package domain

import (
	"fmt"
	"time"
)

// Point is one canonical observation. Value is nil for an explicit missing reading.
//
// Sensor distinguishes physical instruments reporting under one location, such
// as lettered sub-stations of a sampling site. It is empty for most sources.
type Point struct {
	Source   string    `json:"source,omitempty"`
	Location string    `json:"location"`
	Dataset  string    `json:"dataset"`
	Sensor   string    `json:"sensor,omitempty"`
	Time     time.Time `json:"timestamp"`
	Value    *float64  `json:"value"`
}

// Key identifies a point in storage.
type Key struct {
	Location string
	Dataset  string
	Sensor   string
	UnixNano int64
}

// Key returns the storage key of the point.
func (p Point) Key() Key {
	return Key{Location: p.Location, Dataset: p.Dataset, Sensor: p.Sensor, UnixNano: p.Time.UnixNano()}
}

func (k Key) String() string {
	ts := time.Unix(0, k.UnixNano).UTC().Format(time.RFC3339)
	if k.Sensor != "" {
		return fmt.Sprintf("%s|%s|%s|%s", k.Location, k.Dataset, k.Sensor, ts)
	}
	return fmt.Sprintf("%s|%s|%s", k.Location, k.Dataset, ts)
}

// WithoutSensor returns copies of points with Sensor cleared, so concurrent
// readings at one location collide on their timestamp.
func WithoutSensor(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		p.Sensor = ""
		out[i] = p
	}
	return out
}

// Float returns a pointer to v, for building points in code and tests.
func Float(v float64) *float64 {
	return &v
}

// Series is an ordered run of points for a single (location, dataset).
type Series struct {
	Source   string  `json:"source,omitempty"`
	Location string  `json:"location"`
	Dataset  string  `json:"dataset"`
	Points   []Point `json:"points"`
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Points) }

// Empty reports whether the series has no points.
func (s Series) Empty() bool { return len(s.Points) == 0 }

// Extent returns the window spanned by the first and last point.
// The series is assumed to be sorted.
func (s Series) Extent() (Window, bool) {
	if len(s.Points) == 0 {
		return Window{}, false
	}
	return Window{Start: s.Points[0].Time, End: s.Points[len(s.Points)-1].Time}, true
}

// Window is an inclusive [Start, End] range of UTC instants.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LastDays returns the window of the given number of days ending at now.
func LastDays(now time.Time, days int) Window {
	now = now.UTC()
	return Window{Start: now.AddDate(0, 0, -days), End: now}
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// EndingAt returns a window of the same duration whose End is t.
func (w Window) EndingAt(t time.Time) Window {
	return Window{Start: t.Add(-w.Duration()), End: t}
}

// ParseBound parses a window bound given as RFC 3339 or a bare date. A bare
// date used as an end bound covers the whole day. Empty input yields zero.
func ParseBound(s string, end bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", s)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}
