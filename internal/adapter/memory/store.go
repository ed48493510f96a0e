// Package memory provides a process-local observation store for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
)

// Store keeps observations in a map keyed by storage key.
type Store struct {
	mu     sync.RWMutex
	points map[domain.Key]domain.Point
}

// New returns an empty store.
func New() *Store {
	return &Store{points: make(map[domain.Key]domain.Point)}
}

// Upsert writes points, replacing any stored point with the same key.
func (s *Store) Upsert(_ context.Context, points []domain.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		p.Time = p.Time.UTC()
		if p.Value != nil {
			p.Value = domain.Float(*p.Value)
		}
		s.points[p.Key()] = p
	}
	return nil
}

// Len returns the number of stored points.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// LatestTimestamp returns the newest timestamp stored for (location, dataset),
// null values included.
func (s *Store) LatestTimestamp(_ context.Context, location, dataset string) (time.Time, bool, error) {
	return s.latest(location, dataset, false)
}

// LatestNonNull returns the newest timestamp with a value for (location, dataset).
func (s *Store) LatestNonNull(_ context.Context, location, dataset string) (time.Time, bool, error) {
	return s.latest(location, dataset, true)
}

func (s *Store) latest(location, dataset string, nonNull bool) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	found := false
	for _, p := range s.points {
		if p.Location != location || p.Dataset != dataset {
			continue
		}
		if nonNull && p.Value == nil {
			continue
		}
		if !found || p.Time.After(latest) {
			latest = p.Time
			found = true
		}
	}
	return latest, found, nil
}

// Query returns the non-null points of (location, dataset) inside w, bounds
// included, ordered by timestamp then sensor.
func (s *Store) Query(_ context.Context, location, dataset string, w domain.Window) (domain.Series, error) {
	return s.query(location, dataset, func(t time.Time) bool { return w.Contains(t) }), nil
}

// QueryAll returns every non-null point of (location, dataset).
func (s *Store) QueryAll(_ context.Context, location, dataset string) (domain.Series, error) {
	return s.query(location, dataset, func(time.Time) bool { return true }), nil
}

func (s *Store) query(location, dataset string, keep func(time.Time) bool) domain.Series {
	s.mu.RLock()
	out := domain.Series{Location: location, Dataset: dataset}
	for _, p := range s.points {
		if p.Location == location && p.Dataset == dataset && p.Value != nil && keep(p.Time) {
			out.Points = append(out.Points, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out.Points, func(i, j int) bool {
		a, b := out.Points[i], out.Points[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Sensor < b.Sensor
	})
	if len(out.Points) > 0 {
		out.Source = out.Points[0].Source
	}
	return out
}
