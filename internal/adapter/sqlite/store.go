// Package sqlite stores observations in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	source     TEXT    NOT NULL DEFAULT '',
	location   TEXT    NOT NULL,
	dataset    TEXT    NOT NULL,
	sensor     TEXT    NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL,
	value      REAL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (location, dataset, sensor, ts)
)`

const upsertSQL = `
INSERT INTO observations (source, location, dataset, sensor, ts, value, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (location, dataset, sensor, ts) DO UPDATE
SET source = excluded.source,
    value = excluded.value,
    updated_at = excluded.updated_at`

// Store is a SQLite-backed observation store. Timestamps are stored as Unix
// nanoseconds.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes points in one transaction. Either every point is written or none.
func (s *Store) Upsert(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, p := range points {
		var v sql.NullFloat64
		if p.Value != nil {
			v = sql.NullFloat64{Float64: *p.Value, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, p.Source, p.Location, p.Dataset, p.Sensor, p.Time.UnixNano(), v, now); err != nil {
			return fmt.Errorf("upsert %s: %w", p.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestTimestamp returns the newest stored timestamp, null values included.
func (s *Store) LatestTimestamp(ctx context.Context, location, dataset string) (time.Time, bool, error) {
	return s.latest(ctx, `SELECT MAX(ts) FROM observations WHERE location = ? AND dataset = ?`, location, dataset)
}

// LatestNonNull returns the newest timestamp that has a value.
func (s *Store) LatestNonNull(ctx context.Context, location, dataset string) (time.Time, bool, error) {
	return s.latest(ctx, `SELECT MAX(ts) FROM observations WHERE location = ? AND dataset = ? AND value IS NOT NULL`, location, dataset)
}

func (s *Store) latest(ctx context.Context, query, location, dataset string) (time.Time, bool, error) {
	var ts sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, location, dataset).Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("latest %s/%s: %w", location, dataset, err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ts.Int64).UTC(), true, nil
}

// Query returns non-null points inside w, bounds included.
func (s *Store) Query(ctx context.Context, location, dataset string, w domain.Window) (domain.Series, error) {
	return s.query(ctx, location, dataset, `
SELECT source, sensor, ts, value FROM observations
WHERE location = ? AND dataset = ? AND value IS NOT NULL AND ts >= ? AND ts <= ?
ORDER BY ts, sensor`, location, dataset, w.Start.UnixNano(), w.End.UnixNano())
}

// QueryAll returns every non-null point of (location, dataset).
func (s *Store) QueryAll(ctx context.Context, location, dataset string) (domain.Series, error) {
	return s.query(ctx, location, dataset, `
SELECT source, sensor, ts, value FROM observations
WHERE location = ? AND dataset = ? AND value IS NOT NULL
ORDER BY ts, sensor`, location, dataset)
}

func (s *Store) query(ctx context.Context, location, dataset, query string, args ...any) (domain.Series, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Series{}, fmt.Errorf("query %s/%s: %w", location, dataset, err)
	}
	defer rows.Close()

	out := domain.Series{Location: location, Dataset: dataset}
	for rows.Next() {
		var (
			source, sensor string
			ts             int64
			v              float64
		)
		if err := rows.Scan(&source, &sensor, &ts, &v); err != nil {
			return domain.Series{}, fmt.Errorf("scan %s/%s: %w", location, dataset, err)
		}
		out.Points = append(out.Points, domain.Point{
			Source:   source,
			Location: location,
			Dataset:  dataset,
			Sensor:   sensor,
			Time:     time.Unix(0, ts).UTC(),
			Value:    domain.Float(v),
		})
	}
	if err := rows.Err(); err != nil {
		return domain.Series{}, fmt.Errorf("rows %s/%s: %w", location, dataset, err)
	}
	if len(out.Points) > 0 {
		out.Source = out.Points[0].Source
	}
	return out, nil
}
