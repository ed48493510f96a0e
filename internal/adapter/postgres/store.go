// Package postgres is the production observation store, backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	source     TEXT             NOT NULL DEFAULT '',
	location   TEXT             NOT NULL,
	dataset    TEXT             NOT NULL,
	sensor     TEXT             NOT NULL DEFAULT '',
	ts         TIMESTAMPTZ      NOT NULL,
	value      DOUBLE PRECISION,
	updated_at TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
	PRIMARY KEY (location, dataset, sensor, ts)
)`

const upsertSQL = `INSERT INTO observations (source, location, dataset, sensor, ts, value, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (location, dataset, sensor, ts) DO UPDATE
SET source = EXCLUDED.source,
    value = EXCLUDED.value,
    updated_at = NOW()`

// Store writes and reads observations through a connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Upsert queues one statement per point and sends them as a batch inside a
// transaction.
func (s *Store) Upsert(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(upsertSQL, p.Source, p.Location, p.Dataset, p.Sensor, p.Time.UTC(), p.Value)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		res := tx.SendBatch(ctx, batch)
		for _, p := range points {
			if _, err := res.Exec(); err != nil {
				_ = res.Close()
				return fmt.Errorf("upsert %s: %w", p.Key(), err)
			}
		}
		return res.Close()
	})
}

// LatestTimestamp returns the newest stored timestamp, null values included.
func (s *Store) LatestTimestamp(ctx context.Context, location, dataset string) (time.Time, bool, error) {
	return s.latest(ctx, `SELECT MAX(ts) FROM observations WHERE location = $1 AND dataset = $2`, location, dataset)
}

// LatestNonNull returns the newest timestamp that has a value.
func (s *Store) LatestNonNull(ctx context.Context, location, dataset string) (time.Time, bool, error) {
	return s.latest(ctx, `SELECT MAX(ts) FROM observations WHERE location = $1 AND dataset = $2 AND value IS NOT NULL`, location, dataset)
}

func (s *Store) latest(ctx context.Context, query, location, dataset string) (time.Time, bool, error) {
	var ts *time.Time
	if err := s.pool.QueryRow(ctx, query, location, dataset).Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("latest %s/%s: %w", location, dataset, err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

// Query returns non-null points inside w, bounds included.
func (s *Store) Query(ctx context.Context, location, dataset string, w domain.Window) (domain.Series, error) {
	return s.query(ctx, location, dataset, `
SELECT source, sensor, ts, value FROM observations
WHERE location = $1 AND dataset = $2 AND value IS NOT NULL AND ts BETWEEN $3 AND $4
ORDER BY ts, sensor`, location, dataset, w.Start.UTC(), w.End.UTC())
}

// QueryAll returns every non-null point of (location, dataset).
func (s *Store) QueryAll(ctx context.Context, location, dataset string) (domain.Series, error) {
	return s.query(ctx, location, dataset, `
SELECT source, sensor, ts, value FROM observations
WHERE location = $1 AND dataset = $2 AND value IS NOT NULL
ORDER BY ts, sensor`, location, dataset)
}

func (s *Store) query(ctx context.Context, location, dataset, query string, args ...any) (domain.Series, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.Series{}, fmt.Errorf("query %s/%s: %w", location, dataset, err)
	}
	defer rows.Close()

	out := domain.Series{Location: location, Dataset: dataset}
	for rows.Next() {
		var (
			source, sensor string
			ts             time.Time
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
			Time:     ts.UTC(),
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
