// Package influx mirrors stored observations to an InfluxDB bucket.
package influx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurement = "observation"

// Sink writes non-null points as the "observation" measurement, tagged by
// location, dataset, source, and sensor. It implements pipeline.Sink.
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	logger *slog.Logger
}

// NewSink creates a blocking writer for org/bucket.
func NewSink(url, token, org, bucket string, logger *slog.Logger) *Sink {
	client := influxdb2.NewClient(url, token)
	return &Sink{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		logger: logger,
	}
}

// Name identifies the sink in logs and metrics.
func (s *Sink) Name() string { return "influx" }

// Write sends points in one request. Null values have no field to write and
// are skipped.
func (s *Sink) Write(ctx context.Context, runID string, points []domain.Point) error {
	out := make([]*write.Point, 0, len(points))
	for _, p := range points {
		if p.Value == nil {
			continue
		}
		out = append(out, toPoint(p))
	}
	if len(out) == 0 {
		return nil
	}
	if err := s.write.WritePoint(ctx, out...); err != nil {
		return fmt.Errorf("write %d points: %w", len(out), err)
	}
	s.logger.Debug("points written", "sink", s.Name(), "run_id", runID, "points", len(out))
	return nil
}

// Close releases the client.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

func toPoint(p domain.Point) *write.Point {
	pt := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("location", p.Location).
		AddTag("dataset", p.Dataset).
		AddField("value", *p.Value).
		SetTime(p.Time)
	if p.Source != "" {
		pt.AddTag("source", p.Source)
	}
	if p.Sensor != "" {
		pt.AddTag("sensor", p.Sensor)
	}
	return pt
}
