// Package kafka mirrors stored observations to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces one message per stored point.
// It implements pipeline.Sink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic. Messages are hashed by key so
// every update of one observation lands on the same partition.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Write publishes points in a single WriteMessages call.
func (w *Writer) Write(ctx context.Context, runID string, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(points))
	for i := range points {
		msg, err := serializeToMessage(runID, points[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d points: %w", len(msgs), err)
	}
	w.logger.Debug("points published", "run_id", runID, "points", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a point into a message keyed by its storage key.
func serializeToMessage(runID string, p domain.Point) (kafkago.Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize point %s: %w", p.Key(), err)
	}
	return kafkago.Message{
		Key:   []byte(p.Key().String()),
		Value: data,
		Time:  p.Time,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "source", Value: []byte(p.Source)},
			{Key: "field", Value: []byte(domain.NormalizeField(p.Dataset))},
			{Key: "published_at", Value: []byte(domain.Now().Format(time.RFC3339))},
		},
	}, nil
}
