package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/observability"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrEmptyReport is returned when exporting a report with no data.
var ErrEmptyReport = errors.New("report has no data")

// BlobSink stores export artifacts and returns where each one went.
type BlobSink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// DirSink writes artifacts into a local directory.
type DirSink struct {
	dir string
}

// NewDirSink returns a sink rooted at dir. The directory is created on first write.
func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

// Put writes data to dir/name and returns the file path.
func (d *DirSink) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export %s: %w", name, err)
	}
	return path, nil
}

// Artifact describes one written export file.
type Artifact struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Points   int    `json:"points"`
	Bytes    int    `json:"bytes"`
}

// CSVExporter renders report series as "timestamp,value" CSV files.
type CSVExporter struct {
	sink        BlobSink
	compression string
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewCSVExporter validates compression (none, gzip, zstd, lz4) and returns an exporter.
func NewCSVExporter(sink BlobSink, compression string, metrics *observability.Metrics, logger *slog.Logger) (*CSVExporter, error) {
	if compression == "" {
		compression = "none"
	}
	if _, _, err := compressionWriter(io.Discard, compression); err != nil {
		return nil, err
	}
	return &CSVExporter{sink: sink, compression: compression, metrics: metrics, logger: logger}, nil
}

// Export writes one file per report series. Split reports get an occurrence
// suffix per file.
func (e *CSVExporter) Export(ctx context.Context, r Report) ([]Artifact, error) {
	if r.Empty || len(r.Series) == 0 {
		return nil, ErrEmptyReport
	}

	var artifacts []Artifact
	for i, s := range r.Series {
		data, ext, err := e.render(s)
		if err != nil {
			return artifacts, fmt.Errorf("render %s: %w", r.FileName(), err)
		}
		name := r.FileName()
		if len(r.Series) > 1 {
			name = fmt.Sprintf("%s__occurrence%d", name, i+1)
		}
		name += ".csv" + ext

		loc, err := e.sink.Put(ctx, name, data, contentType(e.compression))
		if err != nil {
			return artifacts, err
		}
		e.metrics.ExportsWritten.Inc()
		e.logger.Info("export written", "location", r.Location, "dataset", r.Dataset,
			"name", name, "points", len(s.Points), "bytes", len(data))
		artifacts = append(artifacts, Artifact{Name: name, Location: loc, Points: len(s.Points), Bytes: len(data)})
	}
	return artifacts, nil
}

func (e *CSVExporter) render(s domain.Series) ([]byte, string, error) {
	var buf bytes.Buffer
	w, ext, err := compressionWriter(&buf, e.compression)
	if err != nil {
		return nil, "", err
	}
	if err := WriteCSV(w, s); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close %s writer: %w", e.compression, err)
	}
	return buf.Bytes(), ext, nil
}

// WriteCSV writes the non-null points of s as "timestamp,value" rows with
// RFC 3339 UTC timestamps.
func WriteCSV(w io.Writer, s domain.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "value"}); err != nil {
		return err
	}
	for _, p := range s.Points {
		if p.Value == nil {
			continue
		}
		row := []string{p.Time.UTC().Format(time.RFC3339), strconv.FormatFloat(*p.Value, 'f', -1, 64)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressionWriter returns the writer and file extension for compression.
func compressionWriter(w io.Writer, compression string) (io.WriteCloser, string, error) {
	switch compression {
	case "none":
		return nopWriteCloser{w}, "", nil
	case "gzip":
		return gzip.NewWriter(w), ".gz", nil
	case "zstd":
		zw, err := zstd.NewWriter(w)
		return zw, ".zst", err
	case "lz4":
		return lz4.NewWriter(w), ".lz4", nil
	default:
		return nil, "", fmt.Errorf("unsupported compression type: %s", compression)
	}
}

func contentType(compression string) string {
	switch compression {
	case "gzip":
		return "application/gzip"
	case "zstd":
		return "application/zstd"
	case "lz4":
		return "application/x-lz4"
	default:
		return "text/csv"
	}
}
