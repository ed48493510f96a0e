package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
)

// Target is one independently fetchable upstream unit: a gauge, a dam, a
// station, or a dataset code. Locations lists every storage location the
// target feeds, which is more than one when a station is shared by aliases.
type Target struct {
	Code      string   `json:"code"`
	Locations []string `json:"locations"`
	Datasets  []string `json:"datasets"`
}

// Request is one fetch call for a target.
type Request struct {
	Target Target
	Window domain.Window
	// Cutoff excludes every point not strictly after it. Zero means no cutoff.
	Cutoff time.Time
}

// RawUnit is one raw response body: a page set, a chunk, or a dataset download.
type RawUnit struct {
	Name string
	Body []byte
}

// RawPayload is the immutable result of Fetch. Errors records sub-fetches
// (chunks, pages, datasets) that failed while the rest were retrieved.
type RawPayload struct {
	Request Request
	Units   []RawUnit
	Errors  []error
}

// Partial reports whether any sub-fetch failed.
func (p RawPayload) Partial() bool { return len(p.Errors) > 0 }

// Connector is one upstream API. Fetch performs all network I/O and returns
// whatever could be retrieved; it returns an error only when nothing was.
// Process is pure: it parses the payload into canonical series and applies the
// request cutoff.
type Connector interface {
	Source() string
	Targets() []Target
	Fetch(ctx context.Context, req Request) (RawPayload, error)
	Process(payload RawPayload) (domain.Batch, error)
}

// Preflighter is implemented by connectors that can detect up front that they
// cannot run, such as a missing API credential. A failed preflight skips the
// connector for the whole run.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// Store is the keyed upsert store the pipeline writes to.
type Store interface {
	Upsert(ctx context.Context, points []domain.Point) error
	LatestTimestamp(ctx context.Context, location, dataset string) (time.Time, bool, error)
}

// Sink mirrors stored points to a secondary system.
type Sink interface {
	Name() string
	Write(ctx context.Context, runID string, points []domain.Point) error
}
