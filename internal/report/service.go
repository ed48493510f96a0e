package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/observability"
)

// ErrInvalidRequest marks a report request that cannot be served.
var ErrInvalidRequest = errors.New("invalid report request")

// Request asks for one (location, dataset). Zero Start and End select the
// default trailing window; a single zero bound is filled from the other.
type Request struct {
	Location string
	Dataset  string
	Start    time.Time
	End      time.Time
	// Split returns one series per concurrent reading instead of the
	// keep-last collapse.
	Split bool
}

// Report is a bounded, cleaned view of one (location, dataset).
type Report struct {
	Location string          `json:"location"`
	Dataset  string          `json:"dataset"`
	Tier     Tier            `json:"tier"`
	Window   domain.Window   `json:"window"`
	Series   []domain.Series `json:"series"`
	Stats    *domain.Stats   `json:"stats,omitempty"`
	Label    string          `json:"label"`
	Split    bool            `json:"split"`
	// Empty is set when no tier found any data; it is not an error.
	Empty bool `json:"empty"`
}

// Label formats the display label of a report window.
func Label(location, dataset string, w domain.Window) string {
	return fmt.Sprintf("%s %s %s to %s", location, dataset,
		w.Start.UTC().Format("2006-01-02"), w.End.UTC().Format("2006-01-02"))
}

// FileName returns the export base name, without extension:
// "{location}__{dataset}__{YYYYMMDD}_{YYYYMMDD}".
func (r Report) FileName() string {
	return fmt.Sprintf("%s__%s__%s_%s",
		domain.SafeName(r.Location), domain.SafeName(r.Dataset),
		r.Window.Start.UTC().Format("20060102"), r.Window.End.UTC().Format("20060102"))
}

// Service answers report requests from the store.
type Service struct {
	selector *Selector
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService creates a report service.
func NewService(selector *Selector, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{selector: selector, metrics: metrics, logger: logger}
}

// Build selects a window, then either collapses duplicate timestamps keep-last
// (readings from different sensors at one instant included) or splits them
// into parallel series. Stats always describe the collapsed series.
func (s *Service) Build(ctx context.Context, req Request) (Report, error) {
	w, err := s.window(req)
	if err != nil {
		return Report{}, err
	}

	sel, err := s.selector.Select(ctx, req.Location, req.Dataset, w)
	if err != nil {
		return Report{}, fmt.Errorf("select %s/%s: %w", req.Location, req.Dataset, err)
	}
	s.metrics.ReportsServed.WithLabelValues(sel.Tier.String()).Inc()

	rep := Report{
		Location: req.Location,
		Dataset:  req.Dataset,
		Tier:     sel.Tier,
		Window:   sel.Window,
		Split:    req.Split,
		Label:    Label(req.Location, req.Dataset, sel.Window),
		Empty:    sel.Empty(),
		Series:   []domain.Series{},
	}
	if rep.Empty {
		return rep, nil
	}

	// Stores return points ordered by (ts, sensor), so concurrent sub-station
	// readings collapse to the highest sensor code.
	collapsed := domain.Series{
		Source:   sel.Series.Source,
		Location: req.Location,
		Dataset:  req.Dataset,
		Points:   domain.Canonicalize(domain.WithoutSensor(sel.Series.Points), domain.NormalizeOptions{}),
	}
	if stats, ok := domain.Summarize(collapsed.Points); ok {
		rep.Stats = &stats
	}

	if req.Split {
		rep.Series = domain.SplitByOccurrence(sel.Series)
	} else {
		rep.Series = []domain.Series{collapsed}
	}
	return rep, nil
}

func (s *Service) window(req Request) (domain.Window, error) {
	if req.Location == "" || req.Dataset == "" {
		return domain.Window{}, fmt.Errorf("%w: location and dataset are required", ErrInvalidRequest)
	}
	w := domain.Window{Start: req.Start.UTC(), End: req.End.UTC()}
	if req.Start.IsZero() && req.End.IsZero() {
		return domain.Window{}, nil
	}
	def := s.selector.DefaultWindow()
	switch {
	case req.End.IsZero():
		w.End = def.End
	case req.Start.IsZero():
		w.Start = w.End.Add(-def.Duration())
	}
	if w.Start.After(w.End) {
		return domain.Window{}, fmt.Errorf("%w: start after end", ErrInvalidRequest)
	}
	return w, nil
}
