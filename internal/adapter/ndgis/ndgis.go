// Package ndgis pulls surface water chemistry for North Dakota sampling
// sites. Sites are discovered from the NDGIS ArcGIS layer; each site's
// samples come from a DEQ CSV export.
package ndgis

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
)

// Source is the connector name and the storage routing key.
const Source = "ndgis"

var (
	rules = domain.ValueRules{NullMarkers: []string{"*NON-DETECT"}}

	// dateLayouts covers the DEQ export's collection dates after ISO forms.
	dateLayouts = []string{"1/2/2006 3:04:05 PM", "1/2/2006 3:04 PM", "1/2/2006 15:04:05", "1/2/2006 15:04", "1/2/2006"}

	errNoStations = errors.New("ndgis: no sampling sites discovered")
	errNoDataset  = errors.New("no dataset for station")
	errNoHeader   = errors.New("missing Parameter, DATE_COLL, or Result column")
)

type queryResponse struct {
	Features []struct {
		Attributes map[string]json.RawMessage `json:"attributes"`
	} `json:"features"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Connector fetches one target per sampling site.
type Connector struct {
	cat       catalog.NDGIS
	client    *fetch.Client
	paginator fetch.Paginator
	logger    *slog.Logger

	mu         sync.RWMutex
	discovered []string
}

// New creates an NDGIS connector. When the catalog lists no stations they
// are discovered during Preflight.
func New(cat catalog.NDGIS, client *fetch.Client, logger *slog.Logger) *Connector {
	return &Connector{
		cat:       cat,
		client:    client,
		paginator: fetch.DefaultPaginator(cat.PageSize, logger.With("source", Source)),
		logger:    logger,
	}
}

// WithPaginator replaces the paging policy.
func (c *Connector) WithPaginator(p fetch.Paginator) *Connector {
	c.paginator = p
	return c
}

func (c *Connector) Source() string { return Source }

// Preflight discovers sampling sites when none are configured. A failed or
// empty discovery skips the source for this run.
func (c *Connector) Preflight(ctx context.Context) error {
	if len(c.cat.Stations) > 0 {
		return nil
	}
	ids, err := c.Discover(ctx)
	if err != nil && len(ids) == 0 {
		return fmt.Errorf("ndgis: discover stations: %w", err)
	}
	if len(ids) == 0 {
		return errNoStations
	}
	if err != nil {
		c.logger.Warn("station discovery incomplete", "source", Source, "found", len(ids), "error", err)
	}

	c.mu.Lock()
	c.discovered = ids
	c.mu.Unlock()
	return nil
}

// Discover pages through the ArcGIS sampling-site layer and returns the
// site ids in first-seen order without duplicates.
func (c *Connector) Discover(ctx context.Context) ([]string, error) {
	ids, err := fetch.FetchPages(ctx, c.paginator, func(ctx context.Context, offset, limit int) (fetch.Page[string], error) {
		q := url.Values{
			"where":             {"1=1"},
			"outFields":         {"Site_ID"},
			"returnGeometry":    {"false"},
			"f":                 {"json"},
			"resultOffset":      {strconv.Itoa(offset)},
			"resultRecordCount": {strconv.Itoa(limit)},
		}
		body, err := c.client.Get(ctx, c.cat.DiscoveryURL+"?"+q.Encode(), nil)
		if err != nil {
			return fetch.Page[string]{}, err
		}
		var resp queryResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fetch.Page[string]{}, &domain.ParseError{Source: Source, Unit: "discovery", Err: err}
		}
		if resp.Error != nil {
			return fetch.Page[string]{}, &domain.ParseError{Source: Source, Unit: "discovery", Err: errors.New(resp.Error.Message)}
		}
		page := fetch.Page[string]{Items: make([]string, 0, len(resp.Features))}
		// Blank ids stay in the page so its length still reflects the feature count.
		for _, f := range resp.Features {
			page.Items = append(page.Items, siteID(f.Attributes["Site_ID"]))
		}
		return page, nil
	})

	seen := make(map[string]bool, len(ids))
	unique := ids[:0]
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique, err
}

// siteID accepts the id as either a JSON string or number.
func siteID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func (c *Connector) stations() []string {
	if len(c.cat.Stations) > 0 {
		return c.cat.Stations
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.discovered)
}

func (c *Connector) Targets() []pipeline.Target {
	ids := c.stations()
	out := make([]pipeline.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, pipeline.Target{Code: id, Locations: []string{id}, Datasets: c.cat.Parameters})
	}
	return out
}

// Fetch asks DEQ for the name of the site's export, then downloads it.
func (c *Connector) Fetch(ctx context.Context, req pipeline.Request) (pipeline.RawPayload, error) {
	code := url.PathEscape(req.Target.Code)
	nameBody, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cat.DatasetURL, "/")+"/"+code, nil)
	})
	if err != nil {
		return pipeline.RawPayload{}, err
	}
	name := strings.TrimSpace(strings.ReplaceAll(string(nameBody), `"`, ""))
	if name == "" {
		return pipeline.RawPayload{}, fmt.Errorf("ndgis %s: %w", req.Target.Code, errNoDataset)
	}

	body, err := c.client.Get(ctx, strings.TrimRight(c.cat.DownloadURL, "/")+"/"+url.PathEscape(name)+".csv", nil)
	if err != nil {
		return pipeline.RawPayload{}, err
	}
	return pipeline.RawPayload{Request: req, Units: []pipeline.RawUnit{{Name: name, Body: body}}}, nil
}

// Process keeps the configured chemical parameters within the request window.
func (c *Connector) Process(payload pipeline.RawPayload) (domain.Batch, error) {
	target := payload.Request.Target
	if len(target.Locations) == 0 {
		return domain.Batch{}, fmt.Errorf("ndgis: target %q has no location", target.Code)
	}
	location := target.Locations[0]
	window := payload.Request.Window

	b := domain.NewSeriesBuilder(Source, payload.Request.Cutoff)
	for _, unit := range payload.Units {
		records, err := readCSV(unit.Body)
		if err != nil {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: err})
			continue
		}
		if len(records) == 0 {
			continue
		}
		param, date, result := column(records[0], "Parameter"), column(records[0], "DATE_COLL"), column(records[0], "Result")
		if param < 0 || date < 0 || result < 0 {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: 1, Err: errNoHeader})
			continue
		}

		var parser *domain.TimeParser
		for i, rec := range records[1:] {
			line := i + 2
			if len(rec) <= max(param, date, result) {
				b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: line, Err: errors.New("short row")})
				continue
			}
			if !slices.Contains(target.Datasets, rec[param]) {
				continue
			}
			raw := strings.TrimSpace(rec[result])
			if raw == "" {
				continue
			}
			if parser == nil {
				p := domain.NewTimeParser(rec[date], dateLayouts...)
				parser = &p
			}
			ts, err := parser.Parse(rec[date])
			if err != nil {
				b.Drop(err)
				continue
			}
			if !window.IsZero() && !window.Contains(ts) {
				continue
			}
			v, err := rules.Parse(raw)
			if err != nil {
				b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: line, Err: err})
				continue
			}
			b.AddTime(location, rec[param], ts, v)
		}
	}
	return b.Build(), nil
}

// readCSV honors an Excel "sep=" line and otherwise prefers ';', falling back
// to ',' when the header does not split on semicolons.
func readCSV(body []byte) ([][]string, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	sep := ';'
	if first, rest, ok := bytes.Cut(body, []byte("\n")); ok && bytes.HasPrefix(first, []byte("sep=")) {
		if s := bytes.TrimSpace(first[len("sep="):]); len(s) == 1 {
			sep = rune(s[0])
		}
		body = rest
	} else {
		header, _, _ := bytes.Cut(body, []byte("\n"))
		if !bytes.Contains(header, []byte(";")) {
			sep = ','
		}
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func column(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}
