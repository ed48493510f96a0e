// Package usgs pulls instantaneous gauge values from USGS NWIS in rdb format.
package usgs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
)

// Source is the connector name and the storage routing key.
const Source = "usgs"

// firstValueColumn is the rdb column of the first value; values then occupy
// every second column, each followed by its qualifier code.
const firstValueColumn = 4

var (
	rules = domain.ValueRules{
		NullMarkers: []string{"Eqp", "Ssn", "Dis", "Bkw", "Mnt", "Fld", "Rat", "Dry", "Pr", "***"},
	}
	dischargeRules = domain.ValueRules{
		ZeroMarkers: []string{"Ice"},
		NullMarkers: rules.NullMarkers,
	}

	// tzOffsets covers the zones NWIS reports for the Missouri basin gauges.
	tzOffsets = map[string]string{
		"UTC": "+00:00",
		"CST": "-06:00",
		"CDT": "-05:00",
		"MST": "-07:00",
		"MDT": "-06:00",
	}
)

// Connector fetches one target per gauge.
type Connector struct {
	cat    catalog.USGS
	client *fetch.Client
	logger *slog.Logger
}

// New creates a USGS connector.
func New(cat catalog.USGS, client *fetch.Client, logger *slog.Logger) *Connector {
	return &Connector{cat: cat, client: client, logger: logger}
}

func (c *Connector) Source() string { return Source }

func (c *Connector) Targets() []pipeline.Target {
	out := make([]pipeline.Target, 0, len(c.cat.Stations))
	for _, st := range c.cat.Stations {
		out = append(out, pipeline.Target{
			Code:      st.Code,
			Locations: []string{st.Location},
			Datasets:  c.cat.DatasetsFor(st),
		})
	}
	return out
}

// Fetch requests the window in fixed-size day chunks. NWIS silently truncates
// long ranges, so a single request is never used for more than ChunkDays.
func (c *Connector) Fetch(ctx context.Context, req pipeline.Request) (pipeline.RawPayload, error) {
	st, ok := c.station(req.Target.Code)
	if !ok {
		return pipeline.RawPayload{}, fmt.Errorf("usgs: unknown station %q", req.Target.Code)
	}
	cat, _ := c.cat.Category(st.Category)

	units, errs := fetch.FetchChunks(ctx, req.Window, c.cat.ChunkDays,
		func(ctx context.Context, chunk domain.Window) ([]pipeline.RawUnit, error) {
			body, err := c.client.Get(ctx, c.chunkURL(st.Code, cat.Params, chunk), nil)
			if err != nil {
				return nil, err
			}
			return []pipeline.RawUnit{{Name: chunk.Start.Format(time.DateOnly), Body: body}}, nil
		}, c.logger.With("source", Source, "station", st.Code))

	if len(units) == 0 && len(errs) > 0 {
		return pipeline.RawPayload{}, errors.Join(errs...)
	}
	return pipeline.RawPayload{Request: req, Units: units, Errors: errs}, nil
}

func (c *Connector) chunkURL(site string, params []string, chunk domain.Window) string {
	q := url.Values{}
	for _, p := range params {
		q.Set(p, "on")
	}
	q.Set("format", "rdb")
	q.Set("site_no", site)
	q.Set("legacy", "1")
	q.Set("period", "")
	q.Set("begin_date", chunk.Start.Format(time.DateOnly))
	q.Set("end_date", chunk.End.Format(time.DateOnly))
	return c.cat.BaseURL + "?" + q.Encode()
}

// Process parses every rdb chunk. Datasets map to value columns in the
// station's catalog order.
func (c *Connector) Process(payload pipeline.RawPayload) (domain.Batch, error) {
	target := payload.Request.Target
	if len(target.Locations) == 0 {
		return domain.Batch{}, fmt.Errorf("usgs: target %q has no location", target.Code)
	}
	location := target.Locations[0]

	b := domain.NewSeriesBuilder(Source, payload.Request.Cutoff)
	for _, unit := range payload.Units {
		if err := parseRDB(b, unit, location, target.Datasets); err != nil {
			b.Drop(err)
		}
	}
	return b.Build(), nil
}

// parseRDB reads one tab-delimited rdb document: '#' comment lines, a column
// header, a column-format line, then data rows.
func parseRDB(b *domain.SeriesBuilder, unit pipeline.RawUnit, location string, datasets []string) error {
	sc := bufio.NewScanner(bytes.NewReader(unit.Body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	header := false
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.Split(text, "\t")
		if !header {
			if len(cols) < 3 || cols[0] != "agency_cd" {
				return &domain.ParseError{Source: Source, Unit: unit.Name, Line: line, Err: errors.New("missing rdb header")}
			}
			header = true
			// The format line ("5s 15s 20d ...") always follows the header.
			if sc.Scan() {
				line++
			}
			continue
		}
		if len(cols) < firstValueColumn {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: line, Err: errors.New("short row")})
			continue
		}

		raw := localTime(cols[2], cols[3])
		for i, ds := range datasets {
			col := firstValueColumn + 2*i
			if col >= len(cols) {
				break
			}
			r := rules
			if ds == "Discharge" {
				r = dischargeRules
			}
			v, err := r.Parse(cols[col])
			if err != nil {
				b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: line, Err: err})
				continue
			}
			b.Add(location, ds, raw, v)
		}
	}
	if err := sc.Err(); err != nil {
		return &domain.ParseError{Source: Source, Unit: unit.Name, Err: err}
	}
	return nil
}

// localTime attaches the row's zone offset so the instant converts to UTC.
// Unknown zones fall through and are read as UTC.
func localTime(raw, tz string) string {
	off, ok := tzOffsets[strings.TrimSpace(tz)]
	if !ok {
		return raw
	}
	raw = strings.TrimSpace(raw)
	t, err := time.Parse("2006-01-02 15:04", raw)
	if err != nil {
		return raw
	}
	return t.Format("2006-01-02T15:04:05") + off
}

func (c *Connector) station(code string) (catalog.USGSStation, bool) {
	for _, st := range c.cat.Stations {
		if st.Code == code {
			return st, true
		}
	}
	return catalog.USGSStation{}, false
}
