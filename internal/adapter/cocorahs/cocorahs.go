// Package cocorahs pulls daily CoCoRaHS observer reports through the ACIS
// StnData web service.
package cocorahs

import (
	"context"
	"encoding/json"
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
const Source = "cocorahs"

// M is missing, T is a trace amount, S is a multi-day total reported later.
var rules = domain.ValueRules{NullMarkers: []string{"M", "T", "S"}}

type stnDataParams struct {
	SID   string `json:"sid"`
	SDate string `json:"sdate"`
	EDate string `json:"edate"`
	Elems string `json:"elems"`
}

type stnDataResponse struct {
	Error string              `json:"error"`
	Data  [][]json.RawMessage `json:"data"`
}

// Connector fetches one target per observer station.
type Connector struct {
	cat    catalog.CoCoRaHS
	client *fetch.Client
	logger *slog.Logger
}

// New creates a CoCoRaHS connector.
func New(cat catalog.CoCoRaHS, client *fetch.Client, logger *slog.Logger) *Connector {
	return &Connector{cat: cat, client: client, logger: logger}
}

func (c *Connector) Source() string { return Source }

func (c *Connector) Targets() []pipeline.Target {
	datasets := make([]string, 0, len(c.cat.Elements))
	for _, el := range c.cat.Elements {
		datasets = append(datasets, el.Name)
	}
	out := make([]pipeline.Target, 0, len(c.cat.Stations))
	for _, st := range c.cat.Stations {
		out = append(out, pipeline.Target{Code: st.Code, Locations: []string{st.Location}, Datasets: datasets})
	}
	return out
}

// Fetch requests the window clamped to the station's period of record. A
// window that ends before the station existed yields an empty payload.
func (c *Connector) Fetch(ctx context.Context, req pipeline.Request) (pipeline.RawPayload, error) {
	st, ok := c.station(req.Target.Code)
	if !ok {
		return pipeline.RawPayload{}, fmt.Errorf("cocorahs: unknown station %q", req.Target.Code)
	}

	window := req.Window
	if first := st.StartDate(); window.Start.Before(first) {
		window.Start = first
	}
	if window.End.Before(window.Start) {
		c.logger.Debug("window precedes period of record", "source", Source, "station", st.Code)
		return pipeline.RawPayload{Request: req}, nil
	}

	elems := make([]string, 0, len(c.cat.Elements))
	for _, el := range c.cat.Elements {
		elems = append(elems, el.Code)
	}
	params, err := json.Marshal(stnDataParams{
		SID:   st.Code,
		SDate: window.Start.UTC().Format(time.DateOnly),
		EDate: window.End.UTC().Format(time.DateOnly),
		Elems: strings.Join(elems, ","),
	})
	if err != nil {
		return pipeline.RawPayload{}, fmt.Errorf("cocorahs: encode params: %w", err)
	}

	body, err := c.client.Get(ctx, c.cat.BaseURL+"?"+url.Values{"params": {string(params)}}.Encode(), nil)
	if err != nil {
		return pipeline.RawPayload{}, err
	}
	return pipeline.RawPayload{Request: req, Units: []pipeline.RawUnit{{Name: st.Code, Body: body}}}, nil
}

// Process maps each data row [date, elem1, elem2, ...] onto the element
// datasets in catalog order.
func (c *Connector) Process(payload pipeline.RawPayload) (domain.Batch, error) {
	target := payload.Request.Target
	if len(target.Locations) == 0 {
		return domain.Batch{}, fmt.Errorf("cocorahs: target %q has no location", target.Code)
	}
	location := target.Locations[0]

	b := domain.NewSeriesBuilder(Source, payload.Request.Cutoff)
	for _, unit := range payload.Units {
		var resp stnDataResponse
		if err := json.Unmarshal(unit.Body, &resp); err != nil {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: err})
			continue
		}
		if resp.Error != "" {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: fmt.Errorf("acis: %s", resp.Error)})
			continue
		}
		for i, row := range resp.Data {
			if len(row) == 0 {
				continue
			}
			var date string
			if err := json.Unmarshal(row[0], &date); err != nil {
				b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: i + 1, Err: err})
				continue
			}
			for j, ds := range target.Datasets {
				if j+1 >= len(row) {
					break
				}
				var raw string
				if err := json.Unmarshal(row[j+1], &raw); err != nil {
					b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: i + 1, Err: err})
					continue
				}
				v, err := rules.Parse(raw)
				if err != nil {
					b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: i + 1, Err: err})
					continue
				}
				b.Add(location, ds, date, v)
			}
		}
	}
	return b.Build(), nil
}

func (c *Connector) station(code string) (catalog.CoCoRaHSStation, bool) {
	for _, st := range c.cat.Stations {
		if st.Code == code {
			return st, true
		}
	}
	return catalog.CoCoRaHSStation{}, false
}
