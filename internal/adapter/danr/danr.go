// Package danr pulls water-quality samples from the South Dakota DANR
// surface water station API.
package danr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
)

// Source is the connector name and the storage routing key.
const Source = "danr"

// Values below the detection limit ("<0.02") carry no number and are missing.
var rules = domain.ValueRules{NullMarkers: []string{"non-detect"}, NullIfContains: []string{"<"}}

type stationResponse struct {
	Parameters []map[string]json.RawMessage `json:"parameters"`
}

// Connector fetches one target per sampling site. A site with lettered
// sub-stations fetches each of them and stores their samples under the
// site's location, one sensor per sub-station.
type Connector struct {
	cat    catalog.DANR
	client *fetch.Client
	logger *slog.Logger
}

// New creates a DANR connector.
func New(cat catalog.DANR, client *fetch.Client, logger *slog.Logger) *Connector {
	return &Connector{cat: cat, client: client, logger: logger}
}

func (c *Connector) Source() string { return Source }

func (c *Connector) datasets() []string {
	out := make([]string, 0, len(c.cat.Fields))
	for _, f := range c.cat.Fields {
		out = append(out, f.Dataset)
	}
	return out
}

// Targets groups catalog stations by site in catalog order.
func (c *Connector) Targets() []pipeline.Target {
	datasets := c.datasets()
	seen := make(map[string]bool)
	var out []pipeline.Target
	for _, st := range c.cat.Stations {
		site := st.Site()
		if seen[site] {
			continue
		}
		seen[site] = true
		out = append(out, pipeline.Target{Code: site, Locations: []string{site}, Datasets: datasets})
	}
	return out
}

// Stations returns the catalog station codes that make up a site.
func (c *Connector) Stations(site string) []string {
	var out []string
	for _, st := range c.cat.Stations {
		if st.Site() == site {
			out = append(out, st.Code)
		}
	}
	return out
}

func (c *Connector) Fetch(ctx context.Context, req pipeline.Request) (pipeline.RawPayload, error) {
	codes := c.Stations(req.Target.Code)
	if len(codes) == 0 {
		return pipeline.RawPayload{}, fmt.Errorf("danr: unknown site %q", req.Target.Code)
	}

	payload := pipeline.RawPayload{Request: req}
	for _, code := range codes {
		body, err := c.client.Get(ctx, strings.TrimRight(c.cat.BaseURL, "/")+"/"+url.PathEscape(code), nil)
		if err != nil {
			payload.Errors = append(payload.Errors, fmt.Errorf("danr %s: %w", code, err))
			continue
		}
		payload.Units = append(payload.Units, pipeline.RawUnit{Name: code, Body: body})
	}
	if len(payload.Units) == 0 {
		return pipeline.RawPayload{}, errors.Join(payload.Errors...)
	}
	return payload, nil
}

// Process reads each sample's configured fields. Samples outside the
// request window are skipped.
func (c *Connector) Process(payload pipeline.RawPayload) (domain.Batch, error) {
	target := payload.Request.Target
	if len(target.Locations) == 0 {
		return domain.Batch{}, fmt.Errorf("danr: target %q has no location", target.Code)
	}
	location := target.Locations[0]
	window := payload.Request.Window
	// Only sites split into lettered sub-stations carry a sensor code.
	split := len(c.Stations(target.Code)) > 1

	b := domain.NewSeriesBuilder(Source, payload.Request.Cutoff)
	for _, unit := range payload.Units {
		var resp stationResponse
		if err := json.Unmarshal(unit.Body, &resp); err != nil {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: err})
			continue
		}
		for i, sample := range resp.Parameters {
			date := text(sample["sampleDate"])
			if date == "" {
				b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: i + 1, Err: errors.New("sample without date")})
				continue
			}
			if !window.IsZero() {
				if t, err := domain.ParseTimestamp(date); err == nil && !window.Contains(t) {
					continue
				}
			}
			for _, f := range c.cat.Fields {
				raw, ok := sample[f.Field]
				if !ok {
					continue
				}
				v, err := rules.Parse(text(raw))
				if err != nil {
					b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: i + 1, Err: err})
					continue
				}
				sensor := ""
				if split {
					sensor = unit.Name
				}
				b.AddSensor(location, f.Dataset, sensor, date, v)
			}
		}
	}
	return b.Build(), nil
}

// text returns a JSON string's content or a JSON number's literal.
func text(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
