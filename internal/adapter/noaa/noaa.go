// Package noaa pulls daily GHCND summaries from the NOAA Climate Data Online
// v2 API. Requests need an API token and are paginated.
package noaa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
)

// Source is the connector name and the storage routing key.
const Source = "noaa"

// ErrMissingToken is returned by Preflight when no API token is configured.
var ErrMissingToken = errors.New("noaa: NOAA_API_TOKEN is not set")

type result struct {
	Date     string   `json:"date"`
	Datatype string   `json:"datatype"`
	Station  string   `json:"station"`
	Value    *float64 `json:"value"`
}

type response struct {
	Metadata *struct {
		ResultSet struct {
			Offset int `json:"offset"`
			Count  int `json:"count"`
			Limit  int `json:"limit"`
		} `json:"resultset"`
	} `json:"metadata"`
	Results []result `json:"results"`
}

// Connector fetches one target per GHCND station. Every report location
// aliased to the station receives the station's series.
type Connector struct {
	cat       catalog.NOAA
	token     string
	client    *fetch.Client
	paginator fetch.Paginator
	logger    *slog.Logger
}

// New creates a NOAA connector.
func New(cat catalog.NOAA, token string, client *fetch.Client, logger *slog.Logger) *Connector {
	return &Connector{
		cat:       cat,
		token:     token,
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

// Preflight fails when no token is configured so the run skips this source.
func (c *Connector) Preflight(_ context.Context) error {
	if c.token == "" {
		return ErrMissingToken
	}
	return nil
}

func (c *Connector) Targets() []pipeline.Target {
	datasets := make([]string, 0, len(c.cat.Datasets))
	for _, ds := range c.cat.Datasets {
		datasets = append(datasets, ds.Name)
	}

	var out []pipeline.Target
	for _, st := range c.cat.Stations {
		locations := c.cat.LocationsFor(st.Name)
		if len(locations) == 0 {
			continue
		}
		out = append(out, pipeline.Target{Code: st.Code, Locations: locations, Datasets: datasets})
	}
	return out
}

// Fetch pages through every dataset of the station. A dataset that fails
// mid-way keeps the pages it already has.
func (c *Connector) Fetch(ctx context.Context, req pipeline.Request) (pipeline.RawPayload, error) {
	payload := pipeline.RawPayload{Request: req}
	for _, ds := range c.cat.Datasets {
		results, err := fetch.FetchPages(ctx, c.paginator, func(ctx context.Context, offset, limit int) (fetch.Page[result], error) {
			return c.page(ctx, req, ds.Code, offset, limit)
		})
		if err != nil {
			payload.Errors = append(payload.Errors, fmt.Errorf("noaa %s %s: %w", req.Target.Code, ds.Code, err))
		}
		if len(results) == 0 && err != nil {
			continue
		}
		body, merr := json.Marshal(results)
		if merr != nil {
			return pipeline.RawPayload{}, fmt.Errorf("noaa: encode results: %w", merr)
		}
		payload.Units = append(payload.Units, pipeline.RawUnit{Name: ds.Code, Body: body})
	}

	if len(payload.Units) == 0 && len(payload.Errors) > 0 {
		return pipeline.RawPayload{}, errors.Join(payload.Errors...)
	}
	return payload, nil
}

// page requests one page. CDO offsets are 1-based; the paginator's are 0-based.
func (c *Connector) page(ctx context.Context, req pipeline.Request, datatype string, offset, limit int) (fetch.Page[result], error) {
	q := url.Values{}
	q.Set("datasetid", "GHCND")
	q.Set("stationid", req.Target.Code)
	q.Set("datatypeid", datatype)
	q.Set("startdate", req.Window.Start.UTC().Format(time.DateOnly))
	q.Set("enddate", req.Window.End.UTC().Format(time.DateOnly))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset+1))
	q.Set("includemetadata", "true")

	body, err := c.client.Get(ctx, c.cat.BaseURL+"?"+q.Encode(), http.Header{"Token": {c.token}})
	if err != nil {
		return fetch.Page[result]{}, err
	}

	// CDO answers an empty range with "{}".
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fetch.Page[result]{}, &domain.ParseError{Source: Source, Unit: datatype, Err: err}
	}
	page := fetch.Page[result]{Items: resp.Results}
	if m := resp.Metadata; m != nil && m.ResultSet.Count > 0 {
		page.HasMeta = true
		page.Count = m.ResultSet.Count
		page.Offset = m.ResultSet.Offset - 1
		page.Limit = m.ResultSet.Limit
	}
	return page, nil
}

// Process scales each dataset's values and fans the station series out to
// every aliased location.
func (c *Connector) Process(payload pipeline.RawPayload) (domain.Batch, error) {
	b := domain.NewSeriesBuilder(Source, payload.Request.Cutoff)
	for _, unit := range payload.Units {
		ds, ok := c.dataset(unit.Name)
		if !ok {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: errors.New("unknown datatype")})
			continue
		}
		var results []result
		if err := json.Unmarshal(unit.Body, &results); err != nil {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: err})
			continue
		}

		rules := domain.ValueRules{Scale: ds.Scale}
		for _, r := range results {
			var raw string
			if r.Value != nil {
				raw = strconv.FormatFloat(*r.Value, 'f', -1, 64)
			}
			v, err := rules.Parse(raw)
			if err != nil {
				b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: err})
				continue
			}
			for _, loc := range payload.Request.Target.Locations {
				b.Add(loc, ds.Name, r.Date, v)
			}
		}
	}
	return b.Build(), nil
}

func (c *Connector) dataset(code string) (catalog.NOAADataset, bool) {
	for _, ds := range c.cat.Datasets {
		if ds.Code == code {
			return ds, true
		}
	}
	return catalog.NOAADataset{}, false
}
