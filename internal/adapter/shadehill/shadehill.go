// Package shadehill reads daily Shadehill Reservoir data from the USBR
// Great Plains arcread form.
package shadehill

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
)

// Source is the connector name and the storage routing key.
const Source = "shadehill"

// headerLines precede the first data row of every arcread response.
const headerLines = 3

// Connector fetches one target per arcread parameter code.
type Connector struct {
	cat    catalog.Shadehill
	rules  domain.ValueRules
	client *fetch.Client
	logger *slog.Logger
}

// New creates a Shadehill connector.
func New(cat catalog.Shadehill, client *fetch.Client, logger *slog.Logger) *Connector {
	return &Connector{
		cat:    cat,
		rules:  domain.ValueRules{NullAbove: cat.MissingAbove},
		client: client,
		logger: logger,
	}
}

func (c *Connector) Source() string { return Source }

func (c *Connector) Targets() []pipeline.Target {
	out := make([]pipeline.Target, 0, len(c.cat.Datasets))
	for _, ds := range c.cat.Datasets {
		out = append(out, pipeline.Target{Code: ds.Code, Locations: []string{c.cat.Location}, Datasets: []string{ds.Name}})
	}
	return out
}

// Fetch posts the arcread form for the target's parameter over the window.
func (c *Connector) Fetch(ctx context.Context, req pipeline.Request) (pipeline.RawPayload, error) {
	start, end := req.Window.Start.UTC(), req.Window.End.UTC()
	form := url.Values{
		"st": {c.cat.Station},
		"by": {strconv.Itoa(start.Year())},
		"bm": {fmt.Sprintf("%02d", int(start.Month()))},
		"bd": {fmt.Sprintf("%02d", start.Day())},
		"ey": {strconv.Itoa(end.Year())},
		"em": {fmt.Sprintf("%02d", int(end.Month()))},
		"ed": {fmt.Sprintf("%02d", end.Day())},
		"pa": {req.Target.Code},
	}
	body, err := c.client.PostForm(ctx, c.cat.BaseURL, form)
	if err != nil {
		return pipeline.RawPayload{}, err
	}
	return pipeline.RawPayload{Request: req, Units: []pipeline.RawUnit{{Name: req.Target.Code, Body: body}}}, nil
}

// Process reads "YYYY/MM/DD ... value" rows. The value is the last token;
// readings above the missing sentinel and unreadable tokens are missing.
func (c *Connector) Process(payload pipeline.RawPayload) (domain.Batch, error) {
	target := payload.Request.Target
	if len(target.Locations) == 0 || len(target.Datasets) == 0 {
		return domain.Batch{}, fmt.Errorf("shadehill: target %q has no location or dataset", target.Code)
	}
	location, dataset := target.Locations[0], target.Datasets[0]

	b := domain.NewSeriesBuilder(Source, payload.Request.Cutoff)
	for _, unit := range payload.Units {
		sc := bufio.NewScanner(bytes.NewReader(unit.Body))
		line := 0
		for sc.Scan() {
			line++
			if line <= headerLines {
				continue
			}
			fields := strings.Fields(sc.Text())
			if len(fields) < 2 || strings.Count(fields[0], "/") != 2 {
				continue
			}
			v, err := c.rules.Parse(fields[len(fields)-1])
			if err != nil {
				v = nil
			}
			b.Add(location, dataset, fields[0], v)
		}
		if err := sc.Err(); err != nil {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: err})
		}
	}
	return b.Build(), nil
}
