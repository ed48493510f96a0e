// Package usace reads hourly reservoir reports from the USACE Northwestern
// Division RCC data pages, one plain-text report per dam.
package usace

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
)

// Source is the connector name and the storage routing key.
const Source = "usace"

// minColumns is Date, Hour, then one column per catalog dataset.
const minColumns = 10

var (
	rules = domain.ValueRules{NullMarkers: []string{"M", "-", "--", "N/A"}}

	dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006", "02Jan2006"}

	errBadHour = errors.New("bad hour")
)

// Connector fetches one target per dam. The RCC report always holds the most
// recent week, so the request window only narrows what Process keeps.
type Connector struct {
	cat    catalog.USACE
	client *fetch.Client
	logger *slog.Logger
}

// New creates a USACE connector.
func New(cat catalog.USACE, client *fetch.Client, logger *slog.Logger) *Connector {
	return &Connector{cat: cat, client: client, logger: logger}
}

func (c *Connector) Source() string { return Source }

func (c *Connector) Targets() []pipeline.Target {
	out := make([]pipeline.Target, 0, len(c.cat.Dams))
	for _, dam := range c.cat.Dams {
		out = append(out, pipeline.Target{Code: dam.Code, Locations: []string{dam.Location}, Datasets: c.cat.Datasets})
	}
	return out
}

func (c *Connector) Fetch(ctx context.Context, req pipeline.Request) (pipeline.RawPayload, error) {
	body, err := c.client.Get(ctx, strings.TrimRight(c.cat.BaseURL, "/")+"/"+req.Target.Code, nil)
	if err != nil {
		return pipeline.RawPayload{}, err
	}
	return pipeline.RawPayload{Request: req, Units: []pipeline.RawUnit{{Name: req.Target.Code, Body: body}}}, nil
}

// Process reads whitespace-separated rows. Lines with fewer than ten columns
// are headers or notes and are skipped; at most MaxRows data rows are read.
func (c *Connector) Process(payload pipeline.RawPayload) (domain.Batch, error) {
	target := payload.Request.Target
	if len(target.Locations) == 0 {
		return domain.Batch{}, fmt.Errorf("usace: target %q has no location", target.Code)
	}
	location := target.Locations[0]
	window := payload.Request.Window

	b := domain.NewSeriesBuilder(Source, payload.Request.Cutoff)
	for _, unit := range payload.Units {
		sc := bufio.NewScanner(bytes.NewReader(unit.Body))
		rows, line := 0, 0
		for sc.Scan() && rows < c.cat.MaxRows {
			line++
			fields := strings.Fields(strings.Trim(sc.Text(), `"`))
			if len(fields) < minColumns {
				continue
			}
			ts, err := parseTime(fields[0], fields[1])
			if err != nil {
				// Column headings also have ten tokens.
				if rows == 0 {
					continue
				}
				b.Drop(err)
				continue
			}
			rows++
			if !window.IsZero() && !window.Contains(ts) {
				continue
			}
			for i, ds := range target.Datasets {
				if 2+i >= len(fields) {
					break
				}
				v, err := rules.Parse(fields[2+i])
				if err != nil {
					b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Line: line, Err: err})
					continue
				}
				b.AddTime(location, ds, ts, v)
			}
		}
		if err := sc.Err(); err != nil {
			b.Drop(&domain.ParseError{Source: Source, Unit: unit.Name, Err: err})
		}
	}
	return b.Build(), nil
}

// parseTime combines a report date and an HH:MM or HHMM hour. Hour 24:00 is
// midnight of the following day.
func parseTime(date, hour string) (time.Time, error) {
	raw := date + " " + hour
	var day time.Time
	ok := false
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			day, ok = t, true
			break
		}
	}
	if !ok {
		return time.Time{}, &domain.NormalizationError{Raw: raw, Err: errors.New("unknown date format")}
	}

	h := strings.ReplaceAll(hour, ":", "")
	if len(h) != 4 {
		return time.Time{}, &domain.NormalizationError{Raw: raw, Err: errBadHour}
	}
	hh, err1 := strconv.Atoi(h[:2])
	mm, err2 := strconv.Atoi(h[2:])
	if err1 != nil || err2 != nil || hh > 24 || mm > 59 || (hh == 24 && mm != 0) {
		return time.Time{}, &domain.NormalizationError{Raw: raw, Err: errBadHour}
	}
	return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute).UTC(), nil
}
