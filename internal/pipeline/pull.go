package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"golang.org/x/sync/errgroup"
)

// PullResult is the outcome of one connector pull for one target.
type PullResult struct {
	Source   string
	Target   Target
	Window   domain.Window
	Cutoff   time.Time
	Series   []domain.Series
	Stored   int
	Excluded int
	// Partial is set when any page, chunk, row, or key was lost.
	Partial bool
	// Failed is set when Fetch retrieved nothing at all.
	Failed bool
	Errors []error
	Trace  []State
}

// Pull runs fetch, process, and store for a single request. It never returns
// an error: failures are contained in the result so sibling pulls continue.
func (p *Pipeline) Pull(ctx context.Context, c Connector, req Request) PullResult {
	source := c.Source()
	st := newTracker()
	res := PullResult{Source: source, Target: req.Target, Window: req.Window, Cutoff: req.Cutoff}
	defer func() { res.Trace = st.trace }()

	st.advance(StateFetching)
	payload, err := c.Fetch(ctx, req)
	if err != nil {
		p.logger.Warn("fetch failed", "source", source, "target", req.Target.Code, "error", err)
		res.Failed = true
		res.Partial = true
		res.Errors = append(res.Errors, err)
		st.advance(StateDone)
		return res
	}
	if payload.Partial() {
		res.Partial = true
		res.Errors = append(res.Errors, payload.Errors...)
	}

	st.advance(StateProcessing)
	payload.Request = req
	batch, err := c.Process(payload)
	if err != nil {
		p.logger.Warn("process failed", "source", source, "target", req.Target.Code, "error", err)
		res.Partial = true
		res.Errors = append(res.Errors, err)
		p.metrics.RowsDropped.WithLabelValues(source, "parse").Inc()
	}
	for _, derr := range batch.Dropped {
		p.logger.Debug("row dropped", "source", source, "target", req.Target.Code, "error", derr)
		p.metrics.RowsDropped.WithLabelValues(source, dropReason(derr)).Inc()
	}
	if len(batch.Dropped) > 0 {
		res.Partial = true
		res.Errors = append(res.Errors, batch.Dropped...)
	}
	if batch.Excluded > 0 {
		p.metrics.RowsDropped.WithLabelValues(source, "cutoff").Add(float64(batch.Excluded))
	}
	res.Excluded = batch.Excluded
	res.Series = batch.Series

	points := batch.Points()
	if len(points) == 0 {
		st.advance(StateDone)
		return res
	}

	st.advance(StateStoring)
	stored, storeErrs := p.store(ctx, points)
	res.Stored = len(stored)
	if len(storeErrs) > 0 {
		res.Partial = true
		res.Errors = append(res.Errors, storeErrs...)
		p.metrics.RowsDropped.WithLabelValues(source, "storage").Add(float64(len(storeErrs)))
	}
	p.metrics.PointsStored.WithLabelValues(source).Add(float64(len(stored)))
	p.mirror(ctx, runIDFrom(ctx), stored)

	st.advance(StateDone)
	return res
}

// PullAll pulls every target of c over window, using a bounded worker pool.
// When cutoff is zero, each target's cutoff is derived from the store: the
// earliest of the latest stored timestamps across the target's locations and
// datasets, or none if any of them has no data yet. Results keep target order.
func (p *Pipeline) PullAll(ctx context.Context, c Connector, window domain.Window, cutoff time.Time) []PullResult {
	targets := c.Targets()
	results := make([]PullResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, target := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = PullResult{Source: c.Source(), Target: target, Failed: true, Partial: true, Errors: []error{err}}
				return nil
			}

			req := Request{Target: target, Window: window, Cutoff: cutoff}
			if cutoff.IsZero() {
				derived, err := p.derivedCutoff(gctx, target)
				if err != nil {
					p.logger.Warn("cutoff lookup failed, pulling full window",
						"source", c.Source(), "target", target.Code, "error", err)
				}
				req.Cutoff = derived
			}
			if !req.Cutoff.IsZero() && req.Cutoff.After(req.Window.Start) {
				req.Window.Start = req.Cutoff
			}
			if req.Window.Start.After(req.Window.End) {
				results[i] = PullResult{Source: c.Source(), Target: target, Window: req.Window, Cutoff: req.Cutoff,
					Trace: []State{StateIdle}}
				return nil
			}

			results[i] = p.Pull(gctx, c, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) derivedCutoff(ctx context.Context, target Target) (time.Time, error) {
	var earliest time.Time
	for _, loc := range target.Locations {
		for _, ds := range target.Datasets {
			ts, ok, err := p.st.LatestTimestamp(ctx, loc, ds)
			if err != nil {
				return time.Time{}, fmt.Errorf("latest timestamp %s/%s: %w", loc, ds, err)
			}
			if !ok {
				return time.Time{}, nil
			}
			if earliest.IsZero() || ts.Before(earliest) {
				earliest = ts
			}
		}
	}
	return earliest, nil
}

func dropReason(err error) string {
	var nerr *domain.NormalizationError
	if errors.As(err, &nerr) {
		return "timestamp"
	}
	return "parse"
}
