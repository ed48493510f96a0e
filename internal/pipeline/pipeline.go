package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned by RunOnce while another run is active.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// Outcomes reported per source.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Options configures a Pipeline.
type Options struct {
	// Workers bounds concurrent target pulls per connector and concurrent connectors.
	Workers int
	// Days is the default trailing window for RunOnce.
	Days  int
	Retry RetryPolicy
	Sinks []Sink
}

// Pipeline orchestrates connector pulls into the store.
type Pipeline struct {
	connectors []Connector
	st         Store
	sinks      []Sink
	logger     *slog.Logger
	metrics    *observability.Metrics
	workers    int
	days       int
	retry      RetryPolicy

	ready   atomic.Bool
	running atomic.Bool

	mu      sync.RWMutex
	lastRun *RunReport
}

// New creates a Pipeline over the given connectors and store.
func New(connectors []Connector, st Store, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Pipeline{
		connectors: connectors,
		st:         st,
		sinks:      opts.Sinks,
		logger:     logger,
		metrics:    metrics,
		workers:    opts.Workers,
		days:       opts.Days,
		retry:      opts.Retry,
	}
}

// Connectors returns the registered connectors.
func (p *Pipeline) Connectors() []Connector {
	return slices.Clone(p.connectors)
}

// CheckReadiness returns nil once a run has completed, or an error describing
// why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no ingestion run has completed yet")
	}
	return nil
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool { return p.running.Load() }

// LastRun returns the report of the most recent completed run.
func (p *Pipeline) LastRun() (RunReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastRun == nil {
		return RunReport{}, false
	}
	return *p.lastRun, true
}

// RunOptions narrows a run.
type RunOptions struct {
	// Sources limits the run to these connector names. Empty means all.
	Sources []string
	// Window overrides the default trailing window.
	Window domain.Window
	// Cutoff, when set, replaces the per-target cutoff derived from the store.
	Cutoff time.Time
}

// SourceSummary aggregates the pulls of one connector.
type SourceSummary struct {
	Source   string        `json:"source"`
	Outcome  string        `json:"outcome"`
	Targets  int           `json:"targets"`
	Failed   int           `json:"failed_targets"`
	Stored   int           `json:"stored"`
	Excluded int           `json:"excluded"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
	Results  []PullResult  `json:"-"`
}

// RunReport is the outcome of one RunOnce call.
type RunReport struct {
	RunID    string          `json:"run_id"`
	Window   domain.Window   `json:"window"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Sources  []SourceSummary `json:"sources"`
}

// AllFailed reports whether every attempted connector failed outright.
func (r RunReport) AllFailed() bool {
	attempted := 0
	for _, s := range r.Sources {
		if s.Outcome == OutcomeSkipped {
			continue
		}
		attempted++
		if s.Outcome != OutcomeFailed {
			return false
		}
	}
	return attempted > 0
}

// RunOnce pulls every selected connector concurrently. A connector failing,
// even completely, never stops the others.
func (p *Pipeline) RunOnce(ctx context.Context, opts RunOptions) (RunReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return RunReport{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	p.metrics.RunnerRunning.Set(1)
	defer p.metrics.RunnerRunning.Set(0)

	window := opts.Window
	if window.IsZero() {
		window = domain.LastDays(domain.Now(), p.days)
	}

	runID := uuid.NewString()
	ctx = withRunID(ctx, runID)
	report := RunReport{RunID: runID, Window: window, Started: domain.Now()}

	selected := p.selectConnectors(opts.Sources)
	summaries := make([]SourceSummary, len(selected))

	p.logger.Info("ingestion run started", "run_id", runID, "window", window.String(), "sources", len(selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, c := range selected {
		g.Go(func() error {
			summaries[i] = p.runConnector(gctx, runID, c, window, opts.Cutoff)
			return nil
		})
	}
	_ = g.Wait()

	report.Sources = summaries
	report.Finished = domain.Now()

	p.mu.Lock()
	p.lastRun = &report
	p.mu.Unlock()
	p.ready.Store(true)
	p.metrics.LastRunUnixTime.Set(float64(report.Finished.Unix()))

	p.logger.Info("ingestion run finished", "run_id", runID, "duration", report.Finished.Sub(report.Started))
	return report, ctx.Err()
}

func (p *Pipeline) runConnector(ctx context.Context, runID string, c Connector, window domain.Window, cutoff time.Time) SourceSummary {
	source := c.Source()
	start := time.Now()
	sum := SourceSummary{Source: source}

	if pf, ok := c.(Preflighter); ok {
		if err := pf.Preflight(ctx); err != nil {
			p.logger.Warn("connector skipped", "source", source, "run_id", runID, "error", err)
			sum.Outcome = OutcomeSkipped
			sum.Errors = []string{err.Error()}
			p.metrics.PullsTotal.WithLabelValues(source, OutcomeSkipped).Inc()
			return sum
		}
	}

	results := p.PullAll(ctx, c, window, cutoff)
	sum.Results = results
	sum.Targets = len(results)
	partial := false
	for _, r := range results {
		sum.Stored += r.Stored
		sum.Excluded += r.Excluded
		if r.Failed {
			sum.Failed++
		}
		if r.Partial {
			partial = true
		}
		for _, err := range r.Errors {
			sum.Errors = append(sum.Errors, err.Error())
		}
	}

	switch {
	case sum.Targets > 0 && sum.Failed == sum.Targets:
		sum.Outcome = OutcomeFailed
	case partial:
		sum.Outcome = OutcomePartial
	default:
		sum.Outcome = OutcomeSuccess
	}
	sum.Duration = time.Since(start)

	p.metrics.PullsTotal.WithLabelValues(source, sum.Outcome).Inc()
	p.metrics.PullDuration.WithLabelValues(source).Observe(sum.Duration.Seconds())
	p.logger.Info("pull finished",
		"source", source,
		"run_id", runID,
		"outcome", sum.Outcome,
		"targets", sum.Targets,
		"failed_targets", sum.Failed,
		"stored", sum.Stored,
		"excluded", sum.Excluded,
		"errors", len(sum.Errors),
	)
	return sum
}

func (p *Pipeline) selectConnectors(names []string) []Connector {
	if len(names) == 0 {
		return p.connectors
	}
	var out []Connector
	for _, c := range p.connectors {
		if slices.Contains(names, c.Source()) {
			out = append(out, c)
		}
	}
	return out
}

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
