package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
	"github.com/couchcryptid/hydromet-etl/internal/report"
	"github.com/gin-gonic/gin"
)

const requestTimeout = 30 * time.Second

// Runner starts and reports ingestion runs.
type Runner interface {
	Connectors() []pipeline.Connector
	Running() bool
	RunOnce(ctx context.Context, opts pipeline.RunOptions) (pipeline.RunReport, error)
	LastRun() (pipeline.RunReport, bool)
}

// Reporter builds series reports.
type Reporter interface {
	Build(ctx context.Context, req report.Request) (report.Report, error)
}

// Exporter writes report artifacts.
type Exporter interface {
	Export(ctx context.Context, r report.Report) ([]report.Artifact, error)
}

// APIOptions wires the reporting API. Exporter and Geocoder may be nil.
type APIOptions struct {
	Runner   Runner
	Reports  Reporter
	Exporter Exporter
	Stations []domain.Station
	Geocoder domain.Geocoder
	// RunContext bounds runs started through POST /pulls, which outlive the request.
	RunContext context.Context
	Logger     *slog.Logger
}

// API is the gin-based reporting API under /api/v1.
type API struct {
	opts   APIOptions
	engine *gin.Engine
}

// NewAPI registers the /api/v1 routes.
func NewAPI(opts APIOptions) *API {
	if opts.RunContext == nil {
		opts.RunContext = context.Background()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(opts.Logger))

	a := &API{opts: opts, engine: engine}

	v1 := engine.Group("/api/v1")
	v1.GET("/sources", a.handleSources)
	v1.GET("/stations", a.handleStations)
	v1.GET("/series/:location/:dataset", a.handleSeries)
	v1.GET("/series/:location/:dataset/stats", a.handleStats)
	v1.GET("/series/:location/:dataset/export", a.handleExport)
	v1.POST("/pulls", a.handleStartPull)
	v1.GET("/pulls/last", a.handleLastPull)
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.engine.ServeHTTP(w, r)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

type sourceInfo struct {
	Source  string            `json:"source"`
	Targets []pipeline.Target `json:"targets"`
}

// GET /api/v1/sources
func (a *API) handleSources(c *gin.Context) {
	connectors := a.opts.Runner.Connectors()
	out := make([]sourceInfo, 0, len(connectors))
	for _, conn := range connectors {
		out = append(out, sourceInfo{Source: conn.Source(), Targets: conn.Targets()})
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": gin.H{"count": len(out)}})
}

// GET /api/v1/stations?source=danr&enrich=true
func (a *API) handleStations(c *gin.Context) {
	source := c.Query("source")
	enrich := c.Query("enrich") == "true" && a.opts.Geocoder != nil

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	out := make([]domain.Station, 0, len(a.opts.Stations))
	for _, st := range a.opts.Stations {
		if source != "" && st.Source != source {
			continue
		}
		if enrich {
			st = domain.EnrichStation(ctx, st, a.opts.Geocoder, a.opts.Logger)
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": gin.H{"count": len(out)}})
}

// GET /api/v1/series/:location/:dataset?start=&end=&split=
func (a *API) handleSeries(c *gin.Context) {
	rep, ok := a.buildReport(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rep)
}

// GET /api/v1/series/:location/:dataset/stats
func (a *API) handleStats(c *gin.Context) {
	rep, ok := a.buildReport(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"location": rep.Location,
		"dataset":  rep.Dataset,
		"tier":     rep.Tier,
		"window":   rep.Window,
		"label":    rep.Label,
		"stats":    rep.Stats,
		"empty":    rep.Empty,
	})
}

// GET /api/v1/series/:location/:dataset/export
func (a *API) handleExport(c *gin.Context) {
	if a.opts.Exporter == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "exports are not configured"})
		return
	}
	rep, ok := a.buildReport(c)
	if !ok {
		return
	}
	if rep.Empty {
		c.JSON(http.StatusOK, gin.H{"label": rep.Label, "empty": true, "artifacts": []report.Artifact{}})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	artifacts, err := a.opts.Exporter.Export(ctx, rep)
	if err != nil {
		a.opts.Logger.Error("export failed", "location", rep.Location, "dataset", rep.Dataset, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"label": rep.Label, "tier": rep.Tier, "empty": false, "artifacts": artifacts})
}

func (a *API) buildReport(c *gin.Context) (report.Report, bool) {
	req := report.Request{
		Location: c.Param("location"),
		Dataset:  c.Param("dataset"),
		Split:    c.Query("split") == "true",
	}
	var err error
	if req.Start, err = domain.ParseBound(c.Query("start"), false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start: " + err.Error()})
		return report.Report{}, false
	}
	if req.End, err = domain.ParseBound(c.Query("end"), true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end: " + err.Error()})
		return report.Report{}, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	rep, err := a.opts.Reports.Build(ctx, req)
	switch {
	case errors.Is(err, report.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return report.Report{}, false
	case err != nil:
		a.opts.Logger.Error("report failed", "location", req.Location, "dataset", req.Dataset, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return report.Report{}, false
	}
	return rep, true
}

type pullRequest struct {
	Sources []string `json:"sources"`
	Days    int      `json:"days" binding:"omitempty,min=1,max=3650"`
}

// POST /api/v1/pulls
func (a *API) handleStartPull(c *gin.Context) {
	var body pullRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	known := make([]string, 0)
	for _, conn := range a.opts.Runner.Connectors() {
		known = append(known, conn.Source())
	}
	for _, s := range body.Sources {
		if !slices.Contains(known, s) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown source %q", s)})
			return
		}
	}

	if a.opts.Runner.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": pipeline.ErrRunInProgress.Error()})
		return
	}

	opts := pipeline.RunOptions{Sources: body.Sources}
	if body.Days > 0 {
		opts.Window = domain.LastDays(domain.Now(), body.Days)
	}
	go func() {
		rep, err := a.opts.Runner.RunOnce(a.opts.RunContext, opts)
		if err != nil {
			a.opts.Logger.Warn("triggered run ended with error", "run_id", rep.RunID, "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "sources": body.Sources})
}

// GET /api/v1/pulls/last
func (a *API) handleLastPull(c *gin.Context) {
	rep, ok := a.opts.Runner.LastRun()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run has completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rep})
}
