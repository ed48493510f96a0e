package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/hydromet-etl/internal/adapter/azblob"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/cocorahs"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/danr"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/influx"
	kafkaadapter "github.com/couchcryptid/hydromet-etl/internal/adapter/kafka"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/memory"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/ndgis"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/noaa"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/postgres"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/shadehill"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/usace"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/usgs"
	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/config"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/observability"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
	"github.com/couchcryptid/hydromet-etl/internal/report"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/spf13/cobra"
)

// store is what both the pipeline and the report service need.
type store interface {
	pipeline.Store
	report.Reader
}

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	catalog  *catalog.Catalog
	store    store
	pipeline *pipeline.Pipeline
	reports  *report.Service
	exporter *report.CSVExporter
	geocoder domain.Geocoder
	ready    readiness
	closers  []io.Closer
}

// readiness reports ready only when every checker does.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if path, _ := cmd.Flags().GetString("catalog"); path != "" {
		cfg.CatalogFile = path
	}

	a := &app{
		cfg:     cfg,
		logger:  observability.NewLogger(cfg),
		metrics: observability.NewMetrics(),
	}

	a.catalog, err = catalog.Load(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	sinks := a.openSinks()

	a.pipeline = pipeline.New(a.connectors(), a.store, a.logger, a.metrics, pipeline.Options{
		Workers: cfg.PullWorkers,
		Days:    cfg.PullDays,
		Sinks:   sinks,
	})
	a.ready = append(a.ready, a.pipeline)

	a.reports = report.NewService(report.NewSelector(a.store, cfg.PullDays, a.logger), a.metrics, a.logger)

	if a.exporter, err = a.newExporter(); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, a.metrics, a.logger)
		a.geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, a.metrics)
		a.metrics.GeocodeEnabled.Set(1)
		a.logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		a.logger.Info("mapbox geocoding disabled")
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case config.StorePostgres:
		st, err := postgres.Open(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.store = st
		a.ready = append(a.ready, st)
		a.closers = append(a.closers, st)
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, a.cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, st)
	default:
		a.store = memory.New()
	}
	a.logger.Info("store opened", "driver", a.cfg.StoreDriver)
	return nil
}

func (a *app) openSinks() []pipeline.Sink {
	var sinks []pipeline.Sink
	if a.cfg.KafkaEnabled {
		w := kafkaadapter.NewWriter(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger)
		sinks = append(sinks, w)
		a.closers = append(a.closers, w)
		a.logger.Info("kafka mirror enabled", "brokers", a.cfg.KafkaBrokers, "topic", a.cfg.KafkaTopic)
	}
	if a.cfg.InfluxEnabled() {
		s := influx.NewSink(a.cfg.InfluxURL, a.cfg.InfluxToken, a.cfg.InfluxOrg, a.cfg.InfluxBucket, a.logger)
		sinks = append(sinks, s)
		a.closers = append(a.closers, s)
		a.logger.Info("influx mirror enabled", "url", a.cfg.InfluxURL, "bucket", a.cfg.InfluxBucket)
	}
	return sinks
}

func (a *app) newExporter() (*report.CSVExporter, error) {
	var sink report.BlobSink
	if a.cfg.AzureEnabled() {
		s, err := azblob.NewSharedKey(a.cfg.AzureAccount, a.cfg.AzureKey, a.cfg.AzureContainer, a.logger)
		if err != nil {
			return nil, err
		}
		sink = s
	} else {
		sink = report.NewDirSink(a.cfg.ExportDir)
	}
	return report.NewCSVExporter(sink, a.cfg.ExportCompression, a.metrics, a.logger)
}

// connectors builds one fetch client per source so pacing and rate-limit
// backoff stay independent.
func (a *app) connectors() []pipeline.Connector {
	client := func(source string, insecure bool) *fetch.Client {
		return fetch.NewClient(source, fetch.ClientOptions{
			Timeout:      a.cfg.HTTPTimeout,
			RequestDelay: a.cfg.RequestDelay,
			InsecureTLS:  insecure,
			Metrics:      a.metrics,
		})
	}
	cat := a.catalog
	all := []pipeline.Connector{
		usgs.New(cat.USGS, client(usgs.Source, false), a.logger),
		noaa.New(cat.NOAA, a.cfg.NOAAToken, client(noaa.Source, false), a.logger),
		usace.New(cat.USACE, client(usace.Source, a.cfg.USACEInsecureTLS), a.logger),
		shadehill.New(cat.Shadehill, client(shadehill.Source, false), a.logger),
		cocorahs.New(cat.CoCoRaHS, client(cocorahs.Source, false), a.logger),
		ndgis.New(cat.NDGIS, client(ndgis.Source, false), a.logger),
		danr.New(cat.DANR, client(danr.Source, false), a.logger),
	}
	if len(a.cfg.Sources) == 0 {
		return all
	}
	enabled := make(map[string]bool, len(a.cfg.Sources))
	for _, s := range a.cfg.Sources {
		enabled[s] = true
	}
	out := all[:0]
	for _, c := range all {
		if enabled[c.Source()] {
			out = append(out, c)
		}
	}
	return out
}

// Close releases stores and sinks in reverse order of opening.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("close failed", "error", err)
	}
}
