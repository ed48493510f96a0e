package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/hydromet-etl/internal/adapter/http"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/memory"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/observability"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
	"github.com/couchcryptid/hydromet-etl/internal/report"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

// --- mocks ---

type stubConnector struct {
	source  string
	targets []pipeline.Target
}

func (s stubConnector) Source() string             { return s.source }
func (s stubConnector) Targets() []pipeline.Target { return s.targets }
func (s stubConnector) Fetch(context.Context, pipeline.Request) (pipeline.RawPayload, error) {
	return pipeline.RawPayload{}, nil
}
func (s stubConnector) Process(pipeline.RawPayload) (domain.Batch, error) { return domain.Batch{}, nil }

type fakeRunner struct {
	mu      sync.Mutex
	running bool
	calls   chan pipeline.RunOptions
	last    *pipeline.RunReport
}

func (f *fakeRunner) Connectors() []pipeline.Connector {
	return []pipeline.Connector{
		stubConnector{source: "usgs", targets: []pipeline.Target{{Code: "06340500", Locations: []string{"Hazen"}, Datasets: []string{"Gauge Height"}}}},
		stubConnector{source: "danr"},
	}
}

func (f *fakeRunner) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRunner) RunOnce(_ context.Context, opts pipeline.RunOptions) (pipeline.RunReport, error) {
	f.calls <- opts
	return pipeline.RunReport{RunID: "run-1"}, nil
}

func (f *fakeRunner) LastRun() (pipeline.RunReport, bool) {
	if f.last == nil {
		return pipeline.RunReport{}, false
	}
	return *f.last, true
}

type fixedGeocoder struct{}

func (fixedGeocoder) ForwardGeocode(context.Context, string, string) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{Lat: 47.29, Lon: -101.62, PlaceName: "Hazen", FormattedAddress: "Hazen, North Dakota"}, nil
}

func (fixedGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{PlaceName: "Perkins County", FormattedAddress: "Perkins County, South Dakota"}, nil
}

type failingReader struct{}

func (failingReader) Query(context.Context, string, string, domain.Window) (domain.Series, error) {
	return domain.Series{}, errors.New("connection refused")
}

func (failingReader) QueryAll(context.Context, string, string) (domain.Series, error) {
	return domain.Series{}, errors.New("connection refused")
}

func (failingReader) LatestNonNull(context.Context, string, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("connection refused")
}

// --- helpers ---

type fixture struct {
	api       *httpadapter.API
	runner    *fakeRunner
	exportDir string
}

func newFixture(t *testing.T, reader report.Reader) fixture {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	svc := report.NewService(report.NewSelector(reader, 30, logger), metrics, logger)

	dir := t.TempDir()
	exp, err := report.NewCSVExporter(report.NewDirSink(dir), "none", metrics, logger)
	require.NoError(t, err)

	runner := &fakeRunner{calls: make(chan pipeline.RunOptions, 1)}
	api := httpadapter.NewAPI(httpadapter.APIOptions{
		Runner:   runner,
		Reports:  svc,
		Exporter: exp,
		Stations: []domain.Station{
			{Source: "usgs", Code: "06340500", Location: "Hazen", State: "ND"},
			{Source: "danr", Code: "SWLAZZZ2411A", Location: "SWLAZZZ2411", Lat: 45.3486, Lon: -101.0942},
		},
		Geocoder: fixedGeocoder{},
		Logger:   logger,
	})
	return fixture{api: api, runner: runner, exportDir: dir}
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.Upsert(context.Background(), []domain.Point{
		{Source: "usgs", Location: "Hazen", Dataset: "Gauge Height", Time: now.Add(-48 * time.Hour), Value: domain.Float(5.2)},
		{Source: "usgs", Location: "Hazen", Dataset: "Gauge Height", Time: now.Add(-24 * time.Hour), Value: domain.Float(5.6)},
	}))
	return st
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

// --- tests ---

func TestAPI_Sources(t *testing.T) {
	f := newFixture(t, memory.New())
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/sources", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "usgs", data[0].(map[string]any)["source"])
	assert.Equal(t, 2.0, body["meta"].(map[string]any)["count"])
}

func TestAPI_Stations(t *testing.T) {
	f := newFixture(t, memory.New())

	rec, body := do(t, f.api, http.MethodGet, "/api/v1/stations?source=danr", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.NotContains(t, data[0].(map[string]any), "place_name")

	rec, body = do(t, f.api, http.MethodGet, "/api/v1/stations?enrich=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	data = body["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "forward", data[0].(map[string]any)["geo_source"])
	assert.Equal(t, "Perkins County", data[1].(map[string]any)["place_name"])
}

func TestAPI_Series(t *testing.T) {
	f := newFixture(t, seededStore(t))
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Gauge%20Height", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "requested", body["tier"])
	assert.Equal(t, false, body["empty"])
	assert.Equal(t, "Hazen Gauge Height 2024-07-02 to 2024-08-01", body["label"])
	series := body["series"].([]any)
	require.Len(t, series, 1)
	assert.Len(t, series[0].(map[string]any)["points"], 2)
}

func TestAPI_SeriesEmpty(t *testing.T) {
	f := newFixture(t, memory.New())
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Discharge", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["empty"])
	assert.Equal(t, "none", body["tier"])
}

func TestAPI_SeriesBadDates(t *testing.T) {
	f := newFixture(t, seededStore(t))

	rec, body := do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Gauge%20Height?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid start")

	rec, _ = do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Gauge%20Height?start=2024-07-31&end=2024-07-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SeriesDateRange(t *testing.T) {
	f := newFixture(t, seededStore(t))
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Gauge%20Height?start=2024-07-30&end=2024-07-30", "")

	require.Equal(t, http.StatusOK, rec.Code)
	series := body["series"].([]any)
	require.Len(t, series, 1)
	assert.Len(t, series[0].(map[string]any)["points"], 1)
}

func TestAPI_SeriesStoreError(t *testing.T) {
	f := newFixture(t, failingReader{})
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Gauge%20Height", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "connection refused")
}

func TestAPI_Stats(t *testing.T) {
	f := newFixture(t, seededStore(t))
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Gauge%20Height/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, 2.0, stats["count"])
	assert.InDelta(t, 5.4, stats["mean"], 1e-9)
	assert.InDelta(t, 0.4, stats["range"], 1e-9)
}

func TestAPI_Export(t *testing.T) {
	f := newFixture(t, seededStore(t))
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Gauge%20Height/export", "")

	require.Equal(t, http.StatusOK, rec.Code)
	artifacts := body["artifacts"].([]any)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "Hazen__Gauge_Height__20240702_20240801.csv", artifacts[0].(map[string]any)["name"])
	assert.FileExists(t, f.exportDir+"/Hazen__Gauge_Height__20240702_20240801.csv")
}

func TestAPI_ExportEmpty(t *testing.T) {
	f := newFixture(t, memory.New())
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/series/Hazen/Discharge/export", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["empty"])
}

func TestAPI_StartPull(t *testing.T) {
	f := newFixture(t, memory.New())
	rec, _ := do(t, f.api, http.MethodPost, "/api/v1/pulls", `{"sources":["usgs"],"days":7}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case opts := <-f.runner.calls:
		assert.Equal(t, []string{"usgs"}, opts.Sources)
		assert.Equal(t, domain.LastDays(now, 7), opts.Window)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not started")
	}
}

func TestAPI_StartPullNoBody(t *testing.T) {
	f := newFixture(t, memory.New())
	rec, _ := do(t, f.api, http.MethodPost, "/api/v1/pulls", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case opts := <-f.runner.calls:
		assert.Empty(t, opts.Sources)
		assert.True(t, opts.Window.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("run was not started")
	}
}

func TestAPI_StartPullRejected(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		body    string
		want    int
	}{
		{name: "already running", running: true, want: http.StatusConflict},
		{name: "unknown source", body: `{"sources":["nws"]}`, want: http.StatusBadRequest},
		{name: "days out of range", body: `{"days":0.5}`, want: http.StatusBadRequest},
		{name: "negative days", body: `{"days":-1}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, memory.New())
			f.runner.running = tt.running
			rec, _ := do(t, f.api, http.MethodPost, "/api/v1/pulls", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, f.runner.calls)
		})
	}
}

func TestAPI_LastPull(t *testing.T) {
	f := newFixture(t, memory.New())
	rec, _ := do(t, f.api, http.MethodGet, "/api/v1/pulls/last", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.runner.last = &pipeline.RunReport{RunID: "run-9"}
	rec, body := do(t, f.api, http.MethodGet, "/api/v1/pulls/last", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-9", body["data"].(map[string]any)["run_id"])
}
