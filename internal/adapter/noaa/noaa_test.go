package noaa

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(baseURL string) catalog.NOAA {
	return catalog.NOAA{
		BaseURL:  baseURL,
		PageSize: 2,
		Datasets: []catalog.NOAADataset{
			{Name: "Max Temperature", Code: "TMAX", Scale: 10},
			{Name: "Precipitation", Code: "PRCP", Scale: 10},
		},
		Stations: []catalog.NOAAStation{
			{Name: "Williston, ND", Code: "GHCND:USW00024014"},
			{Name: "Grand Forks, ND", Code: "GHCND:USW00014916"},
		},
		Locations: []catalog.NOAALocation{
			{Location: "Williston/Basin", Station: "Williston, ND"},
			{Location: "Tioga", Station: "Williston, ND"},
		},
	}
}

func fastPaginator(size int) fetch.Paginator {
	return fetch.Paginator{PageSize: size, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newConnector(baseURL, token string) *Connector {
	c := New(testCatalog(baseURL), token, fetch.NewClient(Source, fetch.ClientOptions{}), slog.New(slog.DiscardHandler))
	return c.WithPaginator(fastPaginator(2))
}

// cdoServer serves three TMAX days over two pages and fails PRCP.
func cdoServer(t *testing.T) *httptest.Server {
	t.Helper()
	days := []result{
		{Date: "2024-05-01T00:00:00", Datatype: "TMAX", Value: domain.Float(256)},
		{Date: "2024-05-02T00:00:00", Datatype: "TMAX", Value: domain.Float(-17)},
		{Date: "2024-05-03T00:00:00", Datatype: "TMAX", Value: domain.Float(300)},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("token"))
		q := r.URL.Query()
		assert.Equal(t, "GHCND", q.Get("datasetid"))
		if q.Get("datatypeid") == "PRCP" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		end := min(offset-1+limit, len(days))
		resp := map[string]any{
			"metadata": map[string]any{"resultset": map[string]int{"offset": offset, "count": len(days), "limit": limit}},
			"results":  days[offset-1 : end],
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestPreflight(t *testing.T) {
	assert.ErrorIs(t, newConnector("http://unused", "").Preflight(context.Background()), ErrMissingToken)
	assert.NoError(t, newConnector("http://unused", "secret").Preflight(context.Background()))
}

func TestTargets_SkipsStationsWithoutLocations(t *testing.T) {
	targets := newConnector("http://unused", "secret").Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, "GHCND:USW00024014", targets[0].Code)
	assert.Equal(t, []string{"Williston/Basin", "Tioga"}, targets[0].Locations)
	assert.Equal(t, []string{"Max Temperature", "Precipitation"}, targets[0].Datasets)
}

func TestFetchAndProcess(t *testing.T) {
	srv := cdoServer(t)
	defer srv.Close()

	c := newConnector(srv.URL, "secret")
	req := pipeline.Request{
		Target: c.Targets()[0],
		Window: domain.Window{
			Start: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		},
	}

	payload, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, payload.Partial(), "PRCP failed")
	require.Len(t, payload.Units, 1)

	batch, err := c.Process(payload)
	require.NoError(t, err)
	require.Len(t, batch.Series, 2, "one series per alias location")

	for _, s := range batch.Series {
		assert.Equal(t, "Max Temperature", s.Dataset)
		require.Len(t, s.Points, 3)
		assert.InDelta(t, 25.6, *s.Points[0].Value, 1e-9)
		assert.InDelta(t, -1.7, *s.Points[1].Value, 1e-9)
		assert.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), s.Points[2].Time)
	}
	assert.Equal(t, "Williston/Basin", batch.Series[0].Location)
	assert.Equal(t, "Tioga", batch.Series[1].Location)
}

func TestFetch_AllDatasetsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newConnector(srv.URL, "secret")
	_, err := c.Fetch(context.Background(), pipeline.Request{Target: c.Targets()[0]})
	require.Error(t, err)
}

func TestFetch_EmptyRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{}")) //nolint:errcheck
	}))
	defer srv.Close()

	c := newConnector(srv.URL, "secret")
	payload, err := c.Fetch(context.Background(), pipeline.Request{Target: c.Targets()[0]})
	require.NoError(t, err)
	assert.False(t, payload.Partial())

	batch, err := c.Process(payload)
	require.NoError(t, err)
	assert.Empty(t, batch.Series)
}

func TestProcess_CutoffAndNullValue(t *testing.T) {
	body, err := json.Marshal([]result{
		{Date: "2024-05-01T00:00:00", Value: domain.Float(10)},
		{Date: "2024-05-02T00:00:00", Value: nil},
	})
	require.NoError(t, err)

	c := newConnector("http://unused", "secret")
	batch, err := c.Process(pipeline.RawPayload{
		Request: pipeline.Request{
			Target: pipeline.Target{Locations: []string{"Tioga"}},
			Cutoff: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		Units: []pipeline.RawUnit{{Name: "PRCP", Body: body}, {Name: "SNOW", Body: []byte("[]")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Excluded)
	assert.Len(t, batch.Dropped, 1, "unknown datatype unit")
	require.Len(t, batch.Series, 1)
	require.Len(t, batch.Series[0].Points, 1)
	assert.Nil(t, batch.Series[0].Points[0].Value)
}
