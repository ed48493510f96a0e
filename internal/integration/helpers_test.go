package integration_test

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/adapter/usgs"
	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/fetch"
	"github.com/couchcryptid/hydromet-etl/internal/observability"
)

// hazenRDB is one NWIS rdb day for Hazen: three readings each of elevation,
// discharge, and gauge height, with an Ice discharge and a missing gauge height.
const hazenRDB = "# US Geological Survey\n" +
	"#\n" +
	"agency_cd\tsite_no\tdatetime\ttz_cd\t1_63160\t1_63160_cd\t2_00060\t2_00060_cd\t3_00065\t3_00065_cd\n" +
	"5s\t15s\t20d\t6s\t14n\t10s\t14n\t10s\t14n\t10s\n" +
	"USGS\t06340500\t2024-05-01 00:00\tCDT\t1680.12\tP\t21400\tP\t5.25\tP\n" +
	"USGS\t06340500\t2024-05-01 00:15\tCDT\t1680.13\tP\tIce\tP\t5.26\tP\n" +
	"USGS\t06340500\t2024-05-01 00:30\tCDT\t1680.14\tP\tEqp\tP\t\t\n"

var day = domain.Window{
	Start: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC),
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// startNWIS serves hazenRDB for every request and counts requests.
func startNWIS(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, hazenRDB)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newUSGS(baseURL string, metrics *observability.Metrics) *usgs.Connector {
	cat := catalog.USGS{
		BaseURL:   baseURL,
		ChunkDays: 60,
		Categories: []catalog.USGSCategory{
			{ID: 1, Params: []string{"cb_00060", "cb_00065", "cb_63160"}, Datasets: []string{"Elevation", "Discharge", "Gauge Height"}},
		},
		Stations: []catalog.USGSStation{{Location: "Hazen", Code: "06340500", Category: 1}},
	}
	client := fetch.NewClient(usgs.Source, fetch.ClientOptions{Timeout: 5 * time.Second, Metrics: metrics})
	return usgs.New(cat, client, discardLogger())
}
