package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Len(t, c.USGS.Stations, 13)
	assert.Len(t, c.USGS.Categories, 4)
	assert.Equal(t, 60, c.USGS.ChunkDays)
	assert.Len(t, c.NOAA.Stations, 4)
	assert.Len(t, c.NOAA.Locations, 26)
	assert.Len(t, c.USACE.Dams, 6)
	assert.Len(t, c.USACE.Datasets, 8)
	assert.Len(t, c.Shadehill.Datasets, 12)
	assert.Len(t, c.CoCoRaHS.Stations, 4)
	assert.Len(t, c.NDGIS.Parameters, 16)
	assert.Empty(t, c.NDGIS.Stations)
	assert.NotEmpty(t, c.DANR.Stations)
}

func TestUSGS_DatasetsFor(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	byLocation := map[string]USGSStation{}
	for _, st := range c.USGS.Stations {
		byLocation[st.Location] = st
	}

	tests := []struct {
		location string
		want     []string
	}{
		{"Hazen", []string{"Elevation", "Discharge", "Gauge Height"}},
		{"Judson", []string{"Elevation", "Gauge Height", "Discharge"}},
		{"Stanton", []string{"Elevation", "Gauge Height"}},
		{"Bismarck", []string{"Elevation", "Water Temperature", "Discharge", "Gauge Height"}},
		{"Cash", []string{"Discharge", "Gauge Height"}},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			st, ok := byLocation[tt.location]
			require.True(t, ok)
			assert.Equal(t, tt.want, c.USGS.DatasetsFor(st))
		})
	}
}

func TestNOAA_Aliases(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	code, ok := c.NOAA.StationCode("Williston, ND")
	require.True(t, ok)
	assert.Equal(t, "GHCND:USW00024014", code)

	_, ok = c.NOAA.StationCode("Fargo, ND")
	assert.False(t, ok)

	minot := c.NOAA.LocationsFor("Minot, ND")
	assert.Equal(t, []string{"Stanley", "Minot", "Garrison"}, minot)
	assert.Empty(t, c.NOAA.LocationsFor("Grand Forks, ND"))
}

func TestDANRStation_Site(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"SWLAZZZ2411A", "SWLAZZZ2411"},
		{"SWLAZZZ2411B", "SWLAZZZ2411"},
		{"SWLAZZZ2010C", "SWLAZZZ2010"},
		{"CITMONZ2417AA", "CITMONZ2417AA"},
		{"460945", "460945"},
		{"SWLAZZZ2411D", "SWLAZZZ2411D"},
		{"A", "A"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, DANRStation{Code: tt.code}.Site())
		})
	}
}

func TestCoCoRaHSStation_StartDate(t *testing.T) {
	st := CoCoRaHSStation{Start: "2012-04-16"}
	got := st.StartDate()
	assert.Equal(t, 2012, got.Year())
	assert.Equal(t, 16, got.Day())
}

func TestStations(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	stations := c.Stations()
	counts := map[string]int{}
	for _, st := range stations {
		counts[st.Source]++
		assert.NotEmpty(t, st.Location, "%s %s", st.Source, st.Code)
		assert.NotEmpty(t, st.Datasets, "%s %s", st.Source, st.Code)
	}
	assert.Equal(t, 13, counts["usgs"])
	assert.Equal(t, 26, counts["noaa"])
	assert.Equal(t, 6, counts["usace"])
	assert.Equal(t, 1, counts["shadehill"])
	assert.Equal(t, 4, counts["cocorahs"])
	assert.Equal(t, len(c.DANR.Stations), counts["danr"])

	for _, st := range stations {
		if st.Source == "danr" {
			assert.True(t, st.HasCoords(), st.Code)
		}
	}
}

const minimal = `
usgs:
  base_url: http://usgs.test
  chunk_days: 30
  categories:
    - {id: 1, params: [cb_00060], datasets: [Discharge]}
  stations:
    - {location: Hazen, code: "06340500", category: 1}
noaa:
  base_url: http://noaa.test
  page_size: 100
  datasets: [{name: Precipitation, code: PRCP, scale: 10}]
  stations: [{name: "Bismarck, ND", code: "GHCND:USW00024011"}]
  locations: [{location: Bismarck, station: "Bismarck, ND"}]
usace:
  base_url: http://usace.test
  max_rows: 10
  datasets: [a, b, c, d, e, f, g, h]
  dams: [{location: Garrison, code: GARR}]
shadehill:
  base_url: http://usbr.test
  station: SHR
  location: Shadehill
  missing_above: 900000
  datasets: [{code: AF, name: Storage}]
cocorahs:
  base_url: http://acis.test
  elements: [{code: pcpn, name: Precipitation}]
  stations: [{location: Bison, code: SDFK0006, state: SD, start: "2007-06-24"}]
ndgis:
  discovery_url: http://gis.test/query
  dataset_url: http://deq.test/name
  download_url: http://deq.test/csv
  page_size: 10
  stations: ["380001"]
  parameters: [pH]
danr:
  base_url: http://danr.test
  state: SD
  fields: [{field: pH, dataset: pH}]
  stations: [{code: "460945", lat: 45.6, lon: -100.8}]
`

func TestParse_Minimal(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "http://usgs.test", c.USGS.BaseURL)
	assert.Equal(t, []string{"380001"}, c.NDGIS.Stations)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{"bad yaml", func(string) string { return "usgs: [" }, "decode catalog"},
		{"missing section", func(s string) string { return s[:strings.Index(s, "danr:")] }, "validate catalog"},
		{"unknown usgs category", func(s string) string {
			return strings.Replace(s, `category: 1}`, `category: 9}`, 1)
		}, "unknown category 9"},
		{"unknown noaa station", func(s string) string {
			return strings.Replace(s, `{location: Bismarck, station: "Bismarck, ND"}`, `{location: Bismarck, station: "Fargo, ND"}`, 1)
		}, `unknown station "Fargo, ND"`},
		{"bad cocorahs start", func(s string) string {
			return strings.Replace(s, "start: \"2007-06-24\"", "start: June 2007", 1)
		}, "validate catalog"},
		{"latitude out of range", func(s string) string {
			return strings.Replace(s, "lat: 45.6", "lat: 145.6", 1)
		}, "validate catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(minimal)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.USGS.Stations, 1)

	c, err = Load("")
	require.NoError(t, err)
	assert.Len(t, c.USGS.Stations, 13)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read catalog")
}
