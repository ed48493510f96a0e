// Package catalog holds the immutable station and dataset tables for every
// upstream source. The default catalog is embedded; CATALOG_FILE replaces it.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

// Catalog is the full station/dataset table. Treat it as read-only after Load.
type Catalog struct {
	USGS      USGS      `yaml:"usgs" validate:"required"`
	NOAA      NOAA      `yaml:"noaa" validate:"required"`
	USACE     USACE     `yaml:"usace" validate:"required"`
	Shadehill Shadehill `yaml:"shadehill" validate:"required"`
	CoCoRaHS  CoCoRaHS  `yaml:"cocorahs" validate:"required"`
	NDGIS     NDGIS     `yaml:"ndgis" validate:"required"`
	DANR      DANR      `yaml:"danr" validate:"required"`
}

type USGS struct {
	BaseURL    string         `yaml:"base_url" validate:"required,url"`
	ChunkDays  int            `yaml:"chunk_days" validate:"gt=0"`
	Categories []USGSCategory `yaml:"categories" validate:"required,dive"`
	Stations   []USGSStation  `yaml:"stations" validate:"required,dive"`
}

type USGSCategory struct {
	ID       int      `yaml:"id" validate:"gt=0"`
	Params   []string `yaml:"params" validate:"required,dive,required"`
	Datasets []string `yaml:"datasets" validate:"required,max=4,dive,required"`
}

type USGSStation struct {
	Location string `yaml:"location" validate:"required"`
	Code     string `yaml:"code" validate:"required,numeric"`
	Category int    `yaml:"category" validate:"gt=0"`
	// Datasets overrides the category's column order for this station.
	Datasets []string `yaml:"datasets" validate:"omitempty,max=4,dive,required"`
}

type NOAA struct {
	BaseURL   string         `yaml:"base_url" validate:"required,url"`
	PageSize  int            `yaml:"page_size" validate:"gt=0,lte=1000"`
	Datasets  []NOAADataset  `yaml:"datasets" validate:"required,dive"`
	Stations  []NOAAStation  `yaml:"stations" validate:"required,dive"`
	Locations []NOAALocation `yaml:"locations" validate:"required,dive"`
}

type NOAADataset struct {
	Name  string  `yaml:"name" validate:"required"`
	Code  string  `yaml:"code" validate:"required"`
	Scale float64 `yaml:"scale" validate:"gte=0"`
}

type NOAAStation struct {
	Name string `yaml:"name" validate:"required"`
	Code string `yaml:"code" validate:"required,startswith=GHCND:"`
}

type NOAALocation struct {
	Location string `yaml:"location" validate:"required"`
	Station  string `yaml:"station" validate:"required"`
}

type USACE struct {
	BaseURL  string     `yaml:"base_url" validate:"required,url"`
	MaxRows  int        `yaml:"max_rows" validate:"gt=0"`
	Datasets []string   `yaml:"datasets" validate:"len=8,dive,required"`
	Dams     []USACEDam `yaml:"dams" validate:"required,dive"`
}

type USACEDam struct {
	Location string `yaml:"location" validate:"required"`
	Code     string `yaml:"code" validate:"required,alpha"`
}

type Shadehill struct {
	BaseURL      string             `yaml:"base_url" validate:"required,url"`
	Station      string             `yaml:"station" validate:"required"`
	Location     string             `yaml:"location" validate:"required"`
	MissingAbove float64            `yaml:"missing_above" validate:"gt=0"`
	Datasets     []ShadehillDataset `yaml:"datasets" validate:"required,dive"`
}

type ShadehillDataset struct {
	Code string `yaml:"code" validate:"required"`
	Name string `yaml:"name" validate:"required"`
}

type CoCoRaHS struct {
	BaseURL  string            `yaml:"base_url" validate:"required,url"`
	Elements []CoCoRaHSElement `yaml:"elements" validate:"required,dive"`
	Stations []CoCoRaHSStation `yaml:"stations" validate:"required,dive"`
}

type CoCoRaHSElement struct {
	Code string `yaml:"code" validate:"required"`
	Name string `yaml:"name" validate:"required"`
}

type CoCoRaHSStation struct {
	Location string `yaml:"location" validate:"required"`
	Code     string `yaml:"code" validate:"required,alphanum"`
	State    string `yaml:"state" validate:"omitempty,len=2"`
	// Start is the first day the station reported, YYYY-MM-DD.
	Start string `yaml:"start" validate:"required,datetime=2006-01-02"`
}

// StartDate returns the parsed period-of-record start.
func (s CoCoRaHSStation) StartDate() time.Time {
	t, _ := time.Parse(time.DateOnly, s.Start)
	return t
}

type NDGIS struct {
	DiscoveryURL string   `yaml:"discovery_url" validate:"required,url"`
	DatasetURL   string   `yaml:"dataset_url" validate:"required,url"`
	DownloadURL  string   `yaml:"download_url" validate:"required,url"`
	PageSize     int      `yaml:"page_size" validate:"gt=0"`
	Stations     []string `yaml:"stations" validate:"dive,required"`
	Parameters   []string `yaml:"parameters" validate:"required,dive,required"`
}

type DANR struct {
	BaseURL  string        `yaml:"base_url" validate:"required,url"`
	State    string        `yaml:"state" validate:"omitempty,len=2"`
	Fields   []DANRField   `yaml:"fields" validate:"required,dive"`
	Stations []DANRStation `yaml:"stations" validate:"required,dive"`
}

type DANRField struct {
	Field   string `yaml:"field" validate:"required"`
	Dataset string `yaml:"dataset" validate:"required"`
}

type DANRStation struct {
	Code string  `yaml:"code" validate:"required"`
	Lat  float64 `yaml:"lat" validate:"latitude"`
	Lon  float64 `yaml:"lon" validate:"longitude"`
}

// subStationRe matches lettered sub-stations such as SWLAZZZ2411A.
var subStationRe = regexp.MustCompile(`^(.*\d)[ABC]$`)

// Site returns the location key shared by a site and its A/B/C sub-stations.
func (s DANRStation) Site() string {
	if m := subStationRe.FindStringSubmatch(s.Code); m != nil {
		return m[1]
	}
	return s.Code
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// Load returns the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	if err := c.checkReferences(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return &c, nil
}

// checkReferences verifies cross-table links the struct tags cannot express.
func (c *Catalog) checkReferences() error {
	var errs []error

	cats := make(map[int]bool, len(c.USGS.Categories))
	for _, cat := range c.USGS.Categories {
		cats[cat.ID] = true
	}
	for _, st := range c.USGS.Stations {
		if !cats[st.Category] {
			errs = append(errs, fmt.Errorf("usgs station %s: unknown category %d", st.Code, st.Category))
		}
	}

	stations := make(map[string]bool, len(c.NOAA.Stations))
	for _, st := range c.NOAA.Stations {
		stations[st.Name] = true
	}
	for _, loc := range c.NOAA.Locations {
		if !stations[loc.Station] {
			errs = append(errs, fmt.Errorf("noaa location %s: unknown station %q", loc.Location, loc.Station))
		}
	}

	return errors.Join(errs...)
}

// Category returns the USGS category by id.
func (u USGS) Category(id int) (USGSCategory, bool) {
	for _, c := range u.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return USGSCategory{}, false
}

// DatasetsFor returns the value-column dataset order for a station.
func (u USGS) DatasetsFor(st USGSStation) []string {
	if len(st.Datasets) > 0 {
		return st.Datasets
	}
	cat, _ := u.Category(st.Category)
	return cat.Datasets
}

// StationCode returns the GHCND id for a station name.
func (n NOAA) StationCode(name string) (string, bool) {
	for _, st := range n.Stations {
		if st.Name == name {
			return st.Code, true
		}
	}
	return "", false
}

// LocationsFor returns the report locations served by a station, in catalog order.
func (n NOAA) LocationsFor(station string) []string {
	var out []string
	for _, loc := range n.Locations {
		if loc.Station == station {
			out = append(out, loc.Location)
		}
	}
	return out
}

// Stations lists every station in the catalog as domain stations, for the
// stations endpoint and place-name enrichment.
func (c *Catalog) Stations() []domain.Station {
	var out []domain.Station
	for _, st := range c.USGS.Stations {
		out = append(out, domain.Station{
			Source: "usgs", Code: st.Code, Location: st.Location, State: "ND",
			Datasets: c.USGS.DatasetsFor(st),
		})
	}
	noaaDatasets := make([]string, 0, len(c.NOAA.Datasets))
	for _, ds := range c.NOAA.Datasets {
		noaaDatasets = append(noaaDatasets, ds.Name)
	}
	for _, loc := range c.NOAA.Locations {
		code, _ := c.NOAA.StationCode(loc.Station)
		out = append(out, domain.Station{
			Source: "noaa", Code: code, Location: loc.Location, Datasets: noaaDatasets,
		})
	}
	for _, dam := range c.USACE.Dams {
		out = append(out, domain.Station{
			Source: "usace", Code: dam.Code, Location: dam.Location, Datasets: c.USACE.Datasets,
		})
	}
	shDatasets := make([]string, 0, len(c.Shadehill.Datasets))
	for _, ds := range c.Shadehill.Datasets {
		shDatasets = append(shDatasets, ds.Name)
	}
	out = append(out, domain.Station{
		Source: "shadehill", Code: c.Shadehill.Station, Location: c.Shadehill.Location, State: "SD",
		Datasets: shDatasets,
	})
	ccDatasets := make([]string, 0, len(c.CoCoRaHS.Elements))
	for _, el := range c.CoCoRaHS.Elements {
		ccDatasets = append(ccDatasets, el.Name)
	}
	for _, st := range c.CoCoRaHS.Stations {
		out = append(out, domain.Station{
			Source: "cocorahs", Code: st.Code, Location: st.Location, State: st.State, Datasets: ccDatasets,
		})
	}
	for _, code := range c.NDGIS.Stations {
		out = append(out, domain.Station{
			Source: "ndgis", Code: code, Location: code, State: "ND", Datasets: c.NDGIS.Parameters,
		})
	}
	danrDatasets := make([]string, 0, len(c.DANR.Fields))
	for _, f := range c.DANR.Fields {
		danrDatasets = append(danrDatasets, f.Dataset)
	}
	for _, st := range c.DANR.Stations {
		out = append(out, domain.Station{
			Source: "danr", Code: st.Code, Location: st.Site(), State: c.DANR.State,
			Datasets: danrDatasets, Lat: st.Lat, Lon: st.Lon,
		})
	}
	return out
}
