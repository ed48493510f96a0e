package domain

// Station is one upstream measurement site as known to the catalog.
type Station struct {
	Source   string   `json:"source"`
	Code     string   `json:"code"`
	Location string   `json:"location"`
	State    string   `json:"state,omitempty"`
	Datasets []string `json:"datasets,omitempty"`
	Lat      float64  `json:"lat,omitempty"`
	Lon      float64  `json:"lon,omitempty"`

	// Enrichment fields, filled by EnrichStation.
	PlaceName        string  `json:"place_name,omitempty"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	GeoConfidence    float64 `json:"geo_confidence,omitempty"`
	GeoSource        string  `json:"geo_source,omitempty"` // "forward", "reverse", "original", "failed"
}

// HasCoords reports whether the station carries a coordinate pair.
func (s Station) HasCoords() bool {
	return s.Lat != 0 || s.Lon != 0
}
