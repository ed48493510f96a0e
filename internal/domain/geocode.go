package domain

import (
	"context"
	"log/slog"
)

// EnrichStation fills place details for a catalog station. Stations with
// coordinates are reverse geocoded; stations with only a name and state are
// forward geocoded. A nil geocoder or a failed lookup leaves the station usable.
func EnrichStation(ctx context.Context, st Station, geocoder Geocoder, logger *slog.Logger) Station {
	if geocoder == nil {
		return st
	}

	if !st.HasCoords() && st.Location != "" && st.State != "" {
		result, err := geocoder.ForwardGeocode(ctx, st.Location, st.State)
		if err != nil {
			logger.Warn("forward geocoding failed",
				"source", st.Source,
				"station", st.Code,
				"location", st.Location,
				"error", err,
			)
			st.GeoSource = "failed"
			return st
		}
		if result.Lat != 0 || result.Lon != 0 {
			st.Lat = result.Lat
			st.Lon = result.Lon
			st.FormattedAddress = result.FormattedAddress
			st.PlaceName = result.PlaceName
			st.GeoConfidence = result.Confidence
			st.GeoSource = "forward"
			return st
		}
		st.GeoSource = "original"
		return st
	}

	if st.HasCoords() {
		result, err := geocoder.ReverseGeocode(ctx, st.Lat, st.Lon)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"source", st.Source,
				"station", st.Code,
				"lat", st.Lat,
				"lon", st.Lon,
				"error", err,
			)
			st.GeoSource = "failed"
			return st
		}
		if result.FormattedAddress != "" {
			st.FormattedAddress = result.FormattedAddress
			st.PlaceName = result.PlaceName
			st.GeoConfidence = result.Confidence
			st.GeoSource = "reverse"
			return st
		}
	}

	st.GeoSource = "original"
	return st
}
