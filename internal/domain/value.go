package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueRules maps a source's raw value markers to canonical values.
// Rules are checked in field order before numeric parsing.
type ValueRules struct {
	// ZeroMarkers are exact (case-insensitive) markers that mean 0, e.g. "Ice".
	ZeroMarkers []string
	// NullMarkers are exact (case-insensitive) markers that mean missing.
	NullMarkers []string
	// NullIfContains marks any value containing one of these substrings as missing.
	NullIfContains []string
	// NullAbove, when non-zero, turns parsed values strictly above it into null.
	NullAbove float64
	// Scale divides parsed values when non-zero.
	Scale float64
}

// Parse converts raw into a value. Empty input is a missing value. A value that
// matches no marker and is not numeric returns an error and the row should be dropped.
// NaN and infinite spellings are missing values.
func (r ValueRules) Parse(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	for _, m := range r.ZeroMarkers {
		if strings.EqualFold(s, m) {
			return Float(0), nil
		}
	}
	for _, m := range r.NullMarkers {
		if strings.EqualFold(s, m) {
			return nil, nil
		}
	}
	for _, sub := range r.NullIfContains {
		if strings.Contains(s, sub) {
			return nil, nil
		}
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil, fmt.Errorf("value %q: %w", raw, err)
	}
	// ParseFloat accepts NaN and Inf spellings; neither is a reading.
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, nil
	}
	if r.NullAbove != 0 && v > r.NullAbove {
		return nil, nil
	}
	if r.Scale != 0 {
		v /= r.Scale
	}
	return &v, nil
}
