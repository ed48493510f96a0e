package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// TimestampEncoding is how a source writes its timestamps.
type TimestampEncoding int

const (
	EncodingUnknown TimestampEncoding = iota
	EpochSeconds
	EpochMillis
	ISOText
	CustomText
)

func (e TimestampEncoding) String() string {
	switch e {
	case EpochSeconds:
		return "epoch_seconds"
	case EpochMillis:
		return "epoch_millis"
	case ISOText:
		return "iso_text"
	case CustomText:
		return "custom_text"
	default:
		return "unknown"
	}
}

// epochMillisThreshold separates epoch seconds from milliseconds. 1e11 seconds
// is year 5138, so anything larger must be milliseconds.
const epochMillisThreshold = 1e11

var (
	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	}

	// customLayouts are tried in order after ISO-8601.
	customLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006/01/02",
	}

	errEmptyTimestamp   = errors.New("empty timestamp")
	errUnknownFormat    = errors.New("no known format matches")
	errEncodingMismatch = errors.New("value does not match detected encoding")
)

// DetectEncoding classifies a single representative timestamp sample.
func DetectEncoding(sample string) TimestampEncoding {
	sample = strings.TrimSpace(sample)
	if sample == "" {
		return EncodingUnknown
	}
	if n, err := strconv.ParseInt(sample, 10, 64); err == nil {
		if abs(n) <= epochMillisThreshold {
			return EpochSeconds
		}
		return EpochMillis
	}
	if _, ok := parseLayouts(sample, isoLayouts); ok {
		return ISOText
	}
	return CustomText
}

// TimeParser converts raw timestamps of one detected encoding to UTC instants.
// All rows of one source table in one pull go through the same parser.
type TimeParser struct {
	encoding TimestampEncoding
	extra    []string
}

// NewTimeParser detects the encoding from sample. Extra layouts are tried
// after the built-in text formats.
func NewTimeParser(sample string, extra ...string) TimeParser {
	return TimeParser{encoding: DetectEncoding(sample), extra: extra}
}

// Encoding returns the detected encoding.
func (p TimeParser) Encoding() TimestampEncoding { return p.encoding }

// Parse converts raw to a UTC instant or returns a *NormalizationError.
func (p TimeParser) Parse(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, &NormalizationError{Raw: raw, Err: errEmptyTimestamp}
	}

	switch p.encoding {
	case EpochSeconds, EpochMillis:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, &NormalizationError{Raw: raw, Err: errEncodingMismatch}
		}
		if p.encoding == EpochMillis {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	case ISOText, CustomText:
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Time{}, &NormalizationError{Raw: raw, Err: errEncodingMismatch}
		}
		if t, ok := parseText(s, p.extra); ok {
			return t, nil
		}
		return time.Time{}, &NormalizationError{Raw: raw, Err: errUnknownFormat}
	default:
		return time.Time{}, &NormalizationError{Raw: raw, Err: errUnknownFormat}
	}
}

// ParseTimestamp detects the encoding of raw on its own and parses it.
func ParseTimestamp(raw string) (time.Time, error) {
	return NewTimeParser(raw).Parse(raw)
}

func parseText(s string, extra []string) (time.Time, bool) {
	if t, ok := parseLayouts(s, isoLayouts); ok {
		return t, true
	}
	if t, ok := parseLayouts(s, customLayouts); ok {
		return t, true
	}
	return parseLayouts(s, extra)
}

// parseLayouts parses with time.Parse, which yields UTC for zone-less input.
func parseLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func abs(n int64) float64 {
	if n < 0 {
		return float64(-n)
	}
	return float64(n)
}
