package domain

import (
	"regexp"
	"strings"
)

var (
	fieldSeparatorRe = regexp.MustCompile(`[\s\-/.]+`)
	fieldInvalidRe   = regexp.MustCompile(`[^a-z0-9_]`)
	safeNameRe       = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// NormalizeField turns a display name into a lower snake_case identifier:
// "Gauge Height" -> "gauge_height", "Nitrate + Nitrite (N)" -> "nitrate__nitrite_n".
// Identifiers never start with a digit.
func NormalizeField(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = fieldSeparatorRe.ReplaceAllString(s, "_")
	s = fieldInvalidRe.ReplaceAllString(s, "")
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

// SafeName replaces every character outside [A-Za-z0-9_-] with '_' and trims
// leading and trailing underscores. Used for export file names.
func SafeName(s string) string {
	return strings.Trim(safeNameRe.ReplaceAllString(s, "_"), "_")
}
