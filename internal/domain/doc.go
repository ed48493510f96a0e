// Package domain models environmental observations collected from public
// hydrology, weather, and water-quality services.
//
// # Canonical Form
//
// Every upstream record is reduced to a [Point]:
//
//	(location, dataset, timestamp, value)
//
// The triple (location, dataset, timestamp) is the storage key. Timestamps are
// UTC instants. A nil value is an explicit "missing" or "non-detect" reading
// and is stored as such; it is different from the absence of a row.
//
// # Timestamp Encodings
//
// Sources disagree on how time is written. The encoding is detected once per
// source table from a single sample (see [DetectEncoding]):
//
//	1718409600            epoch seconds (magnitude <= 1e11)
//	1718409600000         epoch milliseconds
//	2024-06-15T00:00:00Z  ISO-8601 (zone optional)
//	2024-06-15 00:15      custom text, tried in a fixed order:
//	                      "2006-01-02 15:04:05", "2006-01-02 15:04", "2006/01/02"
//
// A timestamp without a zone is taken as UTC. Local time is never assumed.
//
// # Source Sentinels
//
// Each upstream has its own markers for missing data. They are not unified:
//
//	USGS NWIS:      "Ice" in Discharge -> 0; "Eqp", "Ssn", "Dis", "Bkw",
//	                "Mnt", "Rat", "***" -> null
//	USBR Shadehill: values above 900000 -> null
//	ACIS CoCoRaHS:  "M" (missing) and "T" (trace) -> null
//	ND DEQ:         "*NON-DETECT" -> null
//	SD DANR:        "non-detect" -> null; any value containing "<" (below the
//	                reporting limit) -> null
//
// Markers are applied by [ValueRules] before a value reaches the normalizer.
//
// # Duplicates
//
// Two rows with the same key are resolved, never silently dropped. The
// default path keeps the last row in read order ([Collapse]). Callers that
// need every concurrent reading use [SplitByOccurrence], which yields one
// series per duplicate occurrence index.
package domain
