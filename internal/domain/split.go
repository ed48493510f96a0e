package domain

// SplitByOccurrence separates concurrent readings into parallel series.
//
// Points are grouped by timestamp in read order. Within each group a point
// gets a zero-based occurrence index, and all points sharing an index form one
// sub-series. Each sub-series is sorted and collapsed again. A series without
// duplicate timestamps comes back as a single sub-series.
//
// Points are expected to share one (location, dataset); null values are
// dropped as on the reporting path.
func SplitByOccurrence(s Series) []Series {
	seen := make(map[int64]int)
	var buckets [][]Point
	for _, p := range s.Points {
		if p.Time.IsZero() || p.Value == nil {
			continue
		}
		ts := p.Time.UnixNano()
		idx := seen[ts]
		seen[ts] = idx + 1
		if idx == len(buckets) {
			buckets = append(buckets, nil)
		}
		buckets[idx] = append(buckets[idx], p)
	}

	out := make([]Series, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, Series{
			Source:   s.Source,
			Location: s.Location,
			Dataset:  s.Dataset,
			Points:   Canonicalize(b, NormalizeOptions{}),
		})
	}
	return out
}
