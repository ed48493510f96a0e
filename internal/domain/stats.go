package domain

import (
	"math"
	"sort"
)

// Stats summarizes the non-null values of a series.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Range  float64 `json:"range"`
}

// Summarize computes Stats over the non-null values of points, rounded to
// three decimals. StdDev is the population standard deviation. The boolean is
// false when there are no values.
func Summarize(points []Point) (Stats, bool) {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Value != nil && !math.IsNaN(*p.Value) {
			values = append(values, *p.Value)
		}
	}
	if len(values) == 0 {
		return Stats{}, false
	}
	sort.Float64s(values)

	var sum float64
	for _, v := range values {
		sum += v
	}
	n := float64(len(values))
	mean := sum / n

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	var median float64
	mid := len(values) / 2
	if len(values)%2 == 0 {
		median = (values[mid-1] + values[mid]) / 2
	} else {
		median = values[mid]
	}

	lo, hi := values[0], values[len(values)-1]
	return Stats{
		Count:  len(values),
		Mean:   round3(mean),
		StdDev: round3(math.Sqrt(sq / n)),
		Median: round3(median),
		Min:    round3(lo),
		Max:    round3(hi),
		Range:  round3(hi - lo),
	}, true
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
