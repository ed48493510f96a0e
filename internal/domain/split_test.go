package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitByOccurrence(t *testing.T) {
	s := Series{
		Source:   "danr",
		Location: "SWLAZZZ2411",
		Dataset:  "ph",
		Points: []Point{
			pt("SWLAZZZ2411", "ph", ts(1, 0), Float(7.1)),
			pt("SWLAZZZ2411", "ph", ts(1, 0), Float(7.4)),
			pt("SWLAZZZ2411", "ph", ts(2, 0), Float(7.2)),
			pt("SWLAZZZ2411", "ph", ts(1, 0), Float(7.9)),
			pt("SWLAZZZ2411", "ph", ts(2, 0), nil),
		},
	}

	got := SplitByOccurrence(s)

	require.Len(t, got, 3)
	assert.Equal(t, []any{7.1, 7.2}, values(got[0].Points))
	assert.Equal(t, []any{7.4}, values(got[1].Points))
	assert.Equal(t, []any{7.9}, values(got[2].Points))
	for _, sub := range got {
		assert.Equal(t, "SWLAZZZ2411", sub.Location)
		assert.Equal(t, "danr", sub.Source)
	}
}

func TestSplitByOccurrence_NoDuplicates(t *testing.T) {
	s := Series{Location: "Hazen", Dataset: "Discharge", Points: []Point{
		pt("Hazen", "Discharge", ts(2, 0), Float(2)),
		pt("Hazen", "Discharge", ts(1, 0), Float(1)),
	}}

	got := SplitByOccurrence(s)

	require.Len(t, got, 1)
	assert.Equal(t, []any{1.0, 2.0}, values(got[0].Points))
}

func TestSplitByOccurrence_Empty(t *testing.T) {
	assert.Empty(t, SplitByOccurrence(Series{}))
}
