package util

import (
	"time"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

type Number interface {
	constraints.Float | constraints.Integer | time.Duration
}

// Quartiles of the sample: 25th, 50th and 75th percentile. Between two samples the mean is taken
func Quartiles[T Number](data []T) (ret [3]T) {
	if len(data) == 0 {
		return
	}
	sorted := slices.Clone(data)
	slices.Sort(sorted)
	for i := range ret {
		ret[i] = quartileAt(sorted, i+1)
	}
	return
}

// quartileAt q-th quartile of the sorted non-empty sample
func quartileAt[T Number](sorted []T, q int) T {
	pos := len(sorted) * q
	d := pos / 4
	if pos%4 == 0 {
		return (sorted[d-1] + sorted[d]) / 2
	}
	return sorted[d]
}
