// Package stats provides the population quantile helpers used by the
// scoring stages. Edge computation and bin assignment are deliberately
// separate functions so each can be tested on its own.
package stats

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// QuartileEdges computes the 25th, 50th and 75th percentile cut points of a
// population sample. The sample must contain at least four distinct values
// and produce three distinct edges; anything less cannot support equal-count
// quartile bins and is reported via ok=false together with the distinct
// value count.
func QuartileEdges(values []float64) (edges [3]float64, distinct int, ok bool) {
	distinct = DistinctCount(values)
	if distinct < 4 {
		return edges, distinct, false
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	edges[0] = stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	edges[1] = stat.Quantile(0.50, stat.LinInterp, sorted, nil)
	edges[2] = stat.Quantile(0.75, stat.LinInterp, sorted, nil)

	// Heavily skewed samples can collapse neighboring quantiles even with
	// enough distinct values; duplicate edges make bins ambiguous.
	if edges[0] == edges[1] || edges[1] == edges[2] {
		return edges, distinct, false
	}

	return edges, distinct, true
}

// Bin assigns a value to a quartile bin 1..4 given the cut points from
// QuartileEdges. Bins are closed on the right, so ties at a cut point land
// in the lower bin and identical values always share a bin.
func Bin(edges [3]float64, v float64) int {
	bin := 1
	for _, e := range edges {
		if v > e {
			bin++
		}
	}
	return bin
}

// FixedBin assigns a value to a bin using explicit ascending break points.
// A value v lands in bin i+1 when breaks[i] < v <= breaks[i+1]; values above
// the last break land in the final bin.
func FixedBin(breaks []float64, v float64) int {
	bin := 1
	for i := 1; i < len(breaks); i++ {
		if v > breaks[i] {
			bin++
		}
	}
	if bin > len(breaks) {
		bin = len(breaks)
	}
	return bin
}

// DistinctCount returns the number of distinct values in the sample.
func DistinctCount(values []float64) int {
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// Mean returns the arithmetic mean of the sample, or 0 for an empty one.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
