package metrics

import "sort"

// Gini computes the discrete Gini coefficient over a set of non-negative
// magnitudes (cluster sizes, selected counts, or weights).
//
// Formula (values sorted ascending, 1-indexed):
//
//	gini = (2 * Σ i*v_i) / (n * Σ v_i) − (n+1)/n
//
// Properties relied on by callers:
//   - output in [0, 1] for non-negative input
//   - 0 for equal values, approaching 1 as one value dominates
//   - invariant under input permutation and uniform positive scaling
//   - degenerate input (empty, single value, all zeros) returns 0.0
//
// Negative magnitudes never reach this package; the adjustment store rejects
// them before mutation.
func Gini(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0.0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var total, cumsum float64
	for i, v := range sorted {
		total += v
		cumsum += float64(i+1) * v
	}
	if total == 0 {
		return 0.0
	}

	return (2.0*cumsum)/(float64(n)*total) - float64(n+1)/float64(n)
}

// Flatness is the inverse balance score: 1 − Gini. Surfaced in the waveform
// contract, so it gets a name even though it is trivial.
func Flatness(gini float64) float64 {
	return 1.0 - gini
}

// AverageRatio returns the mean of selected/total across clusters. Clusters
// with a zero denominator are excluded from the average rather than dividing
// by zero. Returns 1.0 when nothing contributes (nothing has been cut).
func AverageRatio(selected []float64, totals []float64) float64 {
	var sum float64
	count := 0
	for i := range selected {
		if i >= len(totals) || totals[i] <= 0 {
			continue
		}
		sum += selected[i] / totals[i]
		count++
	}
	if count == 0 {
		return 1.0
	}
	return sum / float64(count)
}
