package ordering

import (
	"math"
	"sort"
)

// 1-D Semantic Ordering
//
// Assigns each cluster a position in [0,1] so that clusters with nearby
// centroids render next to each other. The projection is the dominant
// principal axis of the centroid set, found by power iteration with a fixed
// deterministic starting vector, so identical input always yields identical
// positions. The contract is only "near in embedding space maps to near in
// [0,1]", which the principal axis satisfies for the small centroid counts
// this engine sees (tens of clusters, not thousands).

const (
	powerIterations = 100
	convergenceTol  = 1e-10
	collapseTol     = 1e-9
)

// OrderClusters maps cluster centroids to positions in [0,1].
//
// Degenerate handling:
//   - zero clusters: empty map
//   - one cluster: position 0.5
//   - all centroids project to the same scalar: evenly spaced by ascending ID
//   - numerical failure (non-finite projection): ordered by descending size,
//     evenly spaced — ordering never blocks the pipeline
//
// Identical projected scalars for distinct clusters collapse to rank-based
// evenly spaced positions (ties broken by ascending ID) so rendering always
// sees a strict total order.
func OrderClusters(centroids map[int][]float32, sizes map[int]int) map[int]float64 {
	ids := make([]int, 0, len(centroids))
	for id := range centroids {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	positions := make(map[int]float64, len(ids))

	switch len(ids) {
	case 0:
		return positions
	case 1:
		positions[ids[0]] = 0.5
		return positions
	}

	scalars, ok := projectPrincipalAxis(ids, centroids)
	if !ok {
		return fallbackBySize(ids, sizes)
	}

	// Min-max normalize to [0,1].
	minS, maxS := scalars[0], scalars[0]
	for _, s := range scalars {
		minS = math.Min(minS, s)
		maxS = math.Max(maxS, s)
	}
	if maxS-minS < collapseTol {
		// Projection collapsed; spread evenly by ascending ID.
		for i, id := range ids {
			positions[id] = float64(i) / float64(len(ids)-1)
		}
		return positions
	}
	for i, id := range ids {
		positions[id] = (scalars[i] - minS) / (maxS - minS)
	}

	if hasDuplicates(scalars) {
		return rankPositions(ids, scalars)
	}
	return positions
}

// projectPrincipalAxis centers the centroids and power-iterates to the
// dominant eigenvector, returning one scalar per cluster (aligned with ids).
// Returns ok=false when the result is not finite.
func projectPrincipalAxis(ids []int, centroids map[int][]float32) ([]float64, bool) {
	n := len(ids)
	dim := len(centroids[ids[0]])
	if dim == 0 {
		return nil, false
	}

	// Center in float64 for numeric stability.
	centered := make([][]float64, n)
	mean := make([]float64, dim)
	for i, id := range ids {
		c := centroids[id]
		if len(c) != dim {
			return nil, false
		}
		centered[i] = make([]float64, dim)
		for j, v := range c {
			centered[i][j] = float64(v)
			mean[j] += float64(v)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for i := range centered {
		for j := range centered[i] {
			centered[i][j] -= mean[j]
		}
	}

	// Deterministic start: unit vector along the dimension of largest
	// variance. Ties resolve to the lowest dimension index.
	v := make([]float64, dim)
	v[maxVarianceDim(centered, dim)] = 1.0

	scratch := make([]float64, dim)
	for iter := 0; iter < powerIterations; iter++ {
		// w = Σ_i (c_i · v) c_i   (covariance-vector product without
		// materializing the covariance matrix)
		for j := range scratch {
			scratch[j] = 0
		}
		for _, c := range centered {
			proj := dot(c, v)
			for j, cj := range c {
				scratch[j] += proj * cj
			}
		}

		norm := math.Sqrt(dot(scratch, scratch))
		if norm < convergenceTol || math.IsNaN(norm) || math.IsInf(norm, 0) {
			break
		}

		var delta float64
		for j := range v {
			next := scratch[j] / norm
			delta += math.Abs(next - v[j])
			v[j] = next
		}
		if delta < convergenceTol {
			break
		}
	}

	scalars := make([]float64, n)
	for i, c := range centered {
		scalars[i] = dot(c, v)
		if math.IsNaN(scalars[i]) || math.IsInf(scalars[i], 0) {
			return nil, false
		}
	}
	return scalars, true
}

func maxVarianceDim(centered [][]float64, dim int) int {
	best, bestVar := 0, -1.0
	for j := 0; j < dim; j++ {
		var sum float64
		for _, c := range centered {
			sum += c[j] * c[j]
		}
		if sum > bestVar {
			best, bestVar = j, sum
		}
	}
	return best
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func hasDuplicates(scalars []float64) bool {
	sorted := make([]float64, len(scalars))
	copy(sorted, scalars)
	sort.Float64s(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return true
		}
	}
	return false
}

// rankPositions spaces clusters evenly in projection order, ties broken by
// ascending cluster ID.
func rankPositions(ids []int, scalars []float64) map[int]float64 {
	type entry struct {
		id     int
		scalar float64
	}
	entries := make([]entry, len(ids))
	for i, id := range ids {
		entries[i] = entry{id: id, scalar: scalars[i]}
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].scalar != entries[b].scalar {
			return entries[a].scalar < entries[b].scalar
		}
		return entries[a].id < entries[b].id
	})

	positions := make(map[int]float64, len(entries))
	for rank, e := range entries {
		positions[e.id] = float64(rank) / float64(len(entries)-1)
	}
	return positions
}

// fallbackBySize orders clusters by descending size (ascending ID on ties)
// with evenly spaced positions. Used when the projection fails numerically.
func fallbackBySize(ids []int, sizes map[int]int) map[int]float64 {
	sorted := make([]int, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(a, b int) bool {
		if sizes[sorted[a]] != sizes[sorted[b]] {
			return sizes[sorted[a]] > sizes[sorted[b]]
		}
		return sorted[a] < sorted[b]
	})

	positions := make(map[int]float64, len(sorted))
	for rank, id := range sorted {
		positions[id] = float64(rank) / float64(len(sorted)-1)
	}
	return positions
}
