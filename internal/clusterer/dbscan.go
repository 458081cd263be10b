package clusterer

import (
	"math"
	"sort"
)

// DBSCAN over cosine distance.
//
// Text embeddings are L2-normalized upstream, so cosine distance is the
// natural metric. Label -1 marks noise (records in no dense region); labels
// are otherwise contiguous non-negative integers in discovery order, though
// nothing downstream relies on contiguity.

// MinSamples is the density threshold: a point needs this many neighbors
// within eps (itself included) to seed a cluster.
const MinSamples = 5

// Result summarizes one clustering run.
type Result struct {
	Labels      []int `json:"labels"` // one label per input vector, -1 = noise
	NumClusters int   `json:"numClusters"`
	NoisePoints int   `json:"noisePoints"`
}

// Cluster runs DBSCAN with the given eps over cosine distance.
func Cluster(vectors [][]float32, eps float64, minSamples int) Result {
	n := len(vectors)
	if n == 0 {
		return Result{Labels: []int{}}
	}

	const unvisited = -2

	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	clusterID := -1
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}

		neighbors := rangeQuery(vectors, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = -1
			continue
		}

		clusterID++
		labels[i] = clusterID

		// Expand the cluster breadth-first from the seed's neighborhood.
		queue := make([]int, 0, len(neighbors))
		for _, j := range neighbors {
			if j != i {
				queue = append(queue, j)
			}
		}
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]

			if labels[q] == -1 {
				labels[q] = clusterID // border point reclaimed from noise
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = clusterID

			qNeighbors := rangeQuery(vectors, q, eps)
			if len(qNeighbors) >= minSamples {
				queue = append(queue, qNeighbors...)
			}
		}
	}

	result := Result{Labels: labels, NumClusters: clusterID + 1}
	for _, l := range labels {
		if l == -1 {
			result.NoisePoints++
		}
	}
	return result
}

// EstimateEps suggests an eps from the k-distance graph: the 90th percentile
// of each point's k-th nearest neighbor distance. Always returns a positive
// value; defaults to 0.5 when the dataset is too small to estimate.
func EstimateEps(vectors [][]float32, k int) float64 {
	n := len(vectors)
	if n <= k {
		return 0.5
	}

	kDistances := make([]float64, 0, n)
	dists := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		dists = dists[:0]
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			dists = append(dists, CosineDistance(vectors[i], vectors[j]))
		}
		sort.Float64s(dists)
		if len(dists) >= k {
			kDistances = append(kDistances, dists[k-1])
		}
	}
	if len(kDistances) == 0 {
		return 0.5
	}

	sort.Float64s(kDistances)
	eps := kDistances[int(float64(len(kDistances)-1)*0.9)]
	if eps <= 0 {
		return 0.5
	}
	return math.Max(0.1, eps)
}

func rangeQuery(vectors [][]float32, idx int, eps float64) []int {
	var result []int
	for i := range vectors {
		if CosineDistance(vectors[idx], vectors[i]) <= eps {
			result = append(result, i)
		}
	}
	return result
}

// CosineDistance returns 1 − cosine similarity. Zero vectors are treated as
// maximally distant from everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 1.0
	}
	return 1.0 - dot/denom
}
