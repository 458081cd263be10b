package clusterer

import (
	"math"
	"sort"
)

// Stats holds per-cluster statistics derived from member embeddings.
type Stats struct {
	ID       int       `json:"id"`
	Size     int       `json:"size"`
	Centroid []float32 `json:"-"`
	Spread   float64   `json:"spread"` // stddev of member distances to centroid
}

// CalculateStats computes size, centroid, and spread for every non-noise
// cluster, ordered by ascending cluster ID.
func CalculateStats(vectors [][]float32, labels []int) []Stats {
	members := make(map[int][]int)
	for i, l := range labels {
		if l == -1 {
			continue
		}
		members[l] = append(members[l], i)
	}

	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	stats := make([]Stats, 0, len(ids))
	for _, id := range ids {
		idx := members[id]
		dim := len(vectors[idx[0]])

		centroid := make([]float32, dim)
		for _, i := range idx {
			for j, v := range vectors[i] {
				centroid[j] += v
			}
		}
		for j := range centroid {
			centroid[j] /= float32(len(idx))
		}

		// Spread: stddev of Euclidean distances to the centroid.
		distances := make([]float64, len(idx))
		var mean float64
		for k, i := range idx {
			var sum float64
			for j, v := range vectors[i] {
				d := float64(v - centroid[j])
				sum += d * d
			}
			distances[k] = math.Sqrt(sum)
			mean += distances[k]
		}
		mean /= float64(len(idx))

		var variance float64
		for _, d := range distances {
			variance += (d - mean) * (d - mean)
		}
		variance /= float64(len(idx))

		stats = append(stats, Stats{
			ID:       id,
			Size:     len(idx),
			Centroid: centroid,
			Spread:   math.Sqrt(variance),
		})
	}
	return stats
}

// SampleSize is how many representative excerpts each cluster keeps.
const SampleSize = 5

// RepresentativeSamples picks the k texts whose embeddings are nearest the
// cluster centroid by cosine distance. Clusters at or below k return every
// member in original order.
func RepresentativeSamples(vectors [][]float32, labels []int, texts []string, stat Stats, k int) []string {
	type member struct {
		row  int
		dist float64
	}

	var candidates []member
	for i, l := range labels {
		if l != stat.ID {
			continue
		}
		candidates = append(candidates, member{row: i, dist: CosineDistance(vectors[i], stat.Centroid)})
	}
	if len(candidates) == 0 {
		return []string{}
	}

	if len(candidates) > k {
		sort.Slice(candidates, func(a, b int) bool {
			if candidates[a].dist != candidates[b].dist {
				return candidates[a].dist < candidates[b].dist
			}
			return candidates[a].row < candidates[b].row
		})
		candidates = candidates[:k]
	}

	samples := make([]string, len(candidates))
	for i, c := range candidates {
		samples[i] = texts[c.row]
	}
	return samples
}
