package registry

import (
	"fmt"

	"github.com/levelhq/level-engine/internal/clusterer"
	"github.com/levelhq/level-engine/pkg/models"
)

// The registry assembles the immutable per-cluster records from the
// clustering, sampling, labeling, and ordering outputs. A labeling failure on
// one cluster degrades that cluster to a generic label; it never aborts the
// others.

// Analysis is the labeling collaborator's per-cluster output.
type Analysis struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Build produces the final Cluster list in ascending ID order, plus the
// noise row count. Arbitrary non-negative label sets are accepted; only the
// -1 noise marker is bucketed separately.
func Build(
	labels []int,
	texts []string,
	vectors [][]float32,
	stats []clusterer.Stats,
	analyses map[int]Analysis,
	positions map[int]float64,
) ([]models.Cluster, int) {
	noiseCount := 0
	for _, l := range labels {
		if l == models.NoiseClusterID {
			noiseCount++
		}
	}

	clusters := make([]models.Cluster, 0, len(stats))
	for _, stat := range stats {
		analysis, ok := analyses[stat.ID]
		if !ok || analysis.Label == "" {
			analysis.Label = FallbackLabel(stat.ID)
		}

		clusters = append(clusters, models.Cluster{
			ID:          stat.ID,
			Position:    positions[stat.ID],
			SampleCount: stat.Size,
			Label:       analysis.Label,
			Description: analysis.Description,
			Color:       Color(stat.ID),
			Samples:     clusterer.RepresentativeSamples(vectors, labels, texts, stat, clusterer.SampleSize),
		})
	}
	return clusters, noiseCount
}

// FallbackLabel is the generic label used when the labeling collaborator
// fails or returns nothing for a cluster.
func FallbackLabel(id int) string {
	return fmt.Sprintf("Cluster %d", id)
}

// Color derives a stable, visually distinct hex color from a cluster ID
// using golden-ratio hue rotation with slight saturation/value variation.
// The same ID always yields the same color across re-renders and exports.
func Color(id int) string {
	hue := float64(id) * 0.618033988749895
	hue -= float64(int(hue)) // fractional part

	saturation := 0.7 + float64(id%3)*0.1
	value := 0.8 + float64(id%2)*0.1

	r, g, b := hsvToRGB(hue, saturation, value)
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

// hsvToRGB converts h in [0,1), s and v in [0,1] to 8-bit RGB.
func hsvToRGB(h, s, v float64) (int, int, int) {
	sector := int(h * 6)
	f := h*6 - float64(sector)
	p := v * (1 - s)
	q := v * (1 - f*s)
	u := v * (1 - (1-f)*s)

	var r, g, b float64
	switch sector % 6 {
	case 0:
		r, g, b = v, u, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, u
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = u, p, v
	default:
		r, g, b = v, p, q
	}
	return int(r * 255), int(g * 255), int(b * 255)
}
