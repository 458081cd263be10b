package registry

import (
	"strings"
	"testing"

	"github.com/levelhq/level-engine/internal/clusterer"
	"github.com/levelhq/level-engine/pkg/models"
)

func TestBuild_AssemblesClusters(t *testing.T) {
	vectors := [][]float32{{1, 0}, {1, 0}, {0, 1}, {0, 1}, {1, 1}}
	labels := []int{0, 0, 1, 1, models.NoiseClusterID}
	texts := []string{"a1", "a2", "b1", "b2", "n"}
	stats := clusterer.CalculateStats(vectors, labels)
	analyses := map[int]Analysis{
		0: {Label: "Group A", Description: "first group"},
	}
	positions := map[int]float64{0: 0.0, 1: 1.0}

	clusters, noiseCount := Build(labels, texts, vectors, stats, analyses, positions)

	if noiseCount != 1 {
		t.Errorf("Expected noise count 1. Got: %d", noiseCount)
	}
	if len(clusters) != 2 {
		t.Fatalf("Expected 2 clusters. Got: %d", len(clusters))
	}
	if clusters[0].Label != "Group A" || clusters[0].Description != "first group" {
		t.Errorf("Analysis not applied to cluster 0: %+v", clusters[0])
	}
	if clusters[0].SampleCount != 2 || clusters[1].SampleCount != 2 {
		t.Errorf("Wrong sample counts: %d, %d", clusters[0].SampleCount, clusters[1].SampleCount)
	}
	if clusters[1].Position != 1.0 {
		t.Errorf("Position not applied: %f", clusters[1].Position)
	}
	if len(clusters[0].Samples) != 2 {
		t.Errorf("Expected 2 representative samples. Got: %v", clusters[0].Samples)
	}
}

func TestBuild_LabelFallback(t *testing.T) {
	// No analysis for cluster 1: it must get the generic label while
	// cluster 0 keeps its real one.
	vectors := [][]float32{{1, 0}, {0, 1}}
	labels := []int{0, 1}
	texts := []string{"a", "b"}
	stats := clusterer.CalculateStats(vectors, labels)
	analyses := map[int]Analysis{0: {Label: "Labeled"}}

	clusters, _ := Build(labels, texts, vectors, stats, analyses, map[int]float64{0: 0, 1: 1})

	if clusters[0].Label != "Labeled" {
		t.Errorf("Expected real label for cluster 0. Got: %q", clusters[0].Label)
	}
	if clusters[1].Label != "Cluster 1" {
		t.Errorf("Expected fallback label for cluster 1. Got: %q", clusters[1].Label)
	}
}

func TestColor_Deterministic(t *testing.T) {
	for id := 0; id < 50; id++ {
		if Color(id) != Color(id) {
			t.Fatalf("Color not stable for id %d", id)
		}
	}
}

func TestColor_Format(t *testing.T) {
	for id := 0; id < 20; id++ {
		c := Color(id)
		if len(c) != 7 || !strings.HasPrefix(c, "#") {
			t.Errorf("Bad color format for id %d: %q", id, c)
		}
	}
}

func TestColor_DistinctForAdjacentIDs(t *testing.T) {
	seen := make(map[string]int)
	for id := 0; id < 12; id++ {
		c := Color(id)
		if prev, dup := seen[c]; dup {
			t.Errorf("Color collision between ids %d and %d: %s", prev, id, c)
		}
		seen[c] = id
	}
}
