package ordering

import (
	"math"
	"testing"
)

func TestOrderClusters_SingleCluster(t *testing.T) {
	positions := OrderClusters(map[int][]float32{0: {1, 2, 3}}, map[int]int{0: 10})

	if positions[0] != 0.5 {
		t.Errorf("Expected single cluster at 0.5. Got: %f", positions[0])
	}
}

func TestOrderClusters_TwoClusters(t *testing.T) {
	centroids := map[int][]float32{
		0: {0, 0},
		1: {1, 1},
	}
	positions := OrderClusters(centroids, map[int]int{0: 5, 1: 5})

	if len(positions) != 2 {
		t.Fatalf("Expected 2 positions. Got: %d", len(positions))
	}
	lo := math.Min(positions[0], positions[1])
	hi := math.Max(positions[0], positions[1])
	if lo != 0.0 || hi != 1.0 {
		t.Errorf("Expected a 0.0/1.0 split for two clusters. Got: %v", positions)
	}
}

func TestOrderClusters_NeighborPreservation(t *testing.T) {
	// Collinear centroids: positions must preserve the line's order
	// (possibly reversed, since an eigenvector's sign is arbitrary).
	centroids := map[int][]float32{
		0: {0.0, 0.0},
		1: {1.0, 1.0},
		2: {2.0, 2.0},
		3: {3.0, 3.0},
	}
	positions := OrderClusters(centroids, map[int]int{0: 1, 1: 1, 2: 1, 3: 1})

	ascending := positions[0] < positions[1] && positions[1] < positions[2] && positions[2] < positions[3]
	descending := positions[0] > positions[1] && positions[1] > positions[2] && positions[2] > positions[3]
	if !ascending && !descending {
		t.Errorf("Collinear centroids not monotonically ordered: %v", positions)
	}
}

func TestOrderClusters_Bounds(t *testing.T) {
	centroids := map[int][]float32{
		3: {0.9, 0.1, 0.3},
		7: {0.1, 0.8, 0.2},
		9: {0.5, 0.5, 0.9},
	}
	positions := OrderClusters(centroids, map[int]int{3: 10, 7: 20, 9: 30})

	for id, pos := range positions {
		if pos < 0.0 || pos > 1.0 {
			t.Errorf("Position out of [0,1] for cluster %d: %f", id, pos)
		}
	}
}

func TestOrderClusters_Deterministic(t *testing.T) {
	centroids := map[int][]float32{
		0: {0.2, 0.7, 0.1},
		1: {0.9, 0.3, 0.5},
		2: {0.4, 0.4, 0.8},
		3: {0.6, 0.1, 0.2},
	}
	sizes := map[int]int{0: 10, 1: 20, 2: 30, 3: 40}

	first := OrderClusters(centroids, sizes)
	for trial := 0; trial < 5; trial++ {
		again := OrderClusters(centroids, sizes)
		for id := range first {
			if first[id] != again[id] {
				t.Fatalf("Ordering not deterministic for cluster %d: %f vs %f", id, first[id], again[id])
			}
		}
	}
}

func TestOrderClusters_IdenticalCentroids(t *testing.T) {
	// Full collapse: all clusters project to the same scalar. Positions
	// must be evenly spaced by ascending ID, not divide by zero.
	centroids := map[int][]float32{
		2: {1, 1},
		5: {1, 1},
		8: {1, 1},
	}
	positions := OrderClusters(centroids, map[int]int{2: 1, 5: 1, 8: 1})

	if positions[2] != 0.0 || positions[5] != 0.5 || positions[8] != 1.0 {
		t.Errorf("Expected evenly spaced positions by ascending id. Got: %v", positions)
	}
}

func TestOrderClusters_Empty(t *testing.T) {
	positions := OrderClusters(map[int][]float32{}, map[int]int{})

	if len(positions) != 0 {
		t.Errorf("Expected empty positions. Got: %v", positions)
	}
}
