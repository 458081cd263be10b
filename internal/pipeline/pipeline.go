// Package pipeline runs the asynchronous ingestion flow for one uploaded
// dataset: embed, cluster, sample, label, order, commit. Each stage updates
// the store's progress so clients can poll; any stage failure marks the
// dataset failed and nothing half-built ever becomes queryable.
package pipeline

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/levelhq/level-engine/internal/clusterer"
	"github.com/levelhq/level-engine/internal/embed"
	"github.com/levelhq/level-engine/internal/ingest"
	"github.com/levelhq/level-engine/internal/ordering"
	"github.com/levelhq/level-engine/internal/registry"
	"github.com/levelhq/level-engine/internal/store"
)

// Labeler is the labeling collaborator boundary: per-cluster analyses, with
// failed clusters absent from the map.
type Labeler interface {
	AnalyzeAll(ctx context.Context, samplesByCluster map[int][]string) map[int]registry.Analysis
}

// ClusterFunc groups vectors; tests swap in a fixture implementation.
type ClusterFunc func(vectors [][]float32) clusterer.Result

// DefaultClusterer runs DBSCAN with the estimated eps.
func DefaultClusterer(vectors [][]float32) clusterer.Result {
	eps := clusterer.EstimateEps(vectors, clusterer.MinSamples)
	return clusterer.Cluster(vectors, eps, clusterer.MinSamples)
}

// Pipeline holds the collaborators shared by all ingestion runs.
type Pipeline struct {
	store    *store.Store
	embedder embed.Embedder
	labeler  Labeler
	cluster  ClusterFunc

	// onReady fires after a dataset commits, for live-update broadcasts
	// and optional persistence. May be nil.
	onReady func(datasetID string)

	active atomic.Int64
}

func New(st *store.Store, embedder embed.Embedder, labeler Labeler, cluster ClusterFunc, onReady func(string)) *Pipeline {
	if cluster == nil {
		cluster = DefaultClusterer
	}
	return &Pipeline{
		store:    st,
		embedder: embedder,
		labeler:  labeler,
		cluster:  cluster,
		onReady:  onReady,
	}
}

// Active reports how many ingestions are currently running.
func (p *Pipeline) Active() int64 {
	return p.active.Load()
}

// Start registers the parsed upload and launches the ingestion goroutine.
// It returns the new dataset ID immediately.
func (p *Pipeline) Start(ctx context.Context, parsed *ingest.Parsed) string {
	datasetID := p.store.CreateProcessing(parsed.Header, parsed.Rows, parsed.TextColumn)

	p.active.Add(1)
	go func() {
		defer p.active.Add(-1)
		p.run(ctx, datasetID, parsed)
	}()

	return datasetID
}

func (p *Pipeline) run(ctx context.Context, datasetID string, parsed *ingest.Parsed) {
	log.Printf("[Pipeline] Dataset %s: ingesting %d rows", datasetID, len(parsed.Rows))

	p.store.SetProgress(datasetID, 10, "embedding", "Generating embeddings")
	vectors, err := p.embedder.EmbedBatch(ctx, parsed.Texts)
	if err != nil {
		log.Printf("[Pipeline] Dataset %s: embedding failed: %v", datasetID, err)
		p.store.Fail(datasetID, "Embedding failed: "+err.Error())
		return
	}
	if ctx.Err() != nil {
		p.store.Fail(datasetID, "Ingestion cancelled")
		return
	}

	p.store.SetProgress(datasetID, 45, "clustering", "Clustering embeddings")
	result := p.cluster(vectors)
	log.Printf("[Pipeline] Dataset %s: %d clusters, %d noise points",
		datasetID, result.NumClusters, result.NoisePoints)

	stats := clusterer.CalculateStats(vectors, result.Labels)

	p.store.SetProgress(datasetID, 65, "sampling", "Selecting representative samples")
	samplesByCluster := make(map[int][]string, len(stats))
	for _, stat := range stats {
		samplesByCluster[stat.ID] = clusterer.RepresentativeSamples(
			vectors, result.Labels, parsed.Texts, stat, clusterer.SampleSize)
	}

	p.store.SetProgress(datasetID, 75, "labeling", "Naming clusters")
	var analyses map[int]registry.Analysis
	if p.labeler != nil {
		analyses = p.labeler.AnalyzeAll(ctx, samplesByCluster)
	}

	p.store.SetProgress(datasetID, 90, "projecting", "Ordering clusters")
	centroids := make(map[int][]float32, len(stats))
	sizes := make(map[int]int, len(stats))
	for _, stat := range stats {
		centroids[stat.ID] = stat.Centroid
		sizes[stat.ID] = stat.Size
	}
	positions := ordering.OrderClusters(centroids, sizes)

	clusters, noiseCount := registry.Build(
		result.Labels, parsed.Texts, vectors, stats, analyses, positions)

	if err := p.store.Complete(datasetID, clusters, result.Labels, noiseCount); err != nil {
		log.Printf("[Pipeline] Dataset %s: commit failed: %v", datasetID, err)
		p.store.Fail(datasetID, "Commit failed: "+err.Error())
		return
	}

	log.Printf("[Pipeline] Dataset %s: ready (%d clusters, %d rows)",
		datasetID, len(clusters), len(parsed.Rows))
	if p.onReady != nil {
		p.onReady(datasetID)
	}
}
