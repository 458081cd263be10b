package store

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levelhq/level-engine/internal/metrics"
	"github.com/levelhq/level-engine/pkg/models"
)

// Adjustment Store
//
// Owns every DatasetState in the process. All mutation flows through this
// package so the invariants hold on every transition:
//
//   - weight is canonical: a count edit stores weight = count/sampleCount, a
//     weight edit stores selectedCount = round(weight*sampleCount) clamped to
//     [0, sampleCount] — the two views cannot drift
//   - negative or non-finite values are rejected before any mutation;
//     values beyond the upper bound are clamped to it
//   - every successful mutation recomputes the cached dataset metrics over
//     ALL clusters (O(clusterCount), cluster counts are tens not millions)
//   - batches are all-or-nothing: one invalid entry rejects the whole batch
//
// Concurrency: reads across datasets and writes to different datasets are
// fully parallel. Writes to the same dataset are serialized by a per-dataset
// lock, so each adjustment's metric recompute is visible to the next call.
type Store struct {
	mu       sync.RWMutex
	datasets map[string]*entry
	started  time.Time
}

type entry struct {
	mu sync.RWMutex
	ds *models.DatasetState
}

func New() *Store {
	return &Store{
		datasets: make(map[string]*entry),
		started:  time.Now(),
	}
}

// CreateProcessing registers a new dataset in the processing state and
// returns its generated ID. The dataset is not queryable (waveform, adjust,
// export all fail with ErrNotReady) until Complete commits the built state.
func (s *Store) CreateProcessing(header []string, rows [][]string, textColumn int) string {
	ds := &models.DatasetState{
		ID:         uuid.NewString(),
		Status:     models.StatusProcessing,
		Stage:      "parsing",
		Message:    "CSV parsed successfully",
		TotalPoints: len(rows),
		CreatedAt:  time.Now().UTC(),
		Header:     header,
		Rows:       rows,
		TextColumn: textColumn,
	}

	s.mu.Lock()
	s.datasets[ds.ID] = &entry{ds: ds}
	s.mu.Unlock()

	return ds.ID
}

func (s *Store) get(datasetID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.datasets[datasetID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, models.ErrNotFound)
	}
	return e, nil
}

// Progress is the pipeline-facing view of ingestion state.
type Progress struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Stage    string `json:"stage"`
	Message  string `json:"message,omitempty"`
}

// Status reports ingestion progress for polling.
func (s *Store) Status(datasetID string) (Progress, error) {
	e, err := s.get(datasetID)
	if err != nil {
		return Progress{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return Progress{
		Status:   e.ds.Status,
		Progress: e.ds.Progress,
		Stage:    e.ds.Stage,
		Message:  e.ds.Message,
	}, nil
}

// SetProgress advances the ingestion stage display. No-op on unknown ids so
// a pipeline racing an eviction cannot panic.
func (s *Store) SetProgress(datasetID string, percent int, stage, message string) {
	e, err := s.get(datasetID)
	if err != nil {
		return
	}

	e.mu.Lock()
	e.ds.Progress = percent
	e.ds.Stage = stage
	e.ds.Message = message
	e.mu.Unlock()
}

// Fail marks an ingestion as failed. The dataset stays visible to status
// polling but is never queryable — no half-built state leaks out.
func (s *Store) Fail(datasetID, message string) {
	e, err := s.get(datasetID)
	if err != nil {
		return
	}

	e.mu.Lock()
	e.ds.Status = models.StatusFailed
	e.ds.Message = message
	e.ds.Clusters = nil
	e.ds.Adjustments = nil
	e.mu.Unlock()
}

// Complete commits the fully built cluster registry for a dataset: initial
// adjustments (selectedCount = sampleCount, weight = 1.0), row labels, noise
// bookkeeping, and the initial metrics. Only after this returns does the
// dataset answer waveform/adjust/export calls.
func (s *Store) Complete(datasetID string, clusters []models.Cluster, rowLabels []int, noiseCount int) error {
	e, err := s.get(datasetID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ds := e.ds
	ds.Clusters = clusters
	ds.RowLabels = rowLabels
	ds.NoiseCount = noiseCount
	ds.Adjustments = make(map[int]models.Adjustment, len(clusters))
	for _, c := range clusters {
		ds.Adjustments[c.ID] = models.Adjustment{SelectedCount: c.SampleCount, Weight: 1.0}
	}

	// Totals invariant: Σ sampleCount + noise = total rows.
	sum := noiseCount
	for _, c := range clusters {
		sum += c.SampleCount
	}
	ds.TotalPoints = sum

	recomputeMetrics(ds)
	ds.Status = models.StatusCompleted
	ds.Progress = 100
	ds.Stage = "completed"
	ds.Message = "Processing complete"
	return nil
}

// Snapshot returns a consistent read-only copy of a completed dataset for
// projection. Clusters and raw rows are immutable after Complete, so the
// copy is shallow for those and deep for the mutable adjustment maps.
func (s *Store) Snapshot(datasetID string) (*models.DatasetState, error) {
	e, err := s.get(datasetID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.ds.Status != models.StatusCompleted {
		return nil, fmt.Errorf("dataset %s is %s: %w", datasetID, e.ds.Status, models.ErrNotReady)
	}

	snap := *e.ds
	snap.Adjustments = make(map[int]models.Adjustment, len(e.ds.Adjustments))
	for id, adj := range e.ds.Adjustments {
		snap.Adjustments[id] = adj
	}
	if e.ds.Suggested != nil {
		snap.Suggested = make(map[int]models.Adjustment, len(e.ds.Suggested))
		for id, adj := range e.ds.Suggested {
			snap.Suggested[id] = adj
		}
	}
	return &snap, nil
}

// ApplyAdjustments validates and applies a batch of adjustments atomically,
// then recomputes the dataset metrics once. Each change must carry exactly
// one of selectedCount or weight. Any invalid entry rejects the entire batch
// with no state change.
func (s *Store) ApplyAdjustments(datasetID string, changes []models.AdjustmentChange) (models.Metrics, error) {
	e, err := s.get(datasetID)
	if err != nil {
		return models.Metrics{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ds := e.ds
	if ds.Status != models.StatusCompleted {
		return models.Metrics{}, fmt.Errorf("dataset %s is %s: %w", datasetID, ds.Status, models.ErrNotReady)
	}
	if len(changes) == 0 {
		return models.Metrics{}, fmt.Errorf("empty adjustment batch: %w", models.ErrInvalidAdjustment)
	}

	// Validate the whole batch before touching anything.
	staged := make(map[int]models.Adjustment, len(changes))
	for _, change := range changes {
		adj, err := validateChange(ds, change)
		if err != nil {
			return models.Metrics{}, err
		}
		staged[change.ClusterID] = adj
	}

	for id, adj := range staged {
		ds.Adjustments[id] = adj
	}
	recomputeMetrics(ds)
	return ds.Metrics, nil
}

// validateChange checks one adjustment against the cluster registry and
// returns the reconciled (weight-canonical) adjustment to store.
func validateChange(ds *models.DatasetState, change models.AdjustmentChange) (models.Adjustment, error) {
	cluster := ds.ClusterByID(change.ClusterID)
	if cluster == nil {
		return models.Adjustment{}, fmt.Errorf("cluster %d: %w", change.ClusterID, models.ErrNotFound)
	}

	hasCount := change.SelectedCount != nil
	hasWeight := change.Weight != nil
	if hasCount == hasWeight {
		return models.Adjustment{}, fmt.Errorf(
			"cluster %d: exactly one of selectedCount or weight required: %w",
			change.ClusterID, models.ErrInvalidAdjustment)
	}

	if hasCount {
		count := *change.SelectedCount
		if count < 0 {
			return models.Adjustment{}, fmt.Errorf(
				"cluster %d: negative selectedCount %d: %w",
				change.ClusterID, count, models.ErrInvalidAdjustment)
		}
		if count > cluster.SampleCount {
			count = cluster.SampleCount
		}
		weight := 0.0
		if cluster.SampleCount > 0 {
			weight = float64(count) / float64(cluster.SampleCount)
		}
		return models.Adjustment{SelectedCount: count, Weight: weight}, nil
	}

	weight := *change.Weight
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < models.WeightMin {
		return models.Adjustment{}, fmt.Errorf(
			"cluster %d: weight %v out of range: %w",
			change.ClusterID, weight, models.ErrInvalidAdjustment)
	}
	if weight > models.WeightMax {
		weight = models.WeightMax
	}
	count := int(math.Round(weight * float64(cluster.SampleCount)))
	if count > cluster.SampleCount {
		count = cluster.SampleCount
	}
	return models.Adjustment{SelectedCount: count, Weight: weight}, nil
}

// ResetCluster restores one cluster to its initial adjustment and
// recomputes metrics.
func (s *Store) ResetCluster(datasetID string, clusterID int) (models.Metrics, error) {
	e, err := s.get(datasetID)
	if err != nil {
		return models.Metrics{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ds := e.ds
	if ds.Status != models.StatusCompleted {
		return models.Metrics{}, fmt.Errorf("dataset %s is %s: %w", datasetID, ds.Status, models.ErrNotReady)
	}
	cluster := ds.ClusterByID(clusterID)
	if cluster == nil {
		return models.Metrics{}, fmt.Errorf("cluster %d: %w", clusterID, models.ErrNotFound)
	}

	ds.Adjustments[clusterID] = models.Adjustment{SelectedCount: cluster.SampleCount, Weight: 1.0}
	recomputeMetrics(ds)
	return ds.Metrics, nil
}

// ResetAll restores every cluster to its initial adjustment. The resulting
// metrics are byte-identical to the ones computed at ingestion.
func (s *Store) ResetAll(datasetID string) (models.Metrics, error) {
	e, err := s.get(datasetID)
	if err != nil {
		return models.Metrics{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ds := e.ds
	if ds.Status != models.StatusCompleted {
		return models.Metrics{}, fmt.Errorf("dataset %s is %s: %w", datasetID, ds.Status, models.ErrNotReady)
	}

	for _, c := range ds.Clusters {
		ds.Adjustments[c.ID] = models.Adjustment{SelectedCount: c.SampleCount, Weight: 1.0}
	}
	recomputeMetrics(ds)
	return ds.Metrics, nil
}

// SetSuggested installs the advisory adjustment side-table. The suggested
// view is read-only for consumers and is never applied by the store itself.
func (s *Store) SetSuggested(datasetID string, suggested map[int]models.Adjustment, strategy string) error {
	e, err := s.get(datasetID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ds.Status != models.StatusCompleted {
		return fmt.Errorf("dataset %s is %s: %w", datasetID, e.ds.Status, models.ErrNotReady)
	}
	e.ds.Suggested = suggested
	e.ds.Strategy = strategy
	return nil
}

// Delete evicts a dataset entirely.
func (s *Store) Delete(datasetID string) {
	s.mu.Lock()
	delete(s.datasets, datasetID)
	s.mu.Unlock()
}

// Count returns the number of datasets in memory (any status).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

// Uptime reports how long the store has been serving.
func (s *Store) Uptime() time.Duration {
	return time.Since(s.started)
}

// recomputeMetrics refreshes the cached dataset metrics from the current
// adjustments: Gini/flatness over effective selected counts, average ratio
// over selectedCount/sampleCount. Caller holds the entry write lock.
func recomputeMetrics(ds *models.DatasetState) {
	selected := make([]float64, 0, len(ds.Clusters))
	totals := make([]float64, 0, len(ds.Clusters))
	for _, c := range ds.Clusters {
		adj := ds.Adjustments[c.ID]
		selected = append(selected, float64(adj.SelectedCount))
		totals = append(totals, float64(c.SampleCount))
	}

	gini := metrics.Gini(selected)
	ds.Metrics = models.Metrics{
		TotalPoints:     ds.TotalPoints,
		ClusterCount:    len(ds.Clusters),
		GiniCoefficient: gini,
		FlatnessScore:   metrics.Flatness(gini),
		AvgRatio:        metrics.AverageRatio(selected, totals),
	}
}
