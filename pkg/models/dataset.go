package models

import (
	"errors"
	"time"
)

// NoiseClusterID is the conventional DBSCAN label for records that could not
// be confidently assigned to any cluster. Noise rows never participate in
// weighting but their count is still part of TotalPoints bookkeeping.
const NoiseClusterID = -1

// Weight bounds for a cluster adjustment. Weight 0 means full exclusion;
// weights above 1 mean oversampling with replacement at export time.
const (
	WeightMin = 0.0
	WeightMax = 2.0
)

// Typed failures returned by the adjustment store and mapped to HTTP statuses
// at the API boundary.
var (
	ErrNotFound          = errors.New("dataset or cluster not found")
	ErrInvalidAdjustment = errors.New("invalid adjustment")
	ErrNotReady          = errors.New("dataset not ready")
	ErrDegenerateInput   = errors.New("dataset too small for meaningful clustering")
	ErrUpstreamFailure   = errors.New("upstream collaborator failed")
)

// Cluster is the immutable per-cluster record assembled at ingestion time.
type Cluster struct {
	ID          int      `json:"id"`
	Position    float64  `json:"x"`           // 1-D semantic position in [0,1]
	SampleCount int      `json:"sampleCount"` // rows originally assigned to this cluster
	Label       string   `json:"label"`       // falls back to "Cluster {id}" when labeling fails
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color"`   // deterministic hex color derived from ID
	Samples     []string `json:"samples"` // representative excerpts nearest the centroid
}

// Adjustment is the mutable per-cluster selection state. Weight is the
// canonical value; SelectedCount is always recomputed from it (or set
// directly in count mode, with Weight derived as count/sampleCount), so the
// two views can never drift.
type Adjustment struct {
	SelectedCount int     `json:"selectedCount"` // rows retained, in [0, sampleCount]
	Weight        float64 `json:"weight"`        // sampling factor, in [WeightMin, WeightMax]
}

// AdjustmentChange is one entry of an adjust request. Exactly one of
// SelectedCount or Weight must be set.
type AdjustmentChange struct {
	ClusterID     int      `json:"clusterId"`
	SelectedCount *int     `json:"selectedCount,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
}

// Metrics are the dataset-level balance metrics, recomputed over all
// clusters' effective selected counts after every adjustment.
type Metrics struct {
	TotalPoints     int     `json:"totalPoints"`
	ClusterCount    int     `json:"clusterCount"`
	GiniCoefficient float64 `json:"giniCoefficient"` // 0 = balanced, 1 = concentrated
	FlatnessScore   float64 `json:"flatnessScore"`   // 1 - gini
	AvgRatio        float64 `json:"avgRatio"`        // mean selectedCount/sampleCount across clusters
}

// Ingestion status values for DatasetState.Status.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DatasetState owns everything known about one uploaded dataset. It is
// created on upload, filled in by the ingestion pipeline, and mutated
// afterwards only through the adjustment store.
type DatasetState struct {
	ID          string             `json:"datasetId"`
	Status      string             `json:"status"`
	Progress    int                `json:"progress"` // 0-100
	Stage       string             `json:"stage"`
	Message     string             `json:"message,omitempty"`
	Clusters    []Cluster          `json:"clusters"` // ascending ID order
	Adjustments map[int]Adjustment `json:"adjustments"`
	Suggested   map[int]Adjustment `json:"suggested,omitempty"` // advisory only, never auto-applied
	Strategy    string             `json:"strategy,omitempty"`  // rationale behind the suggested set
	TotalPoints int                `json:"totalPoints"`         // sum of cluster sizes + noise count
	NoiseCount  int                `json:"noiseCount"`
	Metrics     Metrics            `json:"metrics"`
	CreatedAt   time.Time          `json:"createdAt"`

	// Raw row data retained for export and chat context. Header and Rows are
	// the parsed CSV; RowLabels holds one cluster ID (or NoiseClusterID) per
	// row; TextColumn indexes the column that was embedded.
	Header     []string   `json:"-"`
	Rows       [][]string `json:"-"`
	RowLabels  []int      `json:"-"`
	TextColumn int        `json:"-"`
}

// ClusterByID returns the cluster record for id, or nil if unknown.
func (ds *DatasetState) ClusterByID(id int) *Cluster {
	for i := range ds.Clusters {
		if ds.Clusters[i].ID == id {
			return &ds.Clusters[i]
		}
	}
	return nil
}

// Peak is one cluster as seen by the waveform consumer.
type Peak struct {
	ID            int      `json:"id"`
	X             float64  `json:"x"`
	Label         string   `json:"label"`
	Description   string   `json:"description,omitempty"`
	Color         string   `json:"color"`
	SampleCount   int      `json:"sampleCount"`
	SelectedCount int      `json:"selectedCount"`
	Weight        float64  `json:"weight"`
	Height        float64  `json:"height"` // presentation-only normalized amplitude
	Samples       []string `json:"samples"`
}

// WaveformView is the external projection of one dataset: the user's current
// shape, the immutable base shape for ghost overlays, and the advisory
// suggested shape when one exists.
type WaveformView struct {
	Mode        string  `json:"mode"` // "count" or "weight"
	Peaks       []Peak  `json:"peaks"`
	Base        []Peak  `json:"base"`
	Suggested   []Peak  `json:"suggested,omitempty"`
	Strategy    string  `json:"strategy,omitempty"`
	TotalPoints int     `json:"totalPoints"`
	NoiseCount  int     `json:"noiseCount"`
	Metrics     Metrics `json:"metrics"`
}
