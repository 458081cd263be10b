package waveform

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/levelhq/level-engine/pkg/models"
)

// Export formats.
const (
	FormatWeighted  = "weighted"
	FormatResampled = "resampled"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Export serializes the dataset in the requested format. Both formats read
// the snapshot only; neither touches stored state.
func Export(ds *models.DatasetState, format string) ([]byte, error) {
	switch format {
	case FormatWeighted, "":
		return exportWeighted(ds)
	case FormatResampled:
		return exportResampled(ds)
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}

// exportWeighted emits every original row unchanged, in original order, with
// two extra columns: the row's cluster id and that cluster's current weight.
// Row count always equals the input row count. Noise rows carry the -1
// sentinel id and a neutral weight of 1.0.
func exportWeighted(ds *models.DatasetState) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append(append([]string{}, ds.Header...), "cluster_id", "weight")
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, row := range ds.Rows {
		clusterID := ds.RowLabels[i]
		weight := 1.0
		if clusterID != models.NoiseClusterID {
			weight = ds.Adjustments[clusterID].Weight
		}
		out := append(append([]string{}, row...),
			strconv.Itoa(clusterID),
			strconv.FormatFloat(weight, 'f', -1, 64))
		if err := w.Write(out); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// exportResampled materializes the adjusted selection: each cluster
// contributes round(weight * sampleCount) rows — the first selectedCount
// member rows in original order when reducing, cycling through the members
// with replacement when weight > 1 oversamples. Noise rows pass through
// unweighted at the end, in original order.
func exportResampled(ds *models.DatasetState) ([]byte, error) {
	memberRows := make(map[int][]int, len(ds.Clusters))
	var noiseRows []int
	for i, clusterID := range ds.RowLabels {
		if clusterID == models.NoiseClusterID {
			noiseRows = append(noiseRows, i)
			continue
		}
		memberRows[clusterID] = append(memberRows[clusterID], i)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(ds.Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	// Clusters are stored in ascending ID order, keeping output deterministic.
	for _, c := range ds.Clusters {
		members := memberRows[c.ID]
		if len(members) == 0 {
			continue
		}
		adj := ds.Adjustments[c.ID]
		target := int(math.Round(adj.Weight * float64(c.SampleCount)))
		for n := 0; n < target; n++ {
			if err := w.Write(ds.Rows[members[n%len(members)]]); err != nil {
				return nil, fmt.Errorf("write cluster %d row: %w", c.ID, err)
			}
		}
	}

	for _, i := range noiseRows {
		if err := w.Write(ds.Rows[i]); err != nil {
			return nil, fmt.Errorf("write noise row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
