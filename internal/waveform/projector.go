package waveform

import (
	"errors"
	"fmt"
	"sort"

	"github.com/levelhq/level-engine/pkg/models"
)

// Waveform modes. Count mode renders absolute selection sizes; weight mode
// renders the multiplicative sampling factors.
const (
	ModeCount  = "count"
	ModeWeight = "weight"
)

var ErrUnknownMode = errors.New("unknown waveform mode")

// Project derives the external waveform view from a dataset snapshot: the
// user's current shape, the immutable base shape (weight 1.0, full counts)
// for ghost overlays, and the advisory suggested shape when one exists.
// Heights are presentation-only; nothing here writes back to the snapshot.
func Project(ds *models.DatasetState, mode string) (*models.WaveformView, error) {
	if mode == "" {
		mode = ModeCount
	}
	if mode != ModeCount && mode != ModeWeight {
		return nil, fmt.Errorf("%q: %w", mode, ErrUnknownMode)
	}

	maxSamples := 0
	for _, c := range ds.Clusters {
		if c.SampleCount > maxSamples {
			maxSamples = c.SampleCount
		}
	}

	current := make([]models.Peak, 0, len(ds.Clusters))
	base := make([]models.Peak, 0, len(ds.Clusters))
	for _, c := range ds.Clusters {
		adj := ds.Adjustments[c.ID]
		current = append(current, buildPeak(c, adj, mode, maxSamples))
		base = append(base, buildPeak(c, models.Adjustment{SelectedCount: c.SampleCount, Weight: 1.0}, mode, maxSamples))
	}

	var suggested []models.Peak
	if ds.Suggested != nil {
		suggested = make([]models.Peak, 0, len(ds.Clusters))
		for _, c := range ds.Clusters {
			adj, ok := ds.Suggested[c.ID]
			if !ok {
				adj = ds.Adjustments[c.ID]
			}
			suggested = append(suggested, buildPeak(c, adj, mode, maxSamples))
		}
		sortPeaks(suggested)
	}

	sortPeaks(current)
	sortPeaks(base)

	return &models.WaveformView{
		Mode:        mode,
		Peaks:       current,
		Base:        base,
		Suggested:   suggested,
		Strategy:    ds.Strategy,
		TotalPoints: ds.TotalPoints,
		NoiseCount:  ds.NoiseCount,
		Metrics:     ds.Metrics,
	}, nil
}

// buildPeak normalizes the peak amplitude for rendering: count mode against
// the largest cluster, weight mode against the fixed weight band.
func buildPeak(c models.Cluster, adj models.Adjustment, mode string, maxSamples int) models.Peak {
	height := 0.0
	switch mode {
	case ModeCount:
		if maxSamples > 0 {
			height = float64(adj.SelectedCount) / float64(maxSamples)
		}
	case ModeWeight:
		height = (adj.Weight - models.WeightMin) / (models.WeightMax - models.WeightMin)
	}

	return models.Peak{
		ID:            c.ID,
		X:             c.Position,
		Label:         c.Label,
		Description:   c.Description,
		Color:         c.Color,
		SampleCount:   c.SampleCount,
		SelectedCount: adj.SelectedCount,
		Weight:        adj.Weight,
		Height:        height,
		Samples:       c.Samples,
	}
}

func sortPeaks(peaks []models.Peak) {
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].X != peaks[j].X {
			return peaks[i].X < peaks[j].X
		}
		return peaks[i].ID < peaks[j].ID
	})
}
