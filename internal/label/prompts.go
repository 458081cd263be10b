package label

import (
	"fmt"
	"strings"

	"github.com/levelhq/level-engine/pkg/models"
)

const labelSystem = `You name clusters of text records from a dataset.
Respond with a JSON object: {"label": "<2-4 word topic name>", "description": "<one sentence>"}.
The label names what the records have in common, not their format.`

const suggestSystem = `You help rebalance a clustered dataset for model training.
Respond with a JSON object:
{"strategy": "<one or two sentences explaining the approach>",
 "adjustments": [{"clusterId": <int>, "selectedCount": <int>}, ...]}
selectedCount must be between 0 and that cluster's sampleCount. Prefer
reducing dominant clusters over zeroing small ones.`

const chatSystem = `You answer questions about a clustered dataset. Be concise
and ground every claim in the cluster summary you are given. If the summary
cannot answer the question, say so.`

const maxSampleChars = 300

func buildLabelPrompt(samples []string) string {
	var b strings.Builder
	b.WriteString("Representative records from one cluster:\n\n")
	for i, s := range samples {
		if len(s) > maxSampleChars {
			s = s[:maxSampleChars]
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\nName this cluster.")
	return b.String()
}

// clusterSummary renders the dataset shape as a compact table: one line per
// cluster with its label, size, and current selection.
func clusterSummary(ds *models.DatasetState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %d rows, %d clusters, %d noise rows.\n", ds.TotalPoints, len(ds.Clusters), ds.NoiseCount)
	fmt.Fprintf(&b, "Gini coefficient %.3f (0 = balanced), flatness %.3f.\n\n", ds.Metrics.GiniCoefficient, ds.Metrics.FlatnessScore)
	b.WriteString("id | label | sampleCount | selectedCount | weight\n")
	for _, c := range ds.Clusters {
		adj := ds.Adjustments[c.ID]
		fmt.Fprintf(&b, "%d | %s | %d | %d | %.2f\n", c.ID, c.Label, c.SampleCount, adj.SelectedCount, adj.Weight)
	}
	return b.String()
}

func buildSuggestPrompt(ds *models.DatasetState, request string) string {
	var b strings.Builder
	b.WriteString(clusterSummary(ds))
	b.WriteString("\nPropose selectedCount adjustments that improve balance.")
	if request != "" {
		fmt.Fprintf(&b, "\nUser guidance: %s", request)
	}
	return b.String()
}

func buildChatPrompt(ds *models.DatasetState, message string) string {
	var b strings.Builder
	b.WriteString(clusterSummary(ds))
	fmt.Fprintf(&b, "\nQuestion: %s", message)
	return b.String()
}
