// Package ingest parses uploaded CSV files into the row set the pipeline
// embeds and clusters.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/levelhq/level-engine/pkg/models"
)

const (
	// MaxUploadBytes caps the accepted CSV size.
	MaxUploadBytes = 50 << 20

	// MinRows is the smallest dataset worth clustering. Below this the
	// eps estimation and minimum cluster size stop being meaningful.
	MinRows = 50
)

// Parsed is the outcome of reading one upload.
type Parsed struct {
	Header     []string
	Rows       [][]string
	TextColumn int
	Texts      []string // the text column values, one per row
}

// Parse reads a CSV upload. textColumn selects the column to embed; pass a
// negative value to auto-detect the first column with non-numeric values.
// The reader should already be size-capped by the HTTP layer.
func Parse(r io.Reader, textColumn int) (*Parsed, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed CSV: %w: %v", models.ErrDegenerateInput, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV has no data rows: %w", models.ErrDegenerateInput)
	}

	header := records[0]
	rows := records[1:]
	if len(rows) < MinRows {
		return nil, fmt.Errorf("dataset has %d rows, need at least %d: %w", len(rows), MinRows, models.ErrDegenerateInput)
	}

	// Ragged rows are padded rather than rejected: exports must be able to
	// reproduce every input row.
	for i, row := range rows {
		for len(row) < len(header) {
			row = append(row, "")
		}
		rows[i] = row[:len(header)]
	}

	if textColumn < 0 {
		textColumn = detectTextColumn(header, rows)
	}
	if textColumn >= len(header) {
		return nil, fmt.Errorf("text column %d out of range (%d columns): %w", textColumn, len(header), models.ErrDegenerateInput)
	}

	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row[textColumn]
	}

	return &Parsed{
		Header:     header,
		Rows:       rows,
		TextColumn: textColumn,
		Texts:      texts,
	}, nil
}

// detectTextColumn returns the first column whose values are not all numeric
// or empty, falling back to column 0.
func detectTextColumn(header []string, rows [][]string) int {
	probe := rows
	if len(probe) > 100 {
		probe = probe[:100]
	}

	for col := range header {
		for _, row := range probe {
			value := strings.TrimSpace(row[col])
			if value == "" {
				continue
			}
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return col
			}
		}
	}
	return 0
}
