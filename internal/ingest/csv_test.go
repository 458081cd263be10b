package ingest

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/levelhq/level-engine/pkg/models"
)

func buildCSV(rows int) string {
	var b strings.Builder
	b.WriteString("id,text,score\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,record number %d,%d.5\n", i, i, i)
	}
	return b.String()
}

func TestParse_AutoDetectsTextColumn(t *testing.T) {
	parsed, err := Parse(strings.NewReader(buildCSV(60)), -1)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// Column 0 (id) and column 2 (score) are numeric; column 1 is text.
	if parsed.TextColumn != 1 {
		t.Errorf("Expected text column 1. Got: %d", parsed.TextColumn)
	}
	if len(parsed.Rows) != 60 || len(parsed.Texts) != 60 {
		t.Errorf("Wrong row counts: %d rows, %d texts", len(parsed.Rows), len(parsed.Texts))
	}
	if parsed.Texts[3] != "record number 3" {
		t.Errorf("Wrong text extraction: %q", parsed.Texts[3])
	}
}

func TestParse_ExplicitTextColumn(t *testing.T) {
	parsed, err := Parse(strings.NewReader(buildCSV(50)), 0)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.TextColumn != 0 || parsed.Texts[5] != "5" {
		t.Errorf("Explicit column ignored: col=%d text=%q", parsed.TextColumn, parsed.Texts[5])
	}
}

func TestParse_TooFewRows(t *testing.T) {
	_, err := Parse(strings.NewReader(buildCSV(MinRows-1)), -1)
	if !errors.Is(err, models.ErrDegenerateInput) {
		t.Fatalf("Expected ErrDegenerateInput. Got: %v", err)
	}
}

func TestParse_EmptyAndHeaderOnly(t *testing.T) {
	for _, input := range []string{"", "id,text\n"} {
		if _, err := Parse(strings.NewReader(input), -1); !errors.Is(err, models.ErrDegenerateInput) {
			t.Errorf("Expected ErrDegenerateInput for %q. Got: %v", input, err)
		}
	}
}

func TestParse_TextColumnOutOfRange(t *testing.T) {
	_, err := Parse(strings.NewReader(buildCSV(50)), 9)
	if !errors.Is(err, models.ErrDegenerateInput) {
		t.Errorf("Expected ErrDegenerateInput. Got: %v", err)
	}
}

func TestParse_PadsRaggedRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("text,source\n")
	for i := 0; i < MinRows; i++ {
		if i == 7 {
			b.WriteString("short row\n") // missing the source field
			continue
		}
		fmt.Fprintf(&b, "row %d,web\n", i)
	}

	parsed, err := Parse(strings.NewReader(b.String()), -1)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(parsed.Rows[7]) != 2 || parsed.Rows[7][1] != "" {
		t.Errorf("Ragged row not padded: %v", parsed.Rows[7])
	}
}

func TestParse_AllNumericFallsBackToFirstColumn(t *testing.T) {
	var b strings.Builder
	b.WriteString("a,b\n")
	for i := 0; i < MinRows; i++ {
		fmt.Fprintf(&b, "%d,%d\n", i, i*2)
	}

	parsed, err := Parse(strings.NewReader(b.String()), -1)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.TextColumn != 0 {
		t.Errorf("Expected fallback to column 0. Got: %d", parsed.TextColumn)
	}
}
