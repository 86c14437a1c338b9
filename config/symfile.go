package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"
)

// DateLayout is the calendar day format used in symbol files and output names.
const DateLayout = "2006-01-02"

// SymbolRange is one symbol with its query window. End is exclusive; an End
// equal to Start means the single Start day is queried.
type SymbolRange struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

// LoadSymbolFile parses the 3-row symbol CSV:
//
//	row 1: comma separated symbols
//	row 2: one start date for all symbols, or one per symbol (YYYY-MM-DD)
//	row 3: one exclusive end date for all symbols, or one per symbol; the row
//	       may be omitted entirely, in which case only the start day is queried
//
// A date row whose length is neither 1 nor the symbol count is an error, so a
// malformed file halts the run before any fetching begins.
func LoadSymbolFile(path string) ([]SymbolRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse symbol file: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("symbol file must have a symbol row and a start date row, got %d rows", len(rows))
	}

	symbols := trimRow(rows[0])
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbol file contains no symbols")
	}
	for i, s := range symbols {
		if s == "" {
			return nil, fmt.Errorf("symbol %d is empty", i+1)
		}
	}

	starts, err := parseDateRow(trimRow(rows[1]), len(symbols), "start")
	if err != nil {
		return nil, err
	}

	var ends []time.Time
	if len(rows) >= 3 && len(trimRow(rows[2])) > 0 {
		ends, err = parseDateRow(trimRow(rows[2]), len(symbols), "end")
		if err != nil {
			return nil, err
		}
	} else {
		// No end row: each symbol queries its start day only.
		ends = starts
	}

	ranges := make([]SymbolRange, len(symbols))
	for i, sym := range symbols {
		ranges[i] = SymbolRange{Symbol: sym, Start: starts[i], End: ends[i]}
	}
	return ranges, nil
}

// trimRow trims cell whitespace and drops trailing empty cells, so a row like
// "2021-01-04,," reads as a single shared value.
func trimRow(row []string) []string {
	out := make([]string, 0, len(row))
	for _, cell := range row {
		out = append(out, strings.TrimSpace(cell))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// parseDateRow expands a date row to one value per symbol. A single value is
// shared by all symbols; otherwise the row length must match the symbol count.
func parseDateRow(row []string, symbolCount int, name string) ([]time.Time, error) {
	if len(row) != 1 && len(row) != symbolCount {
		return nil, fmt.Errorf("%s date row has %d entries, want 1 or %d", name, len(row), symbolCount)
	}

	dates := make([]time.Time, symbolCount)
	for i := range dates {
		cell := row[0]
		if len(row) == symbolCount {
			cell = row[i]
		}
		d, err := time.Parse(DateLayout, cell)
		if err != nil {
			return nil, fmt.Errorf("invalid %s date %q: %w", name, cell, err)
		}
		dates[i] = d
	}
	return dates, nil
}
