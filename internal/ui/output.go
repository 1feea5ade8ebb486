package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Table represents a simple text table
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a new table
func NewTable(headers ...string) *Table {
	return &Table{
		Headers: headers,
		Rows:    make([][]string, 0),
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Print writes the table to w, columns separated by two spaces
func (t *Table) Print(w io.Writer) {
	if len(t.Rows) == 0 {
		return
	}

	widths := make([]int, len(t.Headers))
	for i, header := range t.Headers {
		widths[i] = len(header)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	fmt.Fprintln(w, t.formatRow(t.Headers, widths))
	for _, row := range t.Rows {
		fmt.Fprintln(w, t.formatRow(row, widths))
	}
}

func (t *Table) formatRow(cells []string, widths []int) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i < len(widths) {
			parts[i] = padRight(cell, widths[i])
		} else {
			parts[i] = cell
		}
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

// PrintJSON writes data to w as indented JSON
func PrintJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
