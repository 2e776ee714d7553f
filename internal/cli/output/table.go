package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// TableFormatter formats output as a human-readable table.
type TableFormatter struct {
	Condensed bool
	// Width caps rendered cells; zero means the terminal width when stdout is a TTY
	Width int
}

// Format renders non-tabular data as indented JSON
func (f *TableFormatter) Format(data interface{}) (string, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

// FormatError renders an error in human-readable form
func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Error [%s]: %s\n", err.Code, err.Message)
	if err.Guidance != "" {
		fmt.Fprintf(&buf, "  Guidance: %s\n", err.Guidance)
	}
	if err.RequestID != "" {
		fmt.Fprintf(&buf, "  Request ID: %s\n", err.RequestID)
	}
	return buf.String(), nil
}

// FormatTable renders tabular data with headers and aligned columns
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	maxCell := 0
	if width := f.width(); width > 0 && len(headers) > 0 {
		maxCell = width/len(headers) - 2
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	if !f.Condensed {
		underline := make([]string, len(headers))
		for i, h := range headers {
			underline[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintln(w, strings.Join(underline, "\t"))
	}

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = clip(cell, maxCell)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (f *TableFormatter) width() int {
	if f.Width > 0 {
		return f.Width
	}
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

// clip shortens s to max runes, marking the cut with "..."
func clip(s string, max int) string {
	if max <= 3 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
