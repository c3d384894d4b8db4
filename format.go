package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/tonimelisma/exact-go/internal/odata"
)

// yamlIndent matches the two-space JSON indentation.
const yamlIndent = 2

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Local().Format("Jan _2 15:04")
	}

	return t.Local().Format("Jan _2  2006")
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// writeYAML encodes v as YAML.
func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(yamlIndent)

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding YAML output: %w", err)
	}

	return enc.Close()
}

// writeStructured writes v in the requested machine format. It reports
// false for the table format, which callers render themselves.
func writeStructured(w io.Writer, output string, v any) (bool, error) {
	switch output {
	case outputJSON:
		return true, writeJSON(w, v)
	case outputYAML:
		return true, writeYAML(w, v)
	default:
		return false, nil
	}
}

// printTable writes headers and rows as a bordered table.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)

	hdr := make([]any, len(headers))
	for i, h := range headers {
		hdr[i] = h
	}

	table.Header(hdr...)

	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("rendering table: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}

	return nil
}

// cleanRecord drops OData bookkeeping properties such as __metadata.
func cleanRecord(rec odata.Record) odata.Record {
	out := make(odata.Record, len(rec))

	for k, v := range rec {
		if strings.HasPrefix(k, "__") {
			continue
		}

		out[k] = v
	}

	return out
}

// recordColumns picks the table columns: the selected properties in order
// when given, otherwise every property seen, key first, then sorted.
func recordColumns(records []odata.Record, selected []string, keyField string) []string {
	if len(selected) > 0 {
		return selected
	}

	seen := make(map[string]bool)

	for _, rec := range records {
		for k := range rec {
			seen[k] = true
		}
	}

	cols := make([]string, 0, len(seen))

	for k := range seen {
		if k != keyField {
			cols = append(cols, k)
		}
	}

	sort.Strings(cols)

	if seen[keyField] {
		cols = slices.Insert(cols, 0, keyField)
	}

	return cols
}

// printRecords renders a collection in the requested format.
func printRecords(w io.Writer, output string, records []odata.Record, selected []string, keyField string) error {
	cleaned := make([]odata.Record, len(records))
	for i, rec := range records {
		cleaned[i] = cleanRecord(rec)
	}

	if ok, err := writeStructured(w, output, cleaned); ok {
		return err
	}

	cols := recordColumns(cleaned, selected, keyField)
	rows := make([][]string, 0, len(cleaned))

	for _, rec := range cleaned {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = formatCell(rec[c])
		}

		rows = append(rows, row)
	}

	return printTable(w, cols, rows)
}

// printRecord renders one entity as a property/value table.
func printRecord(w io.Writer, output string, rec odata.Record) error {
	rec = cleanRecord(rec)

	if ok, err := writeStructured(w, output, rec); ok {
		return err
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, formatCell(rec[k])})
	}

	return printTable(w, []string{"Property", "Value"}, rows)
}

// odataDate matches the "/Date(1700000000000)/" timestamps Exact returns.
var odataDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// formatCell renders one property value for a table cell.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if m := odataDate.FindStringSubmatch(val); m != nil {
			if ms, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return time.UnixMilli(ms).UTC().Format(time.RFC3339)
			}
		}

		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}

		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
