package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// renderRows writes rows as a table, a markdown table or JSON objects
// keyed by header.
func renderRows(w io.Writer, format string, header []string, rows [][]any) error {
	if format == "json" {
		objs := make([]map[string]any, len(rows))
		for i, row := range rows {
			obj := make(map[string]any, len(header))
			for j, col := range header {
				obj[col] = row[j]
			}
			objs[i] = obj
		}
		return renderJSON(w, objs)
	}

	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(header))
	for i, col := range header {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, v := range row {
			r[i] = formatValue(v)
		}
		t.AppendRow(r)
	}

	if format == "markdown" {
		t.RenderMarkdown()
		return nil
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Local().Format(time.DateTime)
	case *time.Time:
		if x == nil {
			return ""
		}
		return formatValue(*x)
	case time.Duration:
		return x.Round(time.Millisecond).String()
	default:
		return fmt.Sprint(v)
	}
}
