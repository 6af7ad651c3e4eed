package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const listSep = "#"

var columns = []string{
	"ID", "Users", "Max Mem GB", "Total Duration s", "Max Duration s",
	"Admission Wait s", "Max Admission Wait s", "Input Bytes", "Output Bytes",
	"File Formats", "Pools", "Sources Found", "Sources Missing", "Tables Missing", "Queries",
}

// Render writes rows to w in the given format.
func Render(w io.Writer, format Format, rows []Row) error {
	switch format {
	case FormatCSV, "":
		return renderCSV(w, rows)
	case FormatJSON:
		return renderJSON(w, rows)
	case FormatTable:
		return renderTable(w, rows)
	case FormatMarkdown:
		return renderMarkdown(w, rows)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// renderCSV writes the legacy layout: id, users, max memory, total duration, max
// duration, total admission wait, input bytes, output bytes, file formats, pools,
// sources found, sources missing, query count.
func renderCSV(w io.Writer, rows []Row) error {
	for _, r := range rows {
		values := []string{
			r.ID,
			strings.Join(r.Users, listSep),
			formatFloat(r.MaxMemoryGB),
			formatFloat(r.TotalDurationSec),
			formatFloat(r.MaxDurationSec),
			formatFloat(r.TotalAdmissionWaitSec),
			strconv.FormatInt(r.TotalInputBytes, 10),
			strconv.FormatInt(r.TotalOutputBytes, 10),
			strings.Join(r.FileFormats, listSep),
			strings.Join(r.ResourcePools, listSep),
			strconv.Itoa(r.ResolvedSources),
			strconv.Itoa(r.MissingSources),
			strconv.Itoa(r.Queries),
		}
		for i, v := range values {
			values[i] = escapeCSV(v)
		}
		if _, err := fmt.Fprintln(w, strings.Join(values, ",")); err != nil {
			return err
		}
	}
	return nil
}

func renderJSON(w io.Writer, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func newTable(rows []Row) table.Writer {
	t := table.NewWriter()
	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	t.AppendHeader(header)

	for _, r := range rows {
		t.AppendRow(table.Row{
			r.ID,
			strings.Join(r.Users, ", "),
			formatFloat(r.MaxMemoryGB),
			formatFloat(r.TotalDurationSec),
			formatFloat(r.MaxDurationSec),
			formatFloat(r.TotalAdmissionWaitSec),
			formatFloat(r.MaxAdmissionWaitSec),
			r.TotalInputBytes,
			r.TotalOutputBytes,
			strings.Join(r.FileFormats, ", "),
			strings.Join(r.ResourcePools, ", "),
			r.ResolvedSources,
			r.MissingSources,
			r.MissingTables,
			r.Queries,
		})
	}

	aligned := make([]table.ColumnConfig, 0, len(columns)-3)
	for i := 2; i < len(columns); i++ {
		if i == 9 || i == 10 {
			continue
		}
		aligned = append(aligned, table.ColumnConfig{Number: i + 1, Align: text.AlignRight})
	}
	t.SetColumnConfigs(aligned)
	return t
}

func renderTable(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 tasks)")
		return nil
	}
	t := newTable(rows)
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d tasks)\n", len(rows))
	return nil
}

func renderMarkdown(w io.Writer, rows []Row) error {
	t := newTable(rows)
	_, err := fmt.Fprintln(w, t.RenderMarkdown())
	return err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// escapeCSV quotes a field containing a separator, quote or line break.
func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
