// Package report flattens lineage results into report rows and renders them.
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/impalineage/internal/lineage"
)

// ErrUnknownFormat is returned for a format outside the supported set.
var ErrUnknownFormat = errors.New("unknown report format")

// Format selects the report layout.
type Format string

const (
	// FormatCSV is the legacy headerless layout, lists joined with '#'.
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format name. "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatTable, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Ext returns the file extension used when a report is stored.
func (f Format) Ext() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMarkdown:
		return "md"
	case FormatTable:
		return "txt"
	default:
		return "csv"
	}
}

// ContentType returns the MIME type of a rendered report.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatTable:
		return "text/plain; charset=utf-8"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Row is the report line of one task.
type Row struct {
	ID                    string   `json:"id"`
	Users                 []string `json:"users"`
	MaxMemoryGB           float64  `json:"max_memory_gb"`
	TotalDurationSec      float64  `json:"total_duration_sec"`
	MaxDurationSec        float64  `json:"max_duration_sec"`
	TotalAdmissionWaitSec float64  `json:"total_admission_wait_sec"`
	MaxAdmissionWaitSec   float64  `json:"max_admission_wait_sec"`
	TotalInputBytes       int64    `json:"total_input_bytes"`
	TotalOutputBytes      int64    `json:"total_output_bytes"`
	MaxInputBytes         int64    `json:"max_input_bytes"`
	MaxOutputBytes        int64    `json:"max_output_bytes"`
	FileFormats           []string `json:"file_formats"`
	ResourcePools         []string `json:"resource_pools"`
	ResolvedSources       int      `json:"resolved_sources"`
	MissingSources        int      `json:"missing_sources"`
	MissingTables         int      `json:"missing_tables"`
	Queries               int      `json:"queries"`
}

// FromResult flattens one lineage result.
func FromResult(res *lineage.Result) Row {
	m := res.Metrics
	return Row{
		ID:                    res.ID,
		Users:                 m.Users,
		MaxMemoryGB:           m.MaxMemoryGB,
		TotalDurationSec:      m.TotalDurationSec,
		MaxDurationSec:        m.MaxDurationSec,
		TotalAdmissionWaitSec: m.TotalAdmissionWaitSec,
		MaxAdmissionWaitSec:   m.MaxAdmissionWaitSec,
		TotalInputBytes:       m.TotalInputBytes,
		TotalOutputBytes:      m.TotalOutputBytes,
		MaxInputBytes:         m.MaxInputBytes,
		MaxOutputBytes:        m.MaxOutputBytes,
		FileFormats:           m.FileFormats,
		ResourcePools:         m.ResourcePools,
		ResolvedSources:       len(res.ResolvedSources),
		MissingSources:        len(res.MissingSources()),
		MissingTables:         len(res.Missing),
		Queries:               res.QueryCount(),
	}
}

// Rows flattens results in order.
func Rows(results []*lineage.Result) []Row {
	rows := make([]Row, 0, len(results))
	for _, res := range results {
		rows = append(rows, FromResult(res))
	}
	return rows
}
