// Package corpus turns the cluster manager's query history into a target index:
// a map from every written table to the statement that most recently wrote it.
package corpus

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/impalineage/internal/metrics"
	"github.com/leapstack-labs/impalineage/pkg/analyzer"
)

// Attribute names of a query history record.
const (
	AttrMemoryPerNodePeak = "memory_per_node_peak"
	AttrAdmissionWait     = "admission_wait"
	AttrHDFSBytesRead     = "hdfs_bytes_read"
	AttrHDFSBytesWritten  = "hdfs_bytes_written"
	AttrFileFormats       = "file_formats"
	AttrPool              = "pool"
)

// TruncationMarker ends statements the query list shortened.
const TruncationMarker = "..."

const bytesPerGB = 1024 * 1024 * 1024

// RawRecord is one query as delivered by the query history feed.
type RawRecord struct {
	QueryID        string            `json:"queryId"`
	Statement      string            `json:"statement"`
	User           string            `json:"user"`
	DurationMillis float64           `json:"durationMillis"`
	Attributes     map[string]string `json:"attributes"`
}

// Truncated reports whether the statement text was shortened by the feed.
func (r RawRecord) Truncated() bool {
	return strings.HasSuffix(strings.TrimSpace(r.Statement), TruncationMarker)
}

// Metrics extracts the statement metrics. Absent or unparseable attributes count as zero.
func (r RawRecord) Metrics() metrics.Statement {
	s := metrics.Statement{
		DurationSec:      r.DurationMillis / 1000,
		MemoryGB:         r.floatAttr(AttrMemoryPerNodePeak) / bytesPerGB,
		AdmissionWaitSec: r.floatAttr(AttrAdmissionWait) / 1000,
		InputBytes:       r.intAttr(AttrHDFSBytesRead),
		OutputBytes:      r.intAttr(AttrHDFSBytesWritten),
		ResourcePool:     strings.TrimSpace(r.Attributes[AttrPool]),
		User:             strings.TrimSpace(r.User),
	}
	if formats := r.Attributes[AttrFileFormats]; formats != "" {
		for _, f := range strings.Split(formats, ",") {
			if f = strings.TrimSpace(f); f != "" {
				s.FileFormats = append(s.FileFormats, f)
			}
		}
	}
	return s
}

func (r RawRecord) floatAttr(name string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Attributes[name]), 64)
	if err != nil {
		return 0
	}
	return v
}

func (r RawRecord) intAttr(name string) int64 {
	raw := strings.TrimSpace(r.Attributes[name])
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	// Some versions report byte counters as floats.
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(f)
	}
	return 0
}

// Record is an analyzed statement. Records are immutable once created and may be
// shared by several index entries and task results.
type Record struct {
	QueryID   string
	Statement string
	Sources   []string
	Targets   []string
	Metrics   metrics.Aggregate
	// Seq is the position of the record in ingestion order.
	Seq int
}

// NewRecord builds a record from an analyzer result and the statement metrics.
func NewRecord(queryID, statement string, res analyzer.Result, m metrics.Statement) *Record {
	return &Record{
		QueryID:   queryID,
		Statement: statement,
		Sources:   res.Sources,
		Targets:   res.Targets,
		Metrics:   metrics.ForStatement(m),
	}
}

// Indexable reports whether the record both reads and writes tables.
func (r *Record) Indexable() bool {
	return len(r.Sources) > 0 && len(r.Targets) > 0
}
