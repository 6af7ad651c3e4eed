// Package metrics provides the resource-usage accumulator shared by query records
// and task results.
package metrics

import (
	"sort"
)

// Aggregate accumulates statement metrics. Numeric fields keep running sums or
// maxima and the categorical fields are set unions kept in sorted order, so two
// aggregates built from the same statements compare equal regardless of the
// order in which they were merged.
//
// The zero value is an empty aggregate ready for use.
type Aggregate struct {
	MaxMemoryGB           float64  `json:"max_memory_gb"`
	TotalDurationSec      float64  `json:"total_duration_sec"`
	MaxDurationSec        float64  `json:"max_duration_sec"`
	TotalAdmissionWaitSec float64  `json:"total_admission_wait_sec"`
	MaxAdmissionWaitSec   float64  `json:"max_admission_wait_sec"`
	TotalInputBytes       int64    `json:"total_input_bytes"`
	TotalOutputBytes      int64    `json:"total_output_bytes"`
	MaxInputBytes         int64    `json:"max_input_bytes"`
	MaxOutputBytes        int64    `json:"max_output_bytes"`
	FileFormats           []string `json:"file_formats,omitempty"`
	ResourcePools         []string `json:"resource_pools,omitempty"`
	Users                 []string `json:"users,omitempty"`
}

// Statement holds the metrics of a single executed statement.
// Absent values are zero or empty.
type Statement struct {
	DurationSec      float64
	MemoryGB         float64
	AdmissionWaitSec float64
	InputBytes       int64
	OutputBytes      int64
	FileFormats      []string
	ResourcePool     string
	User             string
}

// ForStatement returns an aggregate holding exactly one statement.
func ForStatement(s Statement) Aggregate {
	var a Aggregate
	a.RecordStatement(s)
	return a
}

// RecordStatement folds one statement into the aggregate.
func (a *Aggregate) RecordStatement(s Statement) {
	a.MaxMemoryGB = max(a.MaxMemoryGB, s.MemoryGB)
	a.TotalDurationSec += s.DurationSec
	a.MaxDurationSec = max(a.MaxDurationSec, s.DurationSec)
	a.TotalAdmissionWaitSec += s.AdmissionWaitSec
	a.MaxAdmissionWaitSec = max(a.MaxAdmissionWaitSec, s.AdmissionWaitSec)
	a.TotalInputBytes += s.InputBytes
	a.MaxInputBytes = max(a.MaxInputBytes, s.InputBytes)
	a.TotalOutputBytes += s.OutputBytes
	a.MaxOutputBytes = max(a.MaxOutputBytes, s.OutputBytes)

	a.FileFormats = union(a.FileFormats, s.FileFormats)
	if s.ResourcePool != "" {
		a.ResourcePools = union(a.ResourcePools, []string{s.ResourcePool})
	}
	if s.User != "" {
		a.Users = union(a.Users, []string{s.User})
	}
}

// Merge folds other into a using the same rules as RecordStatement.
// Every call counts other once; merging the same record twice double counts its sums.
func (a *Aggregate) Merge(other Aggregate) {
	a.MaxMemoryGB = max(a.MaxMemoryGB, other.MaxMemoryGB)
	a.TotalDurationSec += other.TotalDurationSec
	a.MaxDurationSec = max(a.MaxDurationSec, other.MaxDurationSec)
	a.TotalAdmissionWaitSec += other.TotalAdmissionWaitSec
	a.MaxAdmissionWaitSec = max(a.MaxAdmissionWaitSec, other.MaxAdmissionWaitSec)
	a.TotalInputBytes += other.TotalInputBytes
	a.MaxInputBytes = max(a.MaxInputBytes, other.MaxInputBytes)
	a.TotalOutputBytes += other.TotalOutputBytes
	a.MaxOutputBytes = max(a.MaxOutputBytes, other.MaxOutputBytes)
	a.FileFormats = union(a.FileFormats, other.FileFormats)
	a.ResourcePools = union(a.ResourcePools, other.ResourcePools)
	a.Users = union(a.Users, other.Users)
}

// Merged returns the merge of a and b without modifying either.
func Merged(a, b Aggregate) Aggregate {
	out := a.Clone()
	out.Merge(b)
	return out
}

// Clone returns a deep copy of the aggregate.
func (a Aggregate) Clone() Aggregate {
	out := a
	out.FileFormats = cloneStrings(a.FileFormats)
	out.ResourcePools = cloneStrings(a.ResourcePools)
	out.Users = cloneStrings(a.Users)
	return out
}

// IsZero reports whether nothing has been recorded.
func (a Aggregate) IsZero() bool {
	return a.MaxMemoryGB == 0 && a.TotalDurationSec == 0 && a.MaxDurationSec == 0 &&
		a.TotalAdmissionWaitSec == 0 && a.MaxAdmissionWaitSec == 0 &&
		a.TotalInputBytes == 0 && a.TotalOutputBytes == 0 &&
		a.MaxInputBytes == 0 && a.MaxOutputBytes == 0 &&
		len(a.FileFormats) == 0 && len(a.ResourcePools) == 0 && len(a.Users) == 0
}

// union returns the sorted, de-duplicated union of a and b.
// Empty strings are dropped. The result is nil when both are empty.
func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if s == "" {
			continue
		}
		seen[s] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
