package lineage

import (
	"sort"

	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/metrics"
)

// Result is the outcome of one search. It is owned by the caller; the records it
// references are shared with the index and must not be modified.
type Result struct {
	ID              string
	Targets         []string
	DeclaredSources []string
	// Resolved maps every resolved table to the statement that wrote it.
	Resolved map[string]*corpus.Record
	// ResolvedSources are the declared sources the walk reached.
	ResolvedSources []string
	// Missing tables were referenced by the chain but nothing is known about them.
	Missing  []string
	Excluded []string
	Metrics  metrics.Aggregate
}

// ResolvedTables returns the resolved tables in sorted order.
func (r *Result) ResolvedTables() []string {
	tables := make([]string, 0, len(r.Resolved))
	for t := range r.Resolved {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// Queries returns the distinct resolved statements in ingestion order.
func (r *Result) Queries() []*corpus.Record {
	seen := make(map[*corpus.Record]bool, len(r.Resolved))
	out := make([]*corpus.Record, 0, len(r.Resolved))
	for _, rec := range r.Resolved {
		if seen[rec] {
			continue
		}
		seen[rec] = true
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].QueryID < out[j].QueryID
	})
	return out
}

// QueryCount returns the number of distinct resolved statements.
func (r *Result) QueryCount() int {
	return len(r.Queries())
}

// MissingSources returns the declared sources the walk never reached.
func (r *Result) MissingSources() []string {
	reached := make(map[string]bool, len(r.ResolvedSources))
	for _, s := range r.ResolvedSources {
		reached[s] = true
	}
	var out []string
	for _, s := range r.DeclaredSources {
		if !reached[s] {
			out = append(out, s)
		}
	}
	return out
}

// Complete reports whether every declared source was reached.
func (r *Result) Complete() bool {
	return len(r.MissingSources()) == 0
}
