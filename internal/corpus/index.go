package corpus

import "sort"

// Index maps target tables to the record that last wrote them.
// It is built once by ingestion and read-only afterwards, so concurrent lookups
// need no locking.
type Index struct {
	byTarget map[string]*Record
	records  int
}

// NewIndex builds an index from records in the given order. Later records replace
// earlier ones for every target they share. Records that do not both read and
// write tables are ignored, as are nil records.
//
// The index holds copies, so the caller's records are never modified. A copy
// without a sequence number gets its position in records.
func NewIndex(records ...*Record) *Index {
	ix := newIndex()
	for i, r := range records {
		if r == nil {
			continue
		}
		rec := *r
		if rec.Seq == 0 {
			rec.Seq = i + 1
		}
		ix.put(&rec)
	}
	return ix
}

func newIndex() *Index {
	return &Index{byTarget: make(map[string]*Record)}
}

// put inserts r under each of its targets and returns how many entries it replaced.
func (ix *Index) put(r *Record) int {
	if !r.Indexable() {
		return 0
	}
	replaced := 0
	for _, t := range r.Targets {
		if _, ok := ix.byTarget[t]; ok {
			replaced++
		}
		ix.byTarget[t] = r
	}
	ix.records++
	return replaced
}

// Lookup returns the record that last wrote table.
func (ix *Index) Lookup(table string) (*Record, bool) {
	if ix == nil {
		return nil, false
	}
	r, ok := ix.byTarget[table]
	return r, ok
}

// Len returns the number of indexed target tables.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.byTarget)
}

// Tables returns the indexed target tables in sorted order.
func (ix *Index) Tables() []string {
	if ix == nil {
		return nil
	}
	tables := make([]string, 0, len(ix.byTarget))
	for t := range ix.byTarget {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// Records returns the distinct records still referenced by the index, in ingestion order.
func (ix *Index) Records() []*Record {
	if ix == nil {
		return nil
	}
	seen := make(map[*Record]bool, len(ix.byTarget))
	out := make([]*Record, 0, len(ix.byTarget))
	for _, r := range ix.byTarget {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
