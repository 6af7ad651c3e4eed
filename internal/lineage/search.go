package lineage

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/metrics"
	"github.com/leapstack-labs/impalineage/internal/tasks"
)

// ErrUnknownStrategy is returned for a strategy name outside the supported set.
var ErrUnknownStrategy = errors.New("unknown search strategy")

// Strategy selects the traversal order.
type Strategy string

const (
	// DepthFirst visits each dependency fully before its siblings.
	DepthFirst Strategy = "dfs"
	// Stack pushes all dependencies on a pending list and pops them one at a time.
	Stack Strategy = "stack"
)

// ParseStrategy validates a strategy name. An empty name selects Stack.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Stack, "wfs":
		return Stack, nil
	case DepthFirst:
		return DepthFirst, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Classification is the state a table ends up in during one run.
type Classification int

const (
	Resolved Classification = iota
	Terminal
	Missing
	Excluded
)

func (c Classification) String() string {
	switch c {
	case Resolved:
		return "resolved"
	case Terminal:
		return "terminal"
	case Missing:
		return "missing"
	case Excluded:
		return "excluded"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// Index is the read-only view of the target index a search needs.
type Index interface {
	Lookup(table string) (*corpus.Record, bool)
}

// Options configures a Searcher.
type Options struct {
	Strategy Strategy
	// ExcludeTables are never resolved nor reported missing.
	ExcludeTables []string
	// ExcludeKeywords exclude every table whose name contains one of them.
	ExcludeKeywords []string
	// IgnoreSourceDatabase compares candidates to declared sources by table name only.
	IgnoreSourceDatabase bool
	// SkipFullyExcluded treats an indexed table as excluded when every input of
	// its statement is excluded.
	SkipFullyExcluded bool
	Logger            *slog.Logger
}

// Searcher runs lineage searches against one index. It holds no per-run state, so
// one Searcher may serve concurrent runs.
type Searcher struct {
	index             Index
	strategy          Strategy
	excluded          map[string]struct{}
	keywords          []string
	ignoreSourceDB    bool
	skipFullyExcluded bool
	logger            *slog.Logger
}

// NewSearcher creates a searcher over index.
func NewSearcher(index Index, opts Options) (*Searcher, error) {
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	excluded := make(map[string]struct{}, len(opts.ExcludeTables))
	for _, t := range opts.ExcludeTables {
		if t = normalize(t); t != "" {
			excluded[t] = struct{}{}
		}
	}
	var keywords []string
	for _, k := range opts.ExcludeKeywords {
		if k = normalize(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	return &Searcher{
		index:             index,
		strategy:          strategy,
		excluded:          excluded,
		keywords:          keywords,
		ignoreSourceDB:    opts.IgnoreSourceDatabase,
		skipFullyExcluded: opts.SkipFullyExcluded,
		logger:            logger,
	}, nil
}

// Search is a convenience wrapper running one task with a fresh Searcher.
func Search(index Index, task tasks.Descriptor, opts Options) (*Result, error) {
	s, err := NewSearcher(index, opts)
	if err != nil {
		return nil, err
	}
	return s.Run(task), nil
}

// Strategy returns the traversal strategy in use.
func (s *Searcher) Strategy() Strategy { return s.strategy }

// IsExcluded reports whether table is excluded by name or keyword.
func (s *Searcher) IsExcluded(table string) bool {
	if _, ok := s.excluded[table]; ok {
		return true
	}
	for _, k := range s.keywords {
		if strings.Contains(table, k) {
			return true
		}
	}
	return false
}

func (s *Searcher) allExcluded(tables []string) bool {
	for _, t := range tables {
		if !s.IsExcluded(t) {
			return false
		}
	}
	return true
}

// Run searches the chain of one task. Every call starts from empty state.
func (s *Searcher) Run(task tasks.Descriptor) *Result {
	r := s.newRun(task)

	switch s.strategy {
	case DepthFirst:
		r.depthFirst()
	default:
		r.stack()
	}

	res := r.result()
	s.logger.Debug("lineage search complete",
		slog.String("task", task.ID),
		slog.String("strategy", string(s.strategy)),
		slog.Int("queries", res.QueryCount()),
		slog.Int("resolved_sources", len(res.ResolvedSources)),
		slog.Int("missing", len(res.Missing)))
	return res
}

// run is the private state of one search.
type run struct {
	s        *Searcher
	task     tasks.Descriptor
	targets  []string
	declared map[string]struct{}
	visited  map[string]Classification
	resolved map[string]*corpus.Record
	terminal map[string]struct{}
}

func (s *Searcher) newRun(task tasks.Descriptor) *run {
	r := &run{
		s:        s,
		task:     task,
		targets:  normalizeAll(task.Targets),
		declared: make(map[string]struct{}, len(task.Sources)),
		visited:  make(map[string]Classification),
		resolved: make(map[string]*corpus.Record),
		terminal: make(map[string]struct{}),
	}
	for _, src := range normalizeAll(task.Sources) {
		r.declared[src] = struct{}{}
	}
	return r
}

// sourceKey is the name under which table is matched against declared sources.
func (r *run) sourceKey(table string) string {
	if !r.s.ignoreSourceDB {
		return table
	}
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

func (r *run) isDeclaredSource(table string) bool {
	_, ok := r.declared[r.sourceKey(table)]
	return ok
}

func (r *run) classify(table string) (Classification, *corpus.Record) {
	rec, indexed := r.s.index.Lookup(table)
	excluded := r.s.IsExcluded(table)
	declared := r.isDeclaredSource(table)

	switch {
	case indexed && !excluded && !declared:
		if r.s.skipFullyExcluded && r.s.allExcluded(rec.Sources) {
			return Excluded, nil
		}
		return Resolved, rec
	case declared:
		return Terminal, nil
	case !indexed && !excluded:
		return Missing, nil
	default:
		return Excluded, nil
	}
}

// visit classifies table on first sight and returns the inputs to walk next.
func (r *run) visit(table string) []string {
	if _, seen := r.visited[table]; seen {
		return nil
	}
	c, rec := r.classify(table)
	r.visited[table] = c

	switch c {
	case Resolved:
		r.resolved[table] = rec
		return rec.Sources
	case Terminal:
		r.terminal[r.sourceKey(table)] = struct{}{}
	}
	return nil
}

// depthFirst walks with an explicit frame stack mirroring recursive descent.
func (r *run) depthFirst() {
	type frame struct {
		deps []string
		next int
	}
	for _, target := range r.targets {
		deps := r.visit(target)
		if len(deps) == 0 {
			continue
		}
		stack := []frame{{deps: deps}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(top.deps) {
				stack = stack[:len(stack)-1]
				continue
			}
			dep := top.deps[top.next]
			top.next++
			if next := r.visit(dep); len(next) > 0 {
				stack = append(stack, frame{deps: next})
			}
		}
	}
}

// stack pops pending tables until none are left.
func (r *run) stack() {
	pending := make([]string, 0, len(r.targets))
	for i := len(r.targets) - 1; i >= 0; i-- {
		pending = append(pending, r.targets[i])
	}
	for len(pending) > 0 {
		table := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		pending = append(pending, r.visit(table)...)
	}
}

func (r *run) result() *Result {
	res := &Result{
		ID:              r.task.ID,
		Targets:         r.targets,
		DeclaredSources: sortedSet(r.declared),
		Resolved:        r.resolved,
		ResolvedSources: sortedSet(r.terminal),
	}
	for table, c := range r.visited {
		switch c {
		case Missing:
			res.Missing = append(res.Missing, table)
		case Excluded:
			res.Excluded = append(res.Excluded, table)
		}
	}
	sort.Strings(res.Missing)
	sort.Strings(res.Excluded)

	var agg metrics.Aggregate
	for _, rec := range res.Queries() {
		agg.Merge(rec.Metrics)
	}
	res.Metrics = agg
	return res
}

func normalize(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

func normalizeAll(tables []string) []string {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if t = normalize(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return sortedSet(set)
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
