package lineage

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/metrics"
	"github.com/leapstack-labs/impalineage/internal/tasks"
	"github.com/leapstack-labs/impalineage/internal/testutil"
	"github.com/leapstack-labs/impalineage/pkg/analyzer"
)

var strategies = []Strategy{DepthFirst, Stack}

func record(id string, sources, targets []string, m metrics.Statement) *corpus.Record {
	return corpus.NewRecord(id, "", analyzer.Result{Sources: sources, Targets: targets}, m)
}

var (
	m1 = metrics.Statement{DurationSec: 10, MemoryGB: 1.5, InputBytes: 100, OutputBytes: 50, User: "alice", ResourcePool: "root.etl", FileFormats: []string{"PARQUET"}}
	m2 = metrics.Statement{DurationSec: 2.5, MemoryGB: 4, AdmissionWaitSec: 0.5, InputBytes: 50, OutputBytes: 10, User: "bob", ResourcePool: "root.etl"}
)

// chainIndex is db.t1 -> db.t2 -> db.t3.
func chainIndex() *corpus.Index {
	return corpus.NewIndex(
		record("q1", []string{"db.t1"}, []string{"db.t2"}, m1),
		record("q2", []string{"db.t2"}, []string{"db.t3"}, m2),
	)
}

func search(t *testing.T, ix Index, task tasks.Descriptor, opts Options) *Result {
	t.Helper()
	opts.Logger = testutil.NewTestLogger(t)
	res, err := Search(ix, task, opts)
	require.NoError(t, err)
	return res
}

func TestSearch_Scenarios(t *testing.T) {
	tests := []struct {
		name                string
		task                tasks.Descriptor
		opts                Options
		wantResolved        []string
		wantResolvedSources []string
		wantMissing         []string
		wantMissingSources  []string
		wantMetrics         metrics.Aggregate
	}{
		{
			name:                "chain ends at declared source",
			task:                tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}, Sources: []string{"db.t1"}},
			wantResolved:        []string{"db.t2", "db.t3"},
			wantResolvedSources: []string{"db.t1"},
			wantMetrics:         metrics.Merged(metrics.ForStatement(m1), metrics.ForStatement(m2)),
		},
		{
			name:         "undeclared unknown input is missing",
			task:         tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}},
			wantResolved: []string{"db.t2", "db.t3"},
			wantMissing:  []string{"db.t1"},
			wantMetrics:  metrics.Merged(metrics.ForStatement(m1), metrics.ForStatement(m2)),
		},
		{
			name:                "source compared without database",
			task:                tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}, Sources: []string{"t1"}},
			opts:                Options{IgnoreSourceDatabase: true},
			wantResolved:        []string{"db.t2", "db.t3"},
			wantResolvedSources: []string{"t1"},
			wantMetrics:         metrics.Merged(metrics.ForStatement(m1), metrics.ForStatement(m2)),
		},
		{
			name:                "qualified source does not match without the option",
			task:                tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}, Sources: []string{"t1"}},
			wantResolved:        []string{"db.t2", "db.t3"},
			wantMissing:         []string{"db.t1"},
			wantMissingSources:  []string{"t1"},
			wantMetrics:         metrics.Merged(metrics.ForStatement(m1), metrics.ForStatement(m2)),
			wantResolvedSources: nil,
		},
		{
			name:                "indexed declared source is terminal",
			task:                tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}, Sources: []string{"db.t2"}},
			wantResolved:        []string{"db.t3"},
			wantResolvedSources: []string{"db.t2"},
			wantMetrics:         metrics.ForStatement(m2),
		},
		{
			name:                "target that is a declared source",
			task:                tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}, Sources: []string{"db.t3"}},
			wantResolvedSources: []string{"db.t3"},
		},
		{
			name:               "unknown target is missing",
			task:               tasks.Descriptor{ID: "job1", Targets: []string{"db.nope"}, Sources: []string{"db.t1"}},
			wantMissing:        []string{"db.nope"},
			wantMissingSources: []string{"db.t1"},
		},
		{
			name: "no targets yields an empty result",
			task: tasks.Descriptor{ID: "job1", Sources: []string{"db.t1"}},
			// The declared source was never reached.
			wantMissingSources: []string{"db.t1"},
		},
		{
			name:                "names are normalised",
			task:                tasks.Descriptor{ID: "job1", Targets: []string{" DB.T3 "}, Sources: []string{"Db.T1"}},
			wantResolved:        []string{"db.t2", "db.t3"},
			wantResolvedSources: []string{"db.t1"},
			wantMetrics:         metrics.Merged(metrics.ForStatement(m1), metrics.ForStatement(m2)),
		},
	}

	for _, tt := range tests {
		for _, strategy := range strategies {
			t.Run(fmt.Sprintf("%s/%s", tt.name, strategy), func(t *testing.T) {
				opts := tt.opts
				opts.Strategy = strategy
				res := search(t, chainIndex(), tt.task, opts)

				assert.Equal(t, "job1", res.ID)
				assert.Equal(t, tt.wantResolved, nilIfEmpty(res.ResolvedTables()))
				assert.Equal(t, tt.wantResolvedSources, res.ResolvedSources)
				assert.Equal(t, tt.wantMissing, res.Missing)
				assert.Equal(t, tt.wantMissingSources, res.MissingSources())
				assert.Equal(t, tt.wantMetrics, res.Metrics)
				assert.Equal(t, len(tt.wantResolved), res.QueryCount())
			})
		}
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestSearch_Cycle(t *testing.T) {
	ix := corpus.NewIndex(
		record("qa", []string{"db.b"}, []string{"db.a"}, m1),
		record("qb", []string{"db.a", "db.raw"}, []string{"db.b"}, m2),
	)

	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			res := search(t, ix, tasks.Descriptor{ID: "loop", Targets: []string{"db.a"}, Sources: []string{"db.raw"}},
				Options{Strategy: strategy})

			assert.Equal(t, []string{"db.a", "db.b"}, res.ResolvedTables())
			assert.Equal(t, 2, res.QueryCount())
			assert.Equal(t, []string{"db.raw"}, res.ResolvedSources)
			assert.Empty(t, res.Missing)

			chain := res.Chain()
			assert.Equal(t, 2, chain.Len())
			require.NotEmpty(t, chain.Cycle())
			for _, step := range chain.Steps() {
				assert.Equal(t, -1, step.Level)
			}
		})
	}
}

func TestSearch_ExclusionByNameOrKeyword(t *testing.T) {
	ix := corpus.NewIndex(
		record("q1", []string{"stg.orders", "dim.static_calendar"}, []string{"dw.orders"}, m1),
		record("q2", []string{"tmp.scratch"}, []string{"dim.static_calendar"}, m2),
	)
	task := tasks.Descriptor{ID: "job", Targets: []string{"dw.orders"}, Sources: []string{"stg.orders"}}

	byName := search(t, ix, task, Options{ExcludeTables: []string{"dim.static_calendar"}})
	byKeyword := search(t, ix, task, Options{ExcludeKeywords: []string{"STATIC"}})
	none := search(t, ix, task, Options{})

	for name, res := range map[string]*Result{"name": byName, "keyword": byKeyword} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, []string{"dw.orders"}, res.ResolvedTables())
			assert.Equal(t, []string{"dim.static_calendar"}, res.Excluded)
			assert.Empty(t, res.Missing)
			assert.Equal(t, metrics.ForStatement(m1), res.Metrics)
		})
	}
	assert.Equal(t, byName.ResolvedTables(), byKeyword.ResolvedTables())
	assert.Equal(t, byName.Missing, byKeyword.Missing)

	assert.Equal(t, []string{"dim.static_calendar", "dw.orders"}, none.ResolvedTables())
	assert.Equal(t, []string{"tmp.scratch"}, none.Missing)
}

func TestSearch_ExcludedMissingTableIsSilent(t *testing.T) {
	ix := corpus.NewIndex(record("q1", []string{"ref.countries", "stg.x"}, []string{"dw.t"}, m1))

	res := search(t, ix, tasks.Descriptor{ID: "job", Targets: []string{"dw.t"}, Sources: []string{"stg.x"}},
		Options{ExcludeTables: []string{"ref.countries"}})
	assert.Empty(t, res.Missing)
	assert.Equal(t, []string{"ref.countries"}, res.Excluded)
}

func TestSearch_DeclaredSourceWinsOverExclusion(t *testing.T) {
	ix := chainIndex()
	res := search(t, ix, tasks.Descriptor{ID: "job", Targets: []string{"db.t3"}, Sources: []string{"db.t2"}},
		Options{ExcludeKeywords: []string{"t2"}})

	assert.Equal(t, []string{"db.t2"}, res.ResolvedSources)
	assert.Empty(t, res.Excluded)
}

func TestSearch_SkipFullyExcluded(t *testing.T) {
	ix := corpus.NewIndex(
		record("q1", []string{"tmp.a", "tmp.b"}, []string{"dw.staging"}, m1),
		record("q2", []string{"dw.staging", "stg.src"}, []string{"dw.final"}, m2),
	)
	task := tasks.Descriptor{ID: "job", Targets: []string{"dw.final"}, Sources: []string{"stg.src"}}

	res := search(t, ix, task, Options{ExcludeKeywords: []string{"tmp."}, SkipFullyExcluded: true})
	assert.Equal(t, []string{"dw.final"}, res.ResolvedTables())
	assert.Equal(t, []string{"dw.staging"}, res.Excluded)

	res = search(t, ix, task, Options{ExcludeKeywords: []string{"tmp."}})
	assert.Equal(t, []string{"dw.final", "dw.staging"}, res.ResolvedTables())
	assert.Equal(t, []string{"tmp.a", "tmp.b"}, res.Excluded)
}

func TestSearch_MultiTargetStatementCountedOnce(t *testing.T) {
	ix := corpus.NewIndex(
		record("multi", []string{"stg.src"}, []string{"dw.a", "dw.b"}, m1),
	)
	res := search(t, ix, tasks.Descriptor{ID: "job", Targets: []string{"dw.a", "dw.b"}, Sources: []string{"stg.src"}}, Options{})

	assert.Equal(t, []string{"dw.a", "dw.b"}, res.ResolvedTables())
	assert.Equal(t, 1, res.QueryCount())
	assert.Equal(t, metrics.ForStatement(m1), res.Metrics)
	assert.True(t, res.Complete())
}

func TestSearcher_RunIsIdempotent(t *testing.T) {
	s, err := NewSearcher(chainIndex(), Options{})
	require.NoError(t, err)
	task := tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}}

	first := s.Run(task)
	second := s.Run(task)
	assert.Equal(t, first, second)
}

func TestSearcher_ConcurrentRuns(t *testing.T) {
	s, err := NewSearcher(chainIndex(), Options{Strategy: DepthFirst})
	require.NoError(t, err)

	want := s.Run(tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}, Sources: []string{"db.t1"}})

	var wg sync.WaitGroup
	results := make([]*Result, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Run(tasks.Descriptor{ID: "job1", Targets: []string{"db.t3"}, Sources: []string{"db.t1"}})
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

// TestSearch_StrategiesAgree compares both strategies over generated lineage
// graphs with cycles, shared inputs, exclusions and unknown tables.
func TestSearch_StrategiesAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for round := 0; round < 25; round++ {
		const tables = 40
		name := func(i int) string { return fmt.Sprintf("db.t%02d", i) }

		var records []*corpus.Record
		for i := 0; i < 60; i++ {
			var sources []string
			for n := rng.IntN(4) + 1; n > 0; n-- {
				sources = append(sources, name(rng.IntN(tables+10)))
			}
			targets := []string{name(rng.IntN(tables))}
			if rng.IntN(5) == 0 {
				targets = append(targets, name(rng.IntN(tables)))
			}
			m := metrics.Statement{
				DurationSec:      rng.Float64() * 100,
				MemoryGB:         rng.Float64() * 8,
				AdmissionWaitSec: rng.Float64(),
				InputBytes:       rng.Int64N(1 << 30),
				OutputBytes:      rng.Int64N(1 << 30),
				User:             fmt.Sprintf("user%d", rng.IntN(3)),
				ResourcePool:     fmt.Sprintf("pool%d", rng.IntN(2)),
			}
			records = append(records, record(fmt.Sprintf("q%03d", i),
				dedupe(sources), dedupe(targets), m))
		}
		ix := corpus.NewIndex(records...)

		task := tasks.Descriptor{
			ID:      fmt.Sprintf("round%d", round),
			Targets: []string{name(rng.IntN(tables)), name(rng.IntN(tables))},
			Sources: []string{name(rng.IntN(tables + 10)), name(rng.IntN(tables + 10))},
		}
		opts := Options{
			ExcludeTables:        []string{name(rng.IntN(tables))},
			ExcludeKeywords:      []string{fmt.Sprintf("t%d7", rng.IntN(4))},
			IgnoreSourceDatabase: round%2 == 0,
		}

		opts.Strategy = DepthFirst
		dfs := search(t, ix, task, opts)
		opts.Strategy = Stack
		stack := search(t, ix, task, opts)

		assert.Equal(t, dfs.ResolvedTables(), stack.ResolvedTables(), "round %d", round)
		assert.Equal(t, dfs.ResolvedSources, stack.ResolvedSources, "round %d", round)
		assert.Equal(t, dfs.Missing, stack.Missing, "round %d", round)
		assert.Equal(t, dfs.Excluded, stack.Excluded, "round %d", round)
		assert.Equal(t, dfs.Metrics, stack.Metrics, "round %d", round)
		assert.Equal(t, dfs.QueryCount(), stack.QueryCount(), "round %d", round)
	}
}

func dedupe(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func TestChain_Steps(t *testing.T) {
	ix := corpus.NewIndex(
		record("load", []string{"stg.raw"}, []string{"dw.clean"}, m1),
		record("dims", []string{"stg.dim"}, []string{"dw.dim"}, m1),
		record("join", []string{"dw.clean", "dw.dim"}, []string{"dw.joined"}, m2),
		record("agg", []string{"dw.joined", "dw.clean"}, []string{"mart.kpi"}, m2),
	)
	res := search(t, ix, tasks.Descriptor{ID: "job", Targets: []string{"mart.kpi"}, Sources: []string{"stg.raw", "stg.dim"}}, Options{})

	chain := res.Chain()
	assert.Nil(t, chain.Cycle())
	assert.Equal(t, []string{"dims", "load"}, chain.Entries())
	assert.Equal(t, []string{"agg"}, chain.Finals())
	assert.Equal(t, []string{"dims", "join", "load"}, chain.Upstream("agg"))

	var ids []string
	var levels []int
	for _, s := range chain.Steps() {
		ids = append(ids, s.Record.QueryID)
		levels = append(levels, s.Level)
	}
	assert.Equal(t, []string{"dims", "load", "join", "agg"}, ids)
	assert.Equal(t, []int{0, 0, 1, 2}, levels)
	assert.Equal(t, []string{"mart.kpi"}, chain.Steps()[3].Tables)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Stack, s)

	s, err = ParseStrategy("DFS")
	require.NoError(t, err)
	assert.Equal(t, DepthFirst, s)

	_, err = ParseStrategy("bfs")
	require.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = NewSearcher(chainIndex(), Options{Strategy: "bogus"})
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestResult_QueryCountMultiTargetStatement(t *testing.T) {
	ix := corpus.NewIndex(
		record("q1", []string{"raw.a"}, []string{"stg.a", "stg.b"}, metrics.Statement{DurationSec: 2}),
		record("q2", []string{"stg.a", "stg.b"}, []string{"dw.c"}, metrics.Statement{DurationSec: 1}),
	)
	task := tasks.Descriptor{ID: "c", Targets: []string{"dw.c"}, Sources: []string{"raw.a"}}

	for _, strategy := range []Strategy{DepthFirst, Stack} {
		res := search(t, ix, task, Options{Strategy: strategy})
		assert.Equal(t, []string{"dw.c", "stg.a", "stg.b"}, res.ResolvedTables(), string(strategy))
		assert.Equal(t, 2, res.QueryCount(), string(strategy))
		assert.InDelta(t, 3.0, res.Metrics.TotalDurationSec, 1e-9, string(strategy))
	}
}
