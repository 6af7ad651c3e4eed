package lineage

import (
	"sort"
	"strconv"

	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/dag"
)

// Step is one statement of a chain.
type Step struct {
	Record *corpus.Record
	// Tables are the resolved tables this statement explains.
	Tables []string
	// Level is the execution level; 0 means it only reads sources. -1 when the
	// chain is cyclic.
	Level int
}

// Chain is the dependency graph between the statements of a result. An edge
// p -> c means c reads a table p wrote.
type Chain struct {
	res   *Result
	graph *dag.Graph[*corpus.Record]
	keys  map[*corpus.Record]string
	cycle []string
}

func recordKey(rec *corpus.Record) string {
	if rec.QueryID != "" {
		return rec.QueryID
	}
	return "#" + strconv.Itoa(rec.Seq)
}

// Chain builds the statement graph of the result.
func (r *Result) Chain() *Chain {
	c := &Chain{
		res:   r,
		graph: dag.NewGraph[*corpus.Record](),
		keys:  make(map[*corpus.Record]string),
	}
	queries := r.Queries()
	for _, rec := range queries {
		key := recordKey(rec)
		c.keys[rec] = key
		c.graph.AddNode(key, rec)
	}
	for _, rec := range queries {
		for _, src := range rec.Sources {
			producer, ok := r.Resolved[src]
			if !ok || producer == rec {
				continue
			}
			// Both ends are resolved records, and self reads are skipped above.
			_ = c.graph.AddEdge(c.keys[producer], c.keys[rec])
		}
	}
	if cyclic, path := c.graph.HasCycle(); cyclic {
		c.cycle = path
	}
	return c
}

// Len returns the number of statements.
func (c *Chain) Len() int { return c.graph.NodeCount() }

// Cycle returns the statement ids of a dependency loop, or nil when the chain is acyclic.
func (c *Chain) Cycle() []string { return c.cycle }

// Entries returns the statements that read no resolved table.
func (c *Chain) Entries() []string { return c.graph.GetRoots() }

// Finals returns the statements no other statement of the chain reads from.
func (c *Chain) Finals() []string { return c.graph.GetLeaves() }

// Upstream returns the statements a statement transitively depends on.
func (c *Chain) Upstream(queryID string) []string { return c.graph.GetUpstreamNodes(queryID) }

// Steps returns the statements in execution order, dependencies first. A cyclic
// chain has no such order; its steps come in ingestion order with Level -1.
func (c *Chain) Steps() []Step {
	res := c.res
	tablesOf := make(map[*corpus.Record][]string)
	for _, t := range res.ResolvedTables() {
		rec := res.Resolved[t]
		tablesOf[rec] = append(tablesOf[rec], t)
	}

	levels, err := c.graph.GetExecutionLevels()
	if err != nil {
		steps := make([]Step, 0, c.Len())
		for _, rec := range res.Queries() {
			steps = append(steps, Step{Record: rec, Tables: tablesOf[rec], Level: -1})
		}
		return steps
	}

	order, _ := c.graph.TopologicalSort()
	levelOf := make(map[string]int, len(order))
	for l, ids := range levels {
		for _, id := range ids {
			levelOf[id] = l
		}
	}

	steps := make([]Step, 0, len(order))
	for _, node := range order {
		steps = append(steps, Step{Record: node.Data, Tables: tablesOf[node.Data], Level: levelOf[node.ID]})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Level < steps[j].Level })
	return steps
}
