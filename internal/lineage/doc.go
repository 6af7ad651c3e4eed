// Package lineage reconstructs the statement chain behind a job.
//
// A job declares the tables it writes (targets) and the tables it reads from
// outside its own processing (sources). Starting from the targets, a Searcher
// walks the target index backwards: every table written by an indexed statement
// is explained by that statement, and the walk continues from the statement's own
// inputs until it reaches a declared source.
//
// # Classification
//
// Every table the walk touches is classified exactly once:
//
//   - Resolved: indexed, not excluded and not a declared source. Its statement
//     joins the chain and its inputs are visited next.
//   - Terminal: a declared source. The walk stops here even when the table is
//     also indexed or excluded.
//   - Missing: not indexed, not excluded and not a declared source.
//   - Excluded: excluded by exact name or by keyword. Silently ignored.
//
// The per-run visited set bounds the walk on cyclic lineage.
//
// # Strategies
//
// DepthFirst and Stack visit tables in different orders but always produce the
// same classification and the same metrics rollup. The rollup is folded over
// the distinct resolved statements in ingestion order, not in discovery order.
//
// # Basic Usage
//
//	s, err := lineage.NewSearcher(index, lineage.Options{
//	    Strategy:        lineage.Stack,
//	    ExcludeKeywords: []string{"_bak"},
//	})
//	if err != nil {
//	    return err
//	}
//	res := s.Run(tasks.Descriptor{ID: "job1", Targets: []string{"dw.t3"}, Sources: []string{"stg.t1"}})
//	fmt.Println(res.QueryCount(), res.Missing)
package lineage
