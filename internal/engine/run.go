package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/lineage"
	"github.com/leapstack-labs/impalineage/internal/report"
	"github.com/leapstack-labs/impalineage/internal/state"
	"github.com/leapstack-labs/impalineage/internal/tasks"
)

// Run is the outcome of one lineage run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Window     corpus.Window
	Strategy   lineage.Strategy
	Stats      corpus.Stats
	// Results are in task order.
	Results []*lineage.Result
}

// Rows flattens the results into report rows.
func (r *Run) Rows() []report.Row {
	return report.Rows(r.Results)
}

// Incomplete returns the results that did not reach every declared source.
func (r *Run) Incomplete() []*lineage.Result {
	var out []*lineage.Result
	for _, res := range r.Results {
		if !res.Complete() {
			out = append(out, res)
		}
	}
	return out
}

// Ingest builds the target index for the configured window.
//
// Cancelling ctx stops ingestion early; the partial index is returned with a nil
// error and Stats.Partial set. A feed failure also leaves a partial index. It is
// returned with a nil error when partial indexes are allowed, otherwise the
// error wraps ErrPartialIndex.
func (e *Engine) Ingest(ctx context.Context) (*corpus.Index, corpus.Stats, error) {
	ingester := corpus.NewIngester(corpus.Config{
		Source:    e.source,
		Analyzer:  e.analyzer,
		Window:    e.window,
		BatchSize: e.batchSize,
		Logger:    e.logger,
	})

	ix, stats, err := ingester.Run(ctx)
	if !stats.Partial {
		return ix, stats, err
	}

	if err == nil {
		e.logger.Warn("ingestion cancelled, continuing with a partial target index",
			slog.Int("records", stats.Records),
			slog.Int("tables", stats.Tables),
			slog.String("cause", context.Cause(ctx).Error()))
		return ix, stats, nil
	}
	if !e.allowPartial {
		return nil, stats, fmt.Errorf("%w after %d records: %w", ErrPartialIndex, stats.Records, err)
	}
	e.logger.Warn("continuing with a partial target index",
		slog.Int("records", stats.Records),
		slog.Int("tables", stats.Tables),
		slog.String("cause", err.Error()))
	return ix, stats, nil
}

// Search runs every task against the index. Searches share the read-only index
// and run with bounded parallelism; results keep the order of list.
func (e *Engine) Search(ctx context.Context, index lineage.Index, list []tasks.Descriptor) ([]*lineage.Result, error) {
	searcher, err := lineage.NewSearcher(index, e.search)
	if err != nil {
		return nil, err
	}

	results := make([]*lineage.Result, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i, task := range list {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = searcher.Run(task)
			e.logger.Debug("task searched",
				slog.String("task", task.ID),
				slog.Int("resolved", len(results[i].Resolved)),
				slog.Int("missing", len(results[i].Missing)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search interrupted: %w", err)
	}
	return results, nil
}

// Run ingests, searches every task from src and archives the run when a store
// is configured. An archive failure is returned together with the finished run.
//
// ctx only bounds ingestion. Once the index is built, searching and archiving
// run to completion, so a run cancelled mid-ingestion finishes over the partial
// index with Stats.Partial set.
func (e *Engine) Run(ctx context.Context, src tasks.Source) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: e.now(),
		Window:    e.window,
		Strategy:  e.search.Strategy,
	}
	e.logger.Info("starting run",
		slog.String("run_id", run.ID),
		slog.String("from", e.window.From),
		slog.String("to", e.window.To))

	ix, stats, err := e.Ingest(ctx)
	run.Stats = stats
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	var list []tasks.Descriptor
	for src.HasNext() {
		list = append(list, src.Next())
	}

	results, err := e.Search(ctx, ix, list)
	if err != nil {
		return nil, err
	}
	run.Results = results
	run.FinishedAt = e.now()

	e.logger.Info("run completed",
		slog.String("run_id", run.ID),
		slog.Int("tasks", len(results)),
		slog.Int("incomplete", len(run.Incomplete())),
		slog.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))

	if e.store == nil {
		return run, nil
	}
	if err := e.store.SaveRun(ctx, state.Run{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		WindowFrom: run.Window.From,
		WindowTo:   run.Window.To,
		Strategy:   string(run.Strategy),
		Stats:      run.Stats,
	}, run.Rows()); err != nil {
		return run, fmt.Errorf("failed to archive run %s: %w", run.ID, err)
	}
	return run, nil
}
