package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/impalineage/pkg/analyzer"
)

// ErrSourceUnavailable wraps failures to talk to the query history feed.
var ErrSourceUnavailable = errors.New("query source unavailable")

// Analyzer extracts the tables read and written by a statement.
type Analyzer interface {
	Analyze(sql string) (analyzer.Result, error)
}

// Config configures an Ingester.
type Config struct {
	Source    Source
	Analyzer  Analyzer
	Window    Window
	BatchSize int
	Logger    *slog.Logger
}

// Stats summarises one ingestion.
type Stats struct {
	Records          int  `json:"records"`
	Indexed          int  `json:"indexed"`
	Replaced         int  `json:"replaced"`
	Refetched        int  `json:"refetched"`
	SkippedRefetch   int  `json:"skipped_refetch"`
	SkippedAnalysis  int  `json:"skipped_analysis"`
	SkippedNoLineage int  `json:"skipped_no_lineage"`
	Windows          int  `json:"windows"`
	Tables           int  `json:"tables"`
	Partial          bool `json:"partial"`
}

// Skipped returns the number of records that did not make it into the index.
func (s Stats) Skipped() int {
	return s.SkippedRefetch + s.SkippedAnalysis + s.SkippedNoLineage
}

// Ingester drains a Source into an Index.
type Ingester struct {
	source    Source
	analyzer  Analyzer
	window    Window
	batchSize int
	logger    *slog.Logger
}

// NewIngester creates an Ingester. A nil analyzer uses the default statement analyzer.
func NewIngester(cfg Config) *Ingester {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	an := cfg.Analyzer
	if an == nil {
		an = analyzer.New()
	}
	return &Ingester{
		source:    cfg.Source,
		analyzer:  an,
		window:    cfg.Window,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
}

// Run ingests the whole window and returns the resulting index.
//
// Per-record problems (a failed refetch of a truncated statement, a statement the
// analyzer rejects) are logged and skipped. A failure of the feed itself returns
// the index built so far together with an error wrapping ErrSourceUnavailable.
// Cancelling ctx stops ingestion and returns the partial index with
// Stats.Partial set and no error.
func (in *Ingester) Run(ctx context.Context) (*Index, Stats, error) {
	ix := newIndex()
	var stats Stats
	pager := NewPager(in.source, in.window, in.batchSize, in.logger)

	finish := func() {
		stats.Windows = pager.Windows()
		stats.Tables = ix.Len()
	}

	for {
		if ctx.Err() != nil {
			stats.Partial = true
			finish()
			in.logger.Warn("ingestion cancelled, index is partial",
				slog.Int("records", stats.Records),
				slog.Int("tables", ix.Len()))
			return ix, stats, nil
		}

		raw, ok, err := pager.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			stats.Partial = true
			finish()
			return ix, stats, fmt.Errorf("%w: fetching offset %d up to %s: %w",
				ErrSourceUnavailable, pager.Offset(), pager.WindowEnd(), err)
		}
		if !ok {
			break
		}
		stats.Records++

		rec, reason := in.decode(ctx, raw, &stats)
		if rec == nil {
			switch reason {
			case skipRefetch:
				stats.SkippedRefetch++
			case skipAnalysis:
				stats.SkippedAnalysis++
			case skipNoLineage:
				stats.SkippedNoLineage++
			}
			continue
		}

		rec.Seq = stats.Records
		stats.Replaced += ix.put(rec)
		stats.Indexed++
	}

	finish()
	in.logger.Info("ingestion complete",
		slog.Int("records", stats.Records),
		slog.Int("indexed", stats.Indexed),
		slog.Int("skipped", stats.Skipped()),
		slog.Int("tables", stats.Tables),
		slog.Int("windows", stats.Windows))
	return ix, stats, nil
}

type skipReason int

const (
	skipNone skipReason = iota
	skipRefetch
	skipAnalysis
	skipNoLineage
)

// decode turns a raw record into an indexable Record, or reports why it was skipped.
func (in *Ingester) decode(ctx context.Context, raw RawRecord, stats *Stats) (*Record, skipReason) {
	statement := raw.Statement
	if raw.Truncated() {
		in.logger.Debug("statement truncated, fetching details", slog.String("query_id", raw.QueryID))
		detail, err := in.source.FetchDetail(ctx, raw.QueryID)
		if err != nil {
			in.logger.Warn("failed to fetch query details, skipping record",
				slog.String("query_id", raw.QueryID),
				slog.String("error", err.Error()))
			return nil, skipRefetch
		}
		statement = detail.Statement
		stats.Refetched++
	}

	res, err := in.analyzer.Analyze(statement)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, analyzer.ErrUnsupportedStatement) {
			level = slog.LevelDebug
		}
		in.logger.Log(ctx, level, "failed to analyze statement, skipping record",
			slog.String("query_id", raw.QueryID),
			slog.String("error", err.Error()))
		return nil, skipAnalysis
	}

	rec := NewRecord(raw.QueryID, statement, res, raw.Metrics())
	if !rec.Indexable() {
		return nil, skipNoLineage
	}

	in.logger.Debug("indexed statement",
		slog.String("query_id", raw.QueryID),
		slog.Any("sources", rec.Sources),
		slog.Any("targets", rec.Targets))
	return rec, skipNone
}
