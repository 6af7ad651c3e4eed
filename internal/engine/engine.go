// Package engine orchestrates a lineage run.
// It ingests the query history into a target index, then searches every task
// against that index with bounded parallelism.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/lineage"
	"github.com/leapstack-labs/impalineage/internal/state"
)

// DefaultParallelism is the number of concurrent searches when none is configured.
const DefaultParallelism = 4

// ErrPartialIndex is returned when the feed failed during ingestion and partial
// indexes are not allowed.
var ErrPartialIndex = errors.New("target index is incomplete")

// Engine runs ingestion and searches.
type Engine struct {
	source       corpus.Source
	analyzer     corpus.Analyzer
	window       corpus.Window
	batchSize    int
	search       lineage.Options
	parallelism  int
	allowPartial bool
	store        state.Store
	logger       *slog.Logger
	now          func() time.Time
}

// Config holds engine configuration.
type Config struct {
	// Source is the query history feed.
	Source corpus.Source
	// Analyzer overrides the statement analyzer (optional).
	Analyzer corpus.Analyzer
	// Window is the time range to ingest.
	Window corpus.Window
	// BatchSize is the page size requested from the feed.
	BatchSize int
	// Search holds the lineage search options shared by all tasks.
	Search lineage.Options
	// Parallelism bounds the number of concurrent searches.
	Parallelism int
	// AllowPartial keeps going with the records ingested before a feed failure
	// instead of failing the run. Cancellation always keeps the partial index.
	AllowPartial bool
	// Store archives finished runs (optional).
	Store state.Store
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("engine: query source is required")
	}
	strategy, err := lineage.ParseStrategy(string(cfg.Search.Strategy))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	search := cfg.Search
	search.Strategy = strategy
	if search.Logger == nil {
		search.Logger = logger
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	logger.Debug("initializing engine",
		slog.String("from", cfg.Window.From),
		slog.String("to", cfg.Window.To),
		slog.String("strategy", string(strategy)),
		slog.Int("parallelism", parallelism))

	return &Engine{
		source:       cfg.Source,
		analyzer:     cfg.Analyzer,
		window:       cfg.Window,
		batchSize:    cfg.BatchSize,
		search:       search,
		parallelism:  parallelism,
		allowPartial: cfg.AllowPartial,
		store:        cfg.Store,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Strategy returns the search strategy in use.
func (e *Engine) Strategy() lineage.Strategy { return e.search.Strategy }

// Window returns the ingestion window.
func (e *Engine) Window() corpus.Window { return e.window }
