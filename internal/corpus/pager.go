package corpus

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultBatchSize is the number of records requested per page.
const DefaultBatchSize = 1000

// Window is the time range of the query history to ingest.
// Bounds are passed to the feed verbatim (ISO-8601 timestamps).
type Window struct {
	From string
	To   string
}

// BatchRequest asks the feed for one page of records.
type BatchRequest struct {
	From   string
	To     string
	Offset int
	Limit  int
}

// Batch is one page of records. ContinuationHint is set when the feed stopped
// scanning before the requested end of the window; it holds the last end time the
// feed actually covered.
type Batch struct {
	Records          []RawRecord
	ContinuationHint string
}

// Source is a paginated query history feed.
type Source interface {
	// FetchBatch returns one page of records.
	FetchBatch(ctx context.Context, req BatchRequest) (Batch, error)
	// FetchDetail returns the full record of a query whose statement was truncated.
	FetchDetail(ctx context.Context, queryID string) (RawRecord, error)
}

// PagerState is the state of the pagination state machine.
type PagerState int

const (
	// OffsetPaging advances the offset within the current window.
	OffsetPaging PagerState = iota
	// WindowAdvance narrows the window end to the feed's continuation hint.
	WindowAdvance
	// Exhausted means the feed has no further records.
	Exhausted
)

func (s PagerState) String() string {
	switch s {
	case OffsetPaging:
		return "offset_paging"
	case WindowAdvance:
		return "window_advance"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("PagerState(%d)", int(s))
	}
}

// Pager drains a Source. Within a window it pages by offset until a page comes
// back empty; it then follows the continuation hint of that empty page by
// restarting at offset zero with the window end narrowed to the hint. The feed is
// exhausted when no hint is given, when the hint equals the window start, or when
// the hint makes no progress.
type Pager struct {
	source    Source
	from      string
	windowEnd string
	offset    int
	limit     int
	state     PagerState
	hint      string
	buf       []RawRecord
	windows   int
	logger    *slog.Logger
}

// NewPager creates a pager over window. A non-positive limit uses DefaultBatchSize.
func NewPager(source Source, window Window, limit int, logger *slog.Logger) *Pager {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pager{
		source:    source,
		from:      window.From,
		windowEnd: window.To,
		limit:     limit,
		state:     OffsetPaging,
		windows:   1,
		logger:    logger,
	}
}

// Next returns the next record. The boolean is false once the feed is exhausted.
// Errors from the source are returned unchanged; the pager may be resumed by
// calling Next again, which retries the failed page.
func (p *Pager) Next(ctx context.Context) (RawRecord, bool, error) {
	for {
		if len(p.buf) > 0 {
			rec := p.buf[0]
			p.buf = p.buf[1:]
			return rec, true, nil
		}

		switch p.state {
		case OffsetPaging:
			batch, err := p.source.FetchBatch(ctx, BatchRequest{
				From:   p.from,
				To:     p.windowEnd,
				Offset: p.offset,
				Limit:  p.limit,
			})
			if err != nil {
				return RawRecord{}, false, err
			}
			if len(batch.Records) > 0 {
				p.offset += len(batch.Records)
				p.buf = batch.Records
				continue
			}
			p.hint = batch.ContinuationHint
			p.state = WindowAdvance

		case WindowAdvance:
			// A hint equal to the current window end would rescan the same window forever.
			if p.hint == "" || p.hint == p.from || p.hint == p.windowEnd {
				p.logger.Debug("query feed exhausted",
					slog.String("from", p.from),
					slog.String("to", p.windowEnd),
					slog.Int("windows", p.windows))
				p.state = Exhausted
				continue
			}
			p.logger.Info("query scan limit reached, narrowing window",
				slog.String("from", p.from),
				slog.String("previous_to", p.windowEnd),
				slog.String("to", p.hint))
			p.windowEnd = p.hint
			p.offset = 0
			p.hint = ""
			p.windows++
			p.state = OffsetPaging

		case Exhausted:
			return RawRecord{}, false, nil
		}
	}
}

// State returns the current state.
func (p *Pager) State() PagerState { return p.state }

// Offset returns the offset of the next page within the current window.
func (p *Pager) Offset() int { return p.offset }

// WindowEnd returns the end of the current window.
func (p *Pager) WindowEnd() string { return p.windowEnd }

// Windows returns how many windows have been opened so far.
func (p *Pager) Windows() int { return p.windows }
