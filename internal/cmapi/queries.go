package cmapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/leapstack-labs/impalineage/internal/corpus"
)

// ScanLimitWarning prefixes the warning the query list attaches when it stopped
// scanning before the end of the requested window.
const ScanLimitWarning = "Impala query scan limit reached. Last end time considered is"

var statementPattern = regexp.MustCompile(`(?s)Sql Statement:(.*)Coordinator:`)

type queryList struct {
	Queries  []corpus.RawRecord `json:"queries"`
	Warnings []string           `json:"warnings"`
}

type queryDetails struct {
	Details string `json:"details"`
}

var _ corpus.Source = (*Client)(nil)

// FetchBatch returns one page of the query list.
func (c *Client) FetchBatch(ctx context.Context, req corpus.BatchRequest) (corpus.Batch, error) {
	q := url.Values{}
	q.Set("filter", c.filter)
	if req.From != "" {
		q.Set("from", req.From)
	}
	if req.To != "" {
		q.Set("to", req.To)
	}
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("offset", strconv.Itoa(req.Offset))

	var resp queryList
	if err := c.getJSON(ctx, c.servicePath("impalaQueries"), q, &resp); err != nil {
		return corpus.Batch{}, err
	}

	for _, w := range resp.Warnings {
		c.logger.Debug("query list warning", slog.String("warning", w))
	}

	return corpus.Batch{
		Records:          resp.Queries,
		ContinuationHint: ContinuationHint(resp.Warnings),
	}, nil
}

// FetchDetail fetches the text profile of a query and extracts its full statement.
func (c *Client) FetchDetail(ctx context.Context, queryID string) (corpus.RawRecord, error) {
	q := url.Values{}
	q.Set("format", "text")

	var resp queryDetails
	if err := c.getJSON(ctx, c.servicePath("impalaQueries", queryID), q, &resp); err != nil {
		return corpus.RawRecord{}, err
	}

	stmt, ok := ExtractStatement(resp.Details)
	if !ok {
		return corpus.RawRecord{}, fmt.Errorf("query %s: %w: no statement in details", queryID, ErrNotFound)
	}
	return corpus.RawRecord{QueryID: queryID, Statement: stmt}, nil
}

// ContinuationHint returns the last end time reported by a scan limit warning,
// or "" when the page carried none.
func ContinuationHint(warnings []string) string {
	for _, w := range warnings {
		if strings.Contains(w, ScanLimitWarning) {
			return strings.TrimSpace(strings.Replace(w, ScanLimitWarning, "", 1))
		}
	}
	return ""
}

// ExtractStatement pulls the SQL text out of a text query profile.
func ExtractStatement(details string) (string, bool) {
	flat := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(details)
	m := statementPattern.FindStringSubmatch(flat)
	if m == nil {
		return "", false
	}
	stmt := strings.TrimSpace(m[1])
	return stmt, stmt != ""
}
