package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/impalineage/internal/report"
)

// timeLayout keeps stored timestamps lexically ordered.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dollars bool
	logger  *slog.Logger
}

// NewSQLStore wraps an open connection whose schema is already in place.
// Postgres connections need numbered placeholders.
func NewSQLStore(db *sql.DB, driver Driver, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLStore{db: db, dollars: driver == DriverPostgres, logger: logger}
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.dollars {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const insertRun = `INSERT INTO runs (id, started_at, finished_at, window_from, window_to, strategy, stats, tasks)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const insertTaskResult = `INSERT INTO task_results (run_id, position, task_id, users, max_memory_gb,
total_duration_sec, max_duration_sec, total_admission_wait_sec, max_admission_wait_sec,
total_input_bytes, total_output_bytes, max_input_bytes, max_output_bytes, file_formats,
resource_pools, resolved_sources, missing_sources, missing_tables, queries)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRun = `SELECT id, started_at, finished_at, window_from, window_to, strategy, stats, tasks FROM runs`

const selectTaskResults = `SELECT task_id, users, max_memory_gb, total_duration_sec, max_duration_sec,
total_admission_wait_sec, max_admission_wait_sec, total_input_bytes, total_output_bytes,
max_input_bytes, max_output_bytes, file_formats, resource_pools, resolved_sources,
missing_sources, missing_tables, queries
FROM task_results WHERE run_id = ? ORDER BY position`

// SaveRun stores a run and its rows in one transaction.
func (s *SQLStore) SaveRun(ctx context.Context, run Run, rows []report.Row) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(insertRun),
		run.ID,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		run.WindowFrom,
		run.WindowTo,
		run.Strategy,
		string(stats),
		len(rows),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	insert := s.rebind(insertTaskResult)
	for i, r := range rows {
		if _, err := tx.ExecContext(ctx, insert,
			run.ID, i, r.ID,
			encodeList(r.Users),
			r.MaxMemoryGB,
			r.TotalDurationSec,
			r.MaxDurationSec,
			r.TotalAdmissionWaitSec,
			r.MaxAdmissionWaitSec,
			r.TotalInputBytes,
			r.TotalOutputBytes,
			r.MaxInputBytes,
			r.MaxOutputBytes,
			encodeList(r.FileFormats),
			encodeList(r.ResourcePools),
			r.ResolvedSources,
			r.MissingSources,
			r.MissingTables,
			r.Queries,
		); err != nil {
			return fmt.Errorf("failed to insert result of task %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}
	s.logger.Debug("run archived", slog.String("run_id", run.ID), slog.Int("tasks", len(rows)))
	return nil
}

// ListRuns returns runs newest first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := selectRun + ` ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun retrieves a run by id.
func (s *SQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectRun+` WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// TaskResults returns the rows of a run.
func (s *SQLStore) TaskResults(ctx context.Context, runID string) ([]report.Row, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectTaskResults), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []report.Row
	for rows.Next() {
		var (
			r                     report.Row
			users, formats, pools string
		)
		if err := rows.Scan(
			&r.ID, &users,
			&r.MaxMemoryGB, &r.TotalDurationSec, &r.MaxDurationSec,
			&r.TotalAdmissionWaitSec, &r.MaxAdmissionWaitSec,
			&r.TotalInputBytes, &r.TotalOutputBytes, &r.MaxInputBytes, &r.MaxOutputBytes,
			&formats, &pools,
			&r.ResolvedSources, &r.MissingSources, &r.MissingTables, &r.Queries,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		if r.Users, err = decodeList(users); err != nil {
			return nil, err
		}
		if r.FileFormats, err = decodeList(formats); err != nil {
			return nil, err
		}
		if r.ResourcePools, err = decodeList(pools); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run               Run
		started, finished string
		stats             string
	)
	if err := sc.Scan(&run.ID, &started, &finished, &run.WindowFrom, &run.WindowTo,
		&run.Strategy, &stats, &run.Tasks); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	var err error
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("run %s: bad started_at: %w", run.ID, err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("run %s: bad finished_at: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, fmt.Errorf("run %s: bad stats: %w", run.ID, err)
	}
	return &run, nil
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList(s string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("failed to decode list %q: %w", s, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}
